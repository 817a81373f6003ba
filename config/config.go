// Package config provides configuration management for driftkv.
package config

import (
	"time"
)

// Config is the global configuration for driftkv.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Standalone is the local backend used when every clustered target is
	// unavailable.
	Standalone StandaloneConfig `mapstructure:"standalone"`

	// Fallback is the facade configuration.
	Fallback FallbackConfig `mapstructure:"fallback" validate:"required"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"env"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum level to emit.
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output encoding.
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is "stdout", "stderr", or a file path.
	Output string `mapstructure:"output"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	// Enabled enables Prometheus metrics collection.
	Enabled bool `mapstructure:"enabled"`
}

// StandaloneConfig selects and configures the standalone backend.
type StandaloneConfig struct {
	// Backend is the standalone store implementation.
	Backend string `mapstructure:"backend" validate:"oneof=memory badger redis"`

	// Badger configures the badger backend.
	Badger BadgerConfig `mapstructure:"badger"`

	// Redis configures the redis backend.
	Redis RedisConfig `mapstructure:"redis"`
}

// BadgerConfig holds badger backend settings.
type BadgerConfig struct {
	// Path is the data directory.
	Path string `mapstructure:"path"`

	// InMemory disables persistence.
	InMemory bool `mapstructure:"in_memory"`

	// SyncWrites makes every write durable before acknowledging.
	SyncWrites bool `mapstructure:"sync_writes"`

	// ValueLogFileSize caps the value log segment size in bytes.
	ValueLogFileSize int64 `mapstructure:"value_log_file_size" validate:"min=0"`
}

// RedisConfig holds redis backend settings.
type RedisConfig struct {
	// Addr is the host:port of the redis server.
	Addr string `mapstructure:"addr"`

	// Password authenticates the connection, if set.
	Password string `mapstructure:"password"`

	// DB is the redis logical database number.
	DB int `mapstructure:"db" validate:"min=0"`

	// KeyPrefix namespaces all keys.
	KeyPrefix string `mapstructure:"key_prefix"`
}

// FallbackConfig holds the facade configuration.
type FallbackConfig struct {
	// StateFile is the path of the persistent controller state file.
	StateFile string `mapstructure:"state_file" validate:"required"`

	// Targets are the clustered backends in order of increasing
	// preference.
	Targets []TargetConfig `mapstructure:"targets" validate:"required,min=1,dive"`
}

// TargetConfig configures one clustered fallback target. The backend itself
// is supplied by the caller at Build time; a config file cannot construct a
// cluster connection.
type TargetConfig struct {
	// Name identifies the target within the configuration. Build does not
	// pass it to the facade, whose logs refer to targets by index.
	Name string `mapstructure:"name"`

	// CheckInterval is how often the availability probe runs.
	CheckInterval time.Duration `mapstructure:"check_interval" validate:"min=0"`

	// TransactionTimeout bounds the availability probe transaction.
	TransactionTimeout time.Duration `mapstructure:"transaction_timeout" validate:"min=0"`

	// MinAvailableTime is the rejoin hysteresis dwell.
	MinAvailableTime time.Duration `mapstructure:"min_available_time" validate:"min=0"`

	// MinUnavailableTime is the fallback hysteresis dwell.
	MinUnavailableTime time.Duration `mapstructure:"min_unavailable_time" validate:"min=0"`

	// RejoinMerge names the strategy used when migrating toward this
	// target ("overwrite" or "none").
	RejoinMerge string `mapstructure:"rejoin_merge" validate:"omitempty,oneof=overwrite none"`

	// UnavailableMerge names the strategy used when migrating away from
	// this target ("overwrite" or "none").
	UnavailableMerge string `mapstructure:"unavailable_merge" validate:"omitempty,oneof=overwrite none"`
}
