package config

// DefaultConfig returns the built-in defaults. Fallback targets have no
// default; at least one must come from a file, environment, or overrides.
func DefaultConfig() Config {
	return Config{
		App: AppConfig{
			Name:        "driftkv",
			Environment: "development",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Standalone: StandaloneConfig{
			Backend: "badger",
			Badger: BadgerConfig{
				Path:             "data/standalone",
				ValueLogFileSize: 1 << 28,
			},
			Redis: RedisConfig{
				Addr:      "127.0.0.1:6379",
				KeyPrefix: "driftkv:",
			},
		},
	}
}

// defaultsMap flattens the defaults into koanf keys.
func defaultsMap() map[string]interface{} {
	d := DefaultConfig()
	return map[string]interface{}{
		"app.name":                              d.App.Name,
		"app.environment":                       d.App.Environment,
		"app.debug":                             d.App.Debug,
		"log.level":                             d.Log.Level,
		"log.format":                            d.Log.Format,
		"log.output":                            d.Log.Output,
		"metrics.enabled":                       d.Metrics.Enabled,
		"standalone.backend":                    d.Standalone.Backend,
		"standalone.badger.path":                d.Standalone.Badger.Path,
		"standalone.badger.in_memory":           d.Standalone.Badger.InMemory,
		"standalone.badger.sync_writes":         d.Standalone.Badger.SyncWrites,
		"standalone.badger.value_log_file_size": d.Standalone.Badger.ValueLogFileSize,
		"standalone.redis.addr":                 d.Standalone.Redis.Addr,
		"standalone.redis.password":             d.Standalone.Redis.Password,
		"standalone.redis.db":                   d.Standalone.Redis.DB,
		"standalone.redis.key_prefix":           d.Standalone.Redis.KeyPrefix,
	}
}
