package config

import (
	"fmt"

	"github.com/driftkv/driftkv/pkg/fallback"
	"github.com/driftkv/driftkv/pkg/kv"
	"github.com/driftkv/driftkv/pkg/kv/badgerkv"
	"github.com/driftkv/driftkv/pkg/kv/memory"
	"github.com/driftkv/driftkv/pkg/kv/rediskv"
	"github.com/driftkv/driftkv/pkg/logger"
	"github.com/driftkv/driftkv/pkg/metrics"
)

// Build wires a validated Config and the caller-supplied clustered backends
// into a configured, not-yet-started fallback.Database. The clustered
// backends are paired positionally with cfg.Fallback.Targets; cluster
// connections cannot be constructed from configuration alone.
func Build(cfg *Config, clustered []kv.ClusteredDatabase) (*fallback.Database, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if len(clustered) != len(cfg.Fallback.Targets) {
		return nil, fmt.Errorf("configured %d targets but %d clustered backends supplied",
			len(cfg.Fallback.Targets), len(clustered))
	}

	db := fallback.New()

	log := logger.New(&logger.Config{
		Level:  logLevel(cfg),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err := db.SetLogger(log.With("component", "fallback")); err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		if err := db.SetMetrics(metrics.NewManager(metrics.DefaultConfig())); err != nil {
			return nil, err
		}
	}

	if err := db.SetStateFile(cfg.Fallback.StateFile); err != nil {
		return nil, err
	}
	if err := db.SetStandaloneTarget(newStandalone(cfg.Standalone)); err != nil {
		return nil, err
	}

	targets := make([]*fallback.Target, len(cfg.Fallback.Targets))
	for i, tc := range cfg.Fallback.Targets {
		rejoin, err := parseMergeStrategy(tc.RejoinMerge)
		if err != nil {
			return nil, fmt.Errorf("target %d rejoin_merge: %w", i, err)
		}
		unavailable, err := parseMergeStrategy(tc.UnavailableMerge)
		if err != nil {
			return nil, fmt.Errorf("target %d unavailable_merge: %w", i, err)
		}
		targets[i] = &fallback.Target{
			KV:                       clustered[i],
			CheckInterval:            tc.CheckInterval,
			TransactionTimeout:       tc.TransactionTimeout,
			MinAvailableTime:         tc.MinAvailableTime,
			MinUnavailableTime:       tc.MinUnavailableTime,
			RejoinMergeStrategy:      rejoin,
			UnavailableMergeStrategy: unavailable,
		}
	}
	if err := db.SetFallbackTargets(targets); err != nil {
		return nil, err
	}

	return db, nil
}

func logLevel(cfg *Config) logger.Level {
	if cfg.App.Debug {
		return logger.DebugLevel
	}
	return logger.ParseLevel(cfg.Log.Level)
}

// newStandalone constructs the standalone backend from configuration.
func newStandalone(cfg StandaloneConfig) kv.Database {
	switch cfg.Backend {
	case "badger":
		return badgerkv.New(badgerkv.Config{
			Path:             cfg.Badger.Path,
			InMemory:         cfg.Badger.InMemory,
			SyncWrites:       cfg.Badger.SyncWrites,
			ValueLogFileSize: cfg.Badger.ValueLogFileSize,
		})
	case "redis":
		return rediskv.New(rediskv.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
	default:
		return memory.New()
	}
}

// parseMergeStrategy maps a config name to a strategy. The empty string
// selects the overwrite default.
func parseMergeStrategy(name string) (fallback.MergeStrategy, error) {
	switch name {
	case "", "overwrite":
		return fallback.OverwriteMergeStrategy{}, nil
	case "none":
		return fallback.NullMergeStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown merge strategy %q", name)
	}
}
