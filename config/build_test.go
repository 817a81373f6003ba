package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftkv/driftkv/pkg/fallback"
	"github.com/driftkv/driftkv/pkg/kv"
	"github.com/driftkv/driftkv/pkg/kv/memory"
)

func buildableConfig(t *testing.T) Config {
	t.Helper()
	cfg := validConfig()
	cfg.Standalone.Backend = "memory"
	cfg.Fallback.StateFile = filepath.Join(t.TempDir(), "state.bin")
	cfg.Fallback.Targets = []TargetConfig{
		{
			Name:               "cluster-a",
			CheckInterval:      100 * time.Millisecond,
			MinAvailableTime:   time.Second,
			MinUnavailableTime: 2 * time.Second,
			RejoinMerge:        "overwrite",
			UnavailableMerge:   "none",
		},
	}
	return cfg
}

func TestBuildWiresFacade(t *testing.T) {
	cfg := buildableConfig(t)

	db, err := Build(&cfg, []kv.ClusteredDatabase{memory.NewClustered("cluster-a")})
	require.NoError(t, err)

	require.Equal(t, cfg.Fallback.StateFile, db.StateFile())
	require.NotNil(t, db.StandaloneTarget())

	targets := db.FallbackTargets()
	require.Len(t, targets, 1)
	require.Equal(t, 100*time.Millisecond, targets[0].CheckInterval)
	require.Equal(t, time.Second, targets[0].MinAvailableTime)
	require.Equal(t, "overwrite", targets[0].RejoinMergeStrategy.String())
	require.Equal(t, "none", targets[0].UnavailableMergeStrategy.String())

	require.NoError(t, db.Start())
	defer db.Stop()
	require.Equal(t, 0, db.CurrentTargetIndex())

	tx, err := db.CreateTransaction()
	require.NoError(t, err)
	require.NoError(t, tx.Set([]byte("k"), []byte("v")))
	require.NoError(t, tx.Commit())
}

func TestBuildTargetCountMismatch(t *testing.T) {
	cfg := buildableConfig(t)

	_, err := Build(&cfg, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "clustered backends supplied")
}

func TestBuildDefaultsMergeStrategies(t *testing.T) {
	cfg := buildableConfig(t)
	cfg.Fallback.Targets[0].RejoinMerge = ""
	cfg.Fallback.Targets[0].UnavailableMerge = ""

	db, err := Build(&cfg, []kv.ClusteredDatabase{memory.NewClustered("cluster-a")})
	require.NoError(t, err)

	targets := db.FallbackTargets()
	require.IsType(t, fallback.OverwriteMergeStrategy{}, targets[0].RejoinMergeStrategy)
	require.IsType(t, fallback.OverwriteMergeStrategy{}, targets[0].UnavailableMergeStrategy)
}

func TestBuildNilConfig(t *testing.T) {
	_, err := Build(nil, nil)
	require.Error(t, err)
}
