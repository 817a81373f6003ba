package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherRequiresPath(t *testing.T) {
	_, err := NewWatcher("")
	require.Error(t, err)
}

func TestWatcherDetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0644))

	w, err := NewWatcher(path, WithDebounce(50*time.Millisecond))
	require.NoError(t, err)
	defer w.Stop()

	var reloads atomic.Int32
	levelCh := make(chan string, 4)
	w.OnChange(func(cfg *Config) {
		reloads.Add(1)
		levelCh <- cfg.Log.Level
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = w.Watch(ctx)
	}()

	// Give the watcher time to register the file.
	require.Eventually(t, w.IsRunning, time.Second, 10*time.Millisecond)

	updated := minimalYAML + "\nlog:\n  level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0644))

	select {
	case level := <-levelCh:
		require.Equal(t, "debug", level)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload callback")
	}
}

func TestWatcherIgnoresInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0644))

	w, err := NewWatcher(path, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	defer w.Stop()

	var reloads atomic.Int32
	w.OnChange(func(cfg *Config) {
		reloads.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = w.Watch(ctx)
	}()
	require.Eventually(t, w.IsRunning, time.Second, 10*time.Millisecond)

	// A config that fails validation must not reach callbacks.
	require.NoError(t, os.WriteFile(path, []byte("fallback:\n  targets: []\n"), 0644))
	time.Sleep(300 * time.Millisecond)
	require.Equal(t, int32(0), reloads.Load())
}

func TestWatcherStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0644))

	w, err := NewWatcher(path)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- w.Watch(context.Background())
	}()
	require.Eventually(t, w.IsRunning, time.Second, 10*time.Millisecond)

	require.NoError(t, w.Stop())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}

	// Stop is idempotent.
	require.NoError(t, w.Stop())
}

func TestHotReloadableChanged(t *testing.T) {
	a := HotReloadableConfig{LogLevel: "info", LogFormat: "text"}
	b := HotReloadableConfig{LogLevel: "debug", LogFormat: "text"}
	require.True(t, a.Changed(b))
	require.False(t, a.Changed(a))
}
