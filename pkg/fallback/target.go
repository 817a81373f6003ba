package fallback

import (
	"fmt"
	"time"

	"github.com/driftkv/driftkv/pkg/kv"
)

// Default values applied by Database.SetFallbackTargets for zero-valued
// Target fields.
const (
	DefaultCheckInterval      = 500 * time.Millisecond
	DefaultTransactionTimeout = 1 * time.Second
	DefaultMinAvailableTime   = 10 * time.Second
	DefaultMinUnavailableTime = 30 * time.Second
)

// Target is one clustered backend the facade can migrate to, together with
// its probing and hysteresis configuration. Targets are handed to
// Database.SetFallbackTargets in order of increasing preference.
//
// The runtime fields are owned by the facade and guarded by its mutex;
// snapshots returned from Database.FallbackTargets carry copies.
type Target struct {
	// KV is the clustered backend. Required.
	KV kv.ClusteredDatabase

	// CheckInterval is how often the availability probe runs.
	CheckInterval time.Duration

	// TransactionTimeout bounds the default availability probe; a probe
	// transaction taking longer counts as unavailable.
	TransactionTimeout time.Duration

	// MinAvailableTime is how long the target must be continuously
	// available before the facade migrates onto it.
	MinAvailableTime time.Duration

	// MinUnavailableTime is how long the target must be continuously
	// unavailable before the facade migrates off of it.
	MinUnavailableTime time.Duration

	// RejoinMergeStrategy is used when migrating toward this target from a
	// less preferred backend.
	RejoinMergeStrategy MergeStrategy

	// UnavailableMergeStrategy is used when migrating away from this
	// target to a less preferred backend.
	UnavailableMergeStrategy MergeStrategy

	// CheckAvailability overrides the default probe when non-nil.
	CheckAvailability func() (bool, error)

	// Runtime state, guarded by the facade mutex.
	available           bool
	lastChangeTimestamp *Timestamp
	lastActiveTime      *time.Time
}

// Available reports the target's availability as of the most recent probe.
// Only meaningful on snapshots returned from Database.FallbackTargets or
// while the facade is stopped.
func (t *Target) Available() bool {
	return t.available
}

// LastActiveTime returns the last wall-clock time this target was the active
// backend, or nil if never.
func (t *Target) LastActiveTime() *time.Time {
	if t.lastActiveTime == nil {
		return nil
	}
	ts := *t.lastActiveTime
	return &ts
}

// Clone returns a deep copy of the target, including the runtime snapshot.
func (t *Target) Clone() *Target {
	clone := *t
	if t.lastChangeTimestamp != nil {
		ts := *t.lastChangeTimestamp
		clone.lastChangeTimestamp = &ts
	}
	if t.lastActiveTime != nil {
		at := *t.lastActiveTime
		clone.lastActiveTime = &at
	}
	return &clone
}

// applyDefaults fills zero-valued configuration fields.
func (t *Target) applyDefaults() {
	if t.CheckInterval <= 0 {
		t.CheckInterval = DefaultCheckInterval
	}
	if t.TransactionTimeout <= 0 {
		t.TransactionTimeout = DefaultTransactionTimeout
	}
	if t.MinAvailableTime <= 0 {
		t.MinAvailableTime = DefaultMinAvailableTime
	}
	if t.MinUnavailableTime <= 0 {
		t.MinUnavailableTime = DefaultMinUnavailableTime
	}
	if t.RejoinMergeStrategy == nil {
		t.RejoinMergeStrategy = OverwriteMergeStrategy{}
	}
	if t.UnavailableMergeStrategy == nil {
		t.UnavailableMergeStrategy = OverwriteMergeStrategy{}
	}
}

// checkAvailability runs the configured probe, or the default: open a
// transaction, read a probe key, and commit, requiring the whole round trip
// to finish within TransactionTimeout.
func (t *Target) checkAvailability() (bool, error) {
	if t.CheckAvailability != nil {
		return t.CheckAvailability()
	}

	start := time.Now()
	tx, err := t.KV.CreateTransaction()
	if err != nil {
		return false, err
	}
	if _, _, err := tx.Get([]byte{0}); err != nil {
		_ = tx.Rollback()
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	if elapsed := time.Since(start); elapsed > t.TransactionTimeout {
		return false, fmt.Errorf("availability probe took %s (limit %s)", elapsed, t.TransactionTimeout)
	}
	return true, nil
}
