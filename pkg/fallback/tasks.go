package fallback

import (
	"fmt"
	"math"
	"time"

	"github.com/driftkv/driftkv/pkg/kv"
)

// availabilityCheckLoop probes one target every CheckInterval. The loop
// carries the start epoch it was scheduled in; a restart strands the loop,
// and every check re-verifies the epoch before taking effect.
func (db *Database) availabilityCheckLoop(target *Target, index, startCount int, stopCh <-chan struct{}) {
	ticker := time.NewTicker(target.CheckInterval)
	defer ticker.Stop()

	for {
		db.performCheck(target, index, startCount)
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}
	}
}

// performCheck runs one availability probe for target. The probe itself runs
// off the critical section; only the resulting state edge takes the mutex.
func (db *Database) performCheck(target *Target, index, startCount int) {
	db.mu.Lock()
	if !db.started || startCount != db.startCount {
		db.mu.Unlock()
		return
	}
	db.mu.Unlock()

	available, err := target.checkAvailability()
	if err != nil {
		db.log.Debug("availability check failed", "target", index, "error", err)
		available = false
	}
	db.metrics.RecordAvailabilityCheck(index, available)

	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.started || startCount != db.startCount {
		return
	}

	// A timestamp this old can no longer be compared against "now"; treat
	// it as infinitely old.
	if target.lastChangeTimestamp != nil && target.lastChangeTimestamp.IsRolloverDanger() {
		target.lastChangeTimestamp = nil
	}

	if available == target.available {
		return
	}

	db.log.Info("fallback target availability changed", "target", index, "available", available)
	target.available = available
	now := Now()
	target.lastChangeTimestamp = &now
	db.metrics.SetTargetAvailable(index, available)
	db.kickMigrationCheckLocked()
}

// kickMigrationCheckLocked requests an immediate migration check. Rapid
// successive edges are coalesced by the rate limiter and the buffered
// channel; the periodic cadence picks up anything dropped here.
func (db *Database) kickMigrationCheckLocked() {
	if db.kick == nil || !db.edgeLimiter.Allow() {
		return
	}
	select {
	case db.kick <- struct{}{}:
	default:
	}
}

// migrationCheckLoop runs the migration check at a fixed cadence and on
// probe-edge kicks.
func (db *Database) migrationCheckLoop(startCount int, stopCh <-chan struct{}, kick <-chan struct{}) {
	ticker := time.NewTicker(db.migrationCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		case <-kick:
		}
		db.checkMigration(startCount)
	}
}

// checkMigration selects the best target under the mutex and, if it differs
// from the current one, performs the migration outside the mutex so
// application transactions on the current backend keep serving.
func (db *Database) checkMigration(startCount int) {
	var (
		currIndex, bestIndex   int
		currTarget, bestTarget *Target
		lastActiveTime         *time.Time
	)

	db.mu.Lock()
	if !db.started || startCount != db.startCount || db.migrating {
		db.mu.Unlock()
		return
	}

	// Scan from the most preferred target downward for the first one that
	// passes the hysteresis-adjusted availability check.
	bestIndex = len(db.targets) - 1
	for bestIndex >= 0 {
		target := db.targets[bestIndex]

		// Only the target currently in use was considered available at the
		// last decision; every other target must satisfy its dwell time.
		previousAvailable := bestIndex == db.currentTargetIndex
		currentAvailable := target.available
		timeSinceChange := int64(math.MaxInt64)
		if target.lastChangeTimestamp != nil {
			timeSinceChange = -int64(target.lastChangeTimestamp.OffsetFromNow())
		}
		var hysteresisAvailable bool
		if currentAvailable {
			hysteresisAvailable = previousAvailable || timeSinceChange >= target.MinAvailableTime.Milliseconds()
		} else {
			hysteresisAvailable = previousAvailable && timeSinceChange < target.MinUnavailableTime.Milliseconds()
		}

		if hysteresisAvailable {
			break
		}
		bestIndex--
	}

	currIndex = db.currentTargetIndex
	if currIndex == bestIndex {
		db.mu.Unlock()
		return
	}

	if currIndex != -1 {
		currTarget = db.targets[currIndex]
	}
	if bestIndex != -1 {
		bestTarget = db.targets[bestIndex]
		lastActiveTime = bestTarget.LastActiveTime()
	} else if db.lastStandaloneActiveTime != nil {
		t := *db.lastStandaloneActiveTime
		lastActiveTime = &t
	}

	db.migrating = true
	db.mu.Unlock()

	desc := migrationDesc(currIndex, bestIndex)
	begin := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return db.executeMigration(currIndex, bestIndex, currTarget, bestTarget, lastActiveTime)
	}()

	switch {
	case err == nil:
		db.log.Info(desc+" succeeded", "elapsed", time.Since(begin))
		db.metrics.RecordMigration(currIndex, bestIndex, "success", time.Since(begin))
	case kv.IsRetryable(err):
		db.log.Info(desc+" failed (will try again later)", "error", err)
		db.metrics.RecordMigration(currIndex, bestIndex, "retry", time.Since(begin))
	default:
		db.log.Error(desc+" failed", "error", err)
		db.metrics.RecordMigration(currIndex, bestIndex, "error", time.Since(begin))
	}

	db.mu.Lock()
	db.migrating = false
	db.cond.Broadcast()
	var rec *stateRecord
	stateFile := db.stateFile
	if db.started && startCount == db.startCount {
		rec = db.snapshotStateLocked()
	}
	db.mu.Unlock()

	if rec != nil {
		if err := writeStateFile(stateFile, rec); err != nil {
			db.log.Error("error writing state file", "file", stateFile, "error", err)
		}
	}
}

// executeMigration merges data from the outgoing backend into the incoming
// one and, on success, atomically redirects new transactions. The caller
// owns the migrating flag.
func (db *Database) executeMigration(currIndex, bestIndex int, currTarget, bestTarget *Target, lastActiveTime *time.Time) error {
	var currKV, bestKV kv.Database
	if currTarget != nil {
		currKV = currTarget.KV
	} else {
		currKV = db.standaloneKV
	}
	if bestTarget != nil {
		bestKV = bestTarget.KV
	} else {
		bestKV = db.standaloneKV
	}

	// Migrating down uses the outgoing target's unavailable strategy;
	// migrating up uses the incoming target's rejoin strategy.
	var mergeStrategy MergeStrategy
	if bestIndex < currIndex {
		mergeStrategy = currTarget.UnavailableMergeStrategy
	} else {
		mergeStrategy = bestTarget.RejoinMergeStrategy
	}

	db.log.Info("starting "+migrationDesc(currIndex, bestIndex), "strategy", mergeStrategy.String())

	// The combination of eventual-committed and read-only is what lets the
	// facade leave an unreachable cluster: committing such a transaction
	// generates no network traffic and requires no quorum.
	var src kv.Transaction
	var err error
	if currTarget != nil {
		src, err = currTarget.KV.CreateTransactionWithConsistency(kv.EventualCommitted)
		if err != nil {
			return err
		}
		src.SetReadOnly(true)
	} else {
		src, err = currKV.CreateTransaction()
		if err != nil {
			return err
		}
	}
	srcCommitted := false
	defer func() {
		if !srcCommitted {
			_ = src.Rollback()
		}
	}()

	dst, err := bestKV.CreateTransaction()
	if err != nil {
		return err
	}
	dstCommitted := false
	defer func() {
		if !dstCommitted {
			_ = dst.Rollback()
		}
	}()

	currentTime := time.Now()

	if err := mergeStrategy.Merge(src, dst, lastActiveTime); err != nil {
		return err
	}

	if err := src.Commit(); err != nil {
		return err
	}
	srcCommitted = true
	if err := dst.Commit(); err != nil {
		return err
	}
	dstCommitted = true

	// Redirect new transactions. The standalone side is stamped both when
	// it is left and when it becomes active.
	db.mu.Lock()
	if currTarget != nil {
		currTarget.lastActiveTime = &currentTime
	}
	if currTarget == nil || bestTarget == nil {
		db.lastStandaloneActiveTime = &currentTime
	}
	db.currentTargetIndex = bestIndex
	db.migrationCount++
	db.metrics.SetActiveTarget(bestIndex)
	db.mu.Unlock()

	return nil
}

func migrationDesc(from, to int) string {
	return fmt.Sprintf("migration from %s to %s", targetDesc(from), targetDesc(to))
}

func targetDesc(index int) string {
	if index == -1 {
		return "standalone database"
	}
	return fmt.Sprintf("fallback target #%d", index)
}
