package fallback

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/driftkv/driftkv/pkg/kv"
	"github.com/driftkv/driftkv/pkg/logger"
	"github.com/driftkv/driftkv/pkg/version"
)

// DefaultMigrationCheckInterval is the cadence of the periodic migration
// check. Probe edges additionally trigger immediate checks; correctness
// relies only on the periodic cadence.
const DefaultMigrationCheckInterval = 1000 * time.Millisecond

// Database is the partition-tolerant key/value facade. It routes new
// transactions to the currently active backend: the most preferred clustered
// target that passes the hysteresis-adjusted availability check, or the
// standalone backend when none does. A single mutex guards all mutable
// state; exactly one migration runs at a time.
type Database struct {
	mu   sync.Mutex
	cond *sync.Cond

	// Configured state, immutable once started.
	stateFile    string
	standaloneKV kv.Database
	targets      []*Target

	log                    logger.Logger
	metrics                MetricsRecorder
	migrationCheckInterval time.Duration

	// Runtime state, guarded by mu.
	started                  bool
	startCount               int
	migrating                bool
	migrationCount           int
	currentTargetIndex       int
	lastStandaloneActiveTime *time.Time
	stopCh                   chan struct{}
	kick                     chan struct{}

	// Bounds how often probe edges enqueue immediate migration checks;
	// coalesced edges are picked up by the periodic cadence.
	edgeLimiter *rate.Limiter
}

// New creates an unconfigured facade. Configure it with SetStateFile,
// SetStandaloneTarget, and SetFallbackTargets, then Start it.
func New() *Database {
	db := &Database{
		log:                    logger.Global().With("component", "fallback"),
		metrics:                nopMetrics{},
		migrationCheckInterval: DefaultMigrationCheckInterval,
		edgeLimiter:            rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}
	db.cond = sync.NewCond(&db.mu)
	return db
}

// StateFile returns the configured persistent state file path.
func (db *Database) StateFile() string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.stateFile
}

// SetStateFile configures the persistent state file path. Required.
func (db *Database) SetStateFile(path string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.started {
		return &kv.AlreadyStartedError{Op: "SetStateFile"}
	}
	if path == "" {
		return &kv.ConfigError{Field: "stateFile", Message: "empty path"}
	}
	db.stateFile = path
	return nil
}

// StandaloneTarget returns the configured standalone backend.
func (db *Database) StandaloneTarget() kv.Database {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.standaloneKV
}

// SetStandaloneTarget configures the local backend used when every
// clustered target is unavailable. Required.
func (db *Database) SetStandaloneTarget(standalone kv.Database) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.started {
		return &kv.AlreadyStartedError{Op: "SetStandaloneTarget"}
	}
	if standalone == nil {
		return &kv.ConfigError{Field: "standaloneTarget", Message: "nil database"}
	}
	db.standaloneKV = standalone
	return nil
}

// SetFallbackTarget configures a single clustered target.
func (db *Database) SetFallbackTarget(target *Target) error {
	return db.SetFallbackTargets([]*Target{target})
}

// SetFallbackTargets configures the clustered targets in order of
// increasing preference. The targets are cloned; later mutations of the
// caller's values have no effect.
func (db *Database) SetFallbackTargets(targets []*Target) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.started {
		return &kv.AlreadyStartedError{Op: "SetFallbackTargets"}
	}
	if len(targets) == 0 {
		return &kv.ConfigError{Field: "fallbackTargets", Message: "empty target list"}
	}
	cloned := make([]*Target, len(targets))
	for i, target := range targets {
		if target == nil {
			return &kv.ConfigError{Field: "fallbackTargets", Message: fmt.Sprintf("nil target at index %d", i)}
		}
		if target.KV == nil {
			return &kv.ConfigError{Field: "fallbackTargets", Message: fmt.Sprintf("target %d has no database configured", i)}
		}
		clone := target.Clone()
		clone.applyDefaults()
		cloned[i] = clone
	}
	db.targets = cloned
	return nil
}

// FallbackTarget returns a snapshot of the most preferred target, or nil if
// none are configured.
func (db *Database) FallbackTarget() *Target {
	db.mu.Lock()
	defer db.mu.Unlock()
	if len(db.targets) == 0 {
		return nil
	}
	return db.targets[len(db.targets)-1].Clone()
}

// FallbackTargets returns a snapshot of the configured targets in order of
// increasing preference.
func (db *Database) FallbackTargets() []*Target {
	db.mu.Lock()
	defer db.mu.Unlock()
	result := make([]*Target, len(db.targets))
	for i, target := range db.targets {
		result[i] = target.Clone()
	}
	return result
}

// SetLogger replaces the facade's logger.
func (db *Database) SetLogger(log logger.Logger) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.started {
		return &kv.AlreadyStartedError{Op: "SetLogger"}
	}
	if log != nil {
		db.log = log
	}
	return nil
}

// SetMetrics configures a metrics recorder.
func (db *Database) SetMetrics(rec MetricsRecorder) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.started {
		return &kv.AlreadyStartedError{Op: "SetMetrics"}
	}
	if rec != nil {
		db.metrics = rec
	}
	return nil
}

// CurrentTargetIndex returns the index of the currently active backend in
// the target list, or -1 for the standalone backend.
func (db *Database) CurrentTargetIndex() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.currentTargetIndex
}

// MaximumTargetIndex returns the index of the most preferred target.
func (db *Database) MaximumTargetIndex() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.targets) - 1
}

// LastStandaloneActiveTime returns the last time the standalone backend was
// active, or nil if never.
func (db *Database) LastStandaloneActiveTime() *time.Time {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.lastStandaloneActiveTime == nil {
		return nil
	}
	t := *db.lastStandaloneActiveTime
	return &t
}

// Start validates the configuration, starts all backends, schedules the
// availability probes and the periodic migration check, and restores the
// persisted active index if a state file is present. Idempotent.
func (db *Database) Start() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.started {
		return nil
	}
	db.startCount++

	if db.stateFile == "" {
		return &kv.ConfigError{Field: "stateFile", Message: "no state file configured"}
	}
	if db.standaloneKV == nil {
		return &kv.ConfigError{Field: "standaloneTarget", Message: "no standalone database configured"}
	}
	if len(db.targets) == 0 {
		return &kv.ConfigError{Field: "fallbackTargets", Message: "no targets configured"}
	}

	ok := false
	defer func() {
		if !ok {
			db.cleanupLocked()
		}
	}()

	db.log.Debug("starting fallback database", "targets", len(db.targets))

	if err := db.standaloneKV.Start(); err != nil {
		return fmt.Errorf("starting standalone database: %w", err)
	}
	for i, target := range db.targets {
		if err := target.KV.Start(); err != nil {
			return fmt.Errorf("starting fallback target #%d: %w", i, err)
		}
	}

	// Targets begin optimistically available; the probes correct this
	// within one check interval.
	for _, target := range db.targets {
		target.available = true
		target.lastChangeTimestamp = nil
	}
	db.currentTargetIndex = len(db.targets) - 1
	db.migrationCount = 0

	if _, err := os.Stat(db.stateFile); err == nil {
		if err := db.readStateLocked(); err != nil {
			return fmt.Errorf("reading persistent state file %s: %w", db.stateFile, err)
		}
	}

	db.stopCh = make(chan struct{})
	db.kick = make(chan struct{}, 1)
	for i, target := range db.targets {
		go db.availabilityCheckLoop(target, i, db.startCount, db.stopCh)
	}
	go db.migrationCheckLoop(db.startCount, db.stopCh, db.kick)

	db.started = true
	ok = true
	db.metrics.SetActiveTarget(db.currentTargetIndex)
	db.log.Info("fallback database started",
		"targets", len(db.targets),
		"active_index", db.currentTargetIndex,
		"version", version.Version,
	)
	return nil
}

// Stop shuts the facade down: waits for any in-flight migration, cancels
// the scheduled probes and checks, and stops all backends. Idempotent.
func (db *Database) Stop() {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.started {
		return
	}
	db.cleanupLocked()
}

// cleanupLocked tears the runtime down. Caller holds db.mu.
func (db *Database) cleanupLocked() {
	db.log.Debug("shutting down fallback database")

	if db.migrating {
		db.log.Debug("waiting for in-flight migration before shutdown")
		for db.migrating {
			db.cond.Wait()
			if !db.started {
				// Lost a race with a concurrent Stop that finished first.
				return
			}
		}
	}

	for _, target := range db.targets {
		target.available = false
		target.lastChangeTimestamp = nil
	}

	if db.stopCh != nil {
		close(db.stopCh)
		db.stopCh = nil
		db.kick = nil
	}

	for i, target := range db.targets {
		if err := target.KV.Stop(); err != nil {
			db.log.Warn("error stopping fallback target (ignoring)", "target", i, "error", err)
		}
	}
	if db.standaloneKV != nil {
		if err := db.standaloneKV.Stop(); err != nil {
			db.log.Warn("error stopping standalone database (ignoring)", "error", err)
		}
	}

	db.started = false
}

// CreateTransaction opens a transaction on the currently active backend and
// wraps it so a commit crossing a migration fails with a retry-class error.
func (db *Database) CreateTransaction() (*Transaction, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.started {
		return nil, &kv.NotStartedError{Op: "CreateTransaction"}
	}

	// Opened under the mutex so the transaction is unambiguously bound to
	// one backend: the index swap and migrationCount increment at the end
	// of a migration hold the same mutex.
	var currentKV kv.Database
	if db.currentTargetIndex == -1 {
		currentKV = db.standaloneKV
	} else {
		currentKV = db.targets[db.currentTargetIndex].KV
	}
	tx, err := currentKV.CreateTransaction()
	if err != nil {
		return nil, err
	}

	return &Transaction{
		db:             db,
		tx:             tx,
		migrationCount: db.migrationCount,
		id:             uuid.NewString(),
	}, nil
}

// CreateTransactionWithOptions opens a transaction. No options are defined
// yet; the map is accepted for forward compatibility and ignored.
func (db *Database) CreateTransactionWithOptions(_ map[string]any) (*Transaction, error) {
	return db.CreateTransaction()
}

func (db *Database) currentMigrationCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.migrationCount
}

// readStateLocked applies the persisted state file. Caller holds db.mu.
func (db *Database) readStateLocked() error {
	rec, err := readStateFile(db.stateFile)
	if err != nil {
		return err
	}
	if int(rec.targetCount) != len(db.targets) {
		db.log.Warn("state file target count differs from configuration, assuming configuration change and ignoring file",
			"file", db.stateFile,
			"file_targets", rec.targetCount,
			"configured_targets", len(db.targets),
		)
		return nil
	}

	db.currentTargetIndex = int(rec.activeIndex)
	db.lastStandaloneActiveTime = msToTime(rec.standaloneActiveMS)
	for i, target := range db.targets {
		target.lastActiveTime = msToTime(rec.targetActiveMS[i])
	}
	return nil
}

// snapshotStateLocked captures the persistent record. Caller holds db.mu.
func (db *Database) snapshotStateLocked() *stateRecord {
	rec := newStateRecord(len(db.targets))
	rec.activeIndex = int32(db.currentTargetIndex)
	rec.standaloneActiveMS = timeToMS(db.lastStandaloneActiveTime)
	for i, target := range db.targets {
		rec.targetActiveMS[i] = timeToMS(target.lastActiveTime)
	}
	return rec
}
