// Package memory provides an in-memory implementation of the kv interfaces.
package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/driftkv/driftkv/pkg/kv"
)

// DB implements kv.Database using in-memory maps. Transactions use a
// read-version check at commit: the first committer wins and later
// conflicting commits fail with a kv.RetryableError.
type DB struct {
	mu       sync.RWMutex
	started  bool
	data     map[string][]byte
	versions map[string]uint64
	commits  uint64
}

// New creates a new in-memory database.
func New() *DB {
	return &DB{
		data:     make(map[string][]byte),
		versions: make(map[string]uint64),
	}
}

// Start makes the database ready to create transactions.
func (db *DB) Start() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.started = true
	return nil
}

// Stop releases the database. Data is retained so a restart sees the same
// contents, mirroring a persistent store across process lifecycles.
func (db *DB) Stop() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.started = false
	return nil
}

// CreateTransaction opens a new read-write transaction.
func (db *DB) CreateTransaction() (kv.Transaction, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if !db.started {
		return nil, &kv.NotStartedError{Op: "CreateTransaction"}
	}
	return &transaction{
		db:     db,
		reads:  make(map[string]uint64),
		writes: make(map[string][]byte),
	}, nil
}

// Len returns the number of committed keys.
func (db *DB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.data)
}

type transaction struct {
	db       *DB
	reads    map[string]uint64
	writes   map[string][]byte // nil value marks a delete
	cleared  bool
	readOnly bool
	done     bool
}

func (tx *transaction) Get(key []byte) ([]byte, bool, error) {
	if tx.done {
		return nil, false, fmt.Errorf("transaction already closed")
	}
	k := string(key)
	if val, ok := tx.writes[k]; ok {
		if val == nil {
			return nil, false, nil
		}
		return append([]byte(nil), val...), true, nil
	}
	if tx.cleared {
		return nil, false, nil
	}

	tx.db.mu.RLock()
	defer tx.db.mu.RUnlock()
	tx.reads[k] = tx.db.versions[k]
	val, ok := tx.db.data[k]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), val...), true, nil
}

func (tx *transaction) Set(key, value []byte) error {
	if err := tx.writable(); err != nil {
		return err
	}
	tx.writes[string(key)] = append([]byte(nil), value...)
	return nil
}

func (tx *transaction) Delete(key []byte) error {
	if err := tx.writable(); err != nil {
		return err
	}
	tx.writes[string(key)] = nil
	return nil
}

func (tx *transaction) Clear() error {
	if err := tx.writable(); err != nil {
		return err
	}
	tx.cleared = true
	tx.writes = make(map[string][]byte)
	return nil
}

func (tx *transaction) Iterate(fn func(key, value []byte) error) error {
	if tx.done {
		return fmt.Errorf("transaction already closed")
	}

	merged := make(map[string][]byte)
	if !tx.cleared {
		tx.db.mu.RLock()
		for k, v := range tx.db.data {
			tx.reads[k] = tx.db.versions[k]
			merged[k] = append([]byte(nil), v...)
		}
		tx.db.mu.RUnlock()
	}
	for k, v := range tx.writes {
		if v == nil {
			delete(merged, k)
		} else {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := fn([]byte(k), merged[k]); err != nil {
			return err
		}
	}
	return nil
}

func (tx *transaction) Commit() error {
	if tx.done {
		return fmt.Errorf("transaction already closed")
	}
	tx.done = true

	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()

	// First committer wins: a key read at one version must still be at
	// that version now.
	for k, v := range tx.reads {
		if tx.db.versions[k] != v {
			return &kv.RetryableError{Reason: fmt.Sprintf("write conflict on key %q", k)}
		}
	}

	tx.db.commits++
	version := tx.db.commits

	if tx.cleared {
		for k := range tx.db.data {
			delete(tx.db.data, k)
			tx.db.versions[k] = version
		}
	}
	for k, v := range tx.writes {
		if v == nil {
			delete(tx.db.data, k)
		} else {
			tx.db.data[k] = v
		}
		tx.db.versions[k] = version
	}
	return nil
}

func (tx *transaction) Rollback() error {
	tx.done = true
	return nil
}

func (tx *transaction) SetReadOnly(readOnly bool) {
	tx.readOnly = readOnly
}

func (tx *transaction) writable() error {
	if tx.done {
		return fmt.Errorf("transaction already closed")
	}
	if tx.readOnly {
		return fmt.Errorf("transaction is read-only")
	}
	return nil
}
