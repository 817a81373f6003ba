// Package badgerkv provides a Badger-based implementation of the kv
// interfaces, suitable as the standalone local backend.
package badgerkv

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/driftkv/driftkv/pkg/kv"
)

// Config holds configuration for a badgerkv database.
type Config struct {
	Path             string
	InMemory         bool
	SyncWrites       bool
	ValueLogFileSize int64
}

// DB implements kv.Database backed by a Badger store. Badger's optimistic
// concurrency surfaces as kv.RetryableError on commit conflicts.
type DB struct {
	mu     sync.Mutex
	config Config
	db     *badger.DB
}

// New creates a badgerkv database. The store is opened on Start.
func New(config Config) *DB {
	return &DB{config: config}
}

// Start opens the underlying Badger store. Idempotent.
func (b *DB) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil {
		return nil
	}

	opts := badger.DefaultOptions(b.config.Path)
	opts.InMemory = b.config.InMemory
	if b.config.InMemory {
		opts.Dir = ""
		opts.ValueDir = ""
	}
	opts.SyncWrites = b.config.SyncWrites
	if b.config.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = b.config.ValueLogFileSize
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return &kv.UnavailableError{Backend: "badger", Cause: err}
	}
	b.db = db
	return nil
}

// Stop closes the underlying Badger store. Idempotent.
func (b *DB) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}

	if !b.config.InMemory {
		if err := b.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
			// GC failure does not block shutdown.
		}
	}
	err := b.db.Close()
	b.db = nil
	return err
}

// CreateTransaction opens a new read-write transaction.
func (b *DB) CreateTransaction() (kv.Transaction, error) {
	b.mu.Lock()
	db := b.db
	b.mu.Unlock()
	if db == nil {
		return nil, &kv.NotStartedError{Op: "CreateTransaction"}
	}
	return &transaction{txn: db.NewTransaction(true)}, nil
}

type transaction struct {
	txn      *badger.Txn
	readOnly bool
	done     bool
}

func (tx *transaction) Get(key []byte) ([]byte, bool, error) {
	item, err := tx.txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (tx *transaction) Set(key, value []byte) error {
	if err := tx.writable(); err != nil {
		return err
	}
	return mapWriteError(tx.txn.Set(key, value))
}

func (tx *transaction) Delete(key []byte) error {
	if err := tx.writable(); err != nil {
		return err
	}
	return mapWriteError(tx.txn.Delete(key))
}

func (tx *transaction) Clear() error {
	if err := tx.writable(); err != nil {
		return err
	}

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := tx.txn.NewIterator(opts)

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, key := range keys {
		if err := mapWriteError(tx.txn.Delete(key)); err != nil {
			return err
		}
	}
	return nil
}

func (tx *transaction) Iterate(fn func(key, value []byte) error) error {
	it := tx.txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(key, val); err != nil {
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
	if err := tx.txn.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return &kv.RetryableError{Reason: "badger commit conflict", Cause: err}
		}
		return err
	}
	return nil
}

func (tx *transaction) Rollback() error {
	tx.done = true
	tx.txn.Discard()
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

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, badger.ErrTxnTooBig) {
		return &kv.RetryableError{Reason: "badger transaction too large", Cause: err}
	}
	return err
}
