package fallback

import (
	"github.com/driftkv/driftkv/pkg/kv"
)

// Transaction wraps a backend transaction created by the facade. It is bound
// to the backend that was active at creation: if a migration completes
// before Commit, the commit fails with a retry-class error and the wrapped
// transaction is rolled back, so no transaction ever commits against a
// backend it was not created on.
type Transaction struct {
	db             *Database
	tx             kv.Transaction
	migrationCount int
	id             string
}

// ID returns the transaction's identifier, used in logs.
func (t *Transaction) ID() string {
	return t.id
}

// Get returns the value for key, and whether the key exists.
func (t *Transaction) Get(key []byte) ([]byte, bool, error) {
	return t.tx.Get(key)
}

// Set stores value under key.
func (t *Transaction) Set(key, value []byte) error {
	return t.tx.Set(key, value)
}

// Delete removes key if present.
func (t *Transaction) Delete(key []byte) error {
	return t.tx.Delete(key)
}

// Clear removes all keys visible to the transaction.
func (t *Transaction) Clear() error {
	return t.tx.Clear()
}

// Iterate invokes fn for each key/value pair in key order.
func (t *Transaction) Iterate(fn func(key, value []byte) error) error {
	return t.tx.Iterate(fn)
}

// SetReadOnly marks the transaction read-only.
func (t *Transaction) SetReadOnly(readOnly bool) {
	t.tx.SetReadOnly(readOnly)
}

// Commit commits the wrapped transaction, unless a migration completed
// since this transaction was created, in which case the wrapped transaction
// is rolled back and a kv.StaleTransactionError is returned.
func (t *Transaction) Commit() error {
	current := t.db.currentMigrationCount()
	if current != t.migrationCount {
		_ = t.tx.Rollback()
		t.db.metrics.RecordStaleTransactionRollback()
		t.db.log.Debug("rolled back transaction that crossed a migration",
			"transaction", t.id,
			"created_at_migration", t.migrationCount,
			"current_migration", current,
		)
		return &kv.StaleTransactionError{
			CreatedCount: t.migrationCount,
			CurrentCount: current,
		}
	}
	return t.tx.Commit()
}

// Rollback rolls back the wrapped transaction unconditionally.
func (t *Transaction) Rollback() error {
	return t.tx.Rollback()
}
