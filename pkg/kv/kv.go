// Package kv defines the transactional key/value backend abstraction used by
// the fallback facade.
package kv

// Consistency is the consistency level a clustered backend opens a
// transaction with.
type Consistency int

const (
	// Linearizable transactions see the latest committed state and require
	// a cluster majority to commit.
	Linearizable Consistency = iota

	// EventualCommitted transactions see locally known committed state and
	// commit without contacting a majority. Combined with read-only mode,
	// commit generates no network traffic at all.
	EventualCommitted
)

// String returns the string representation of the consistency level.
func (c Consistency) String() string {
	switch c {
	case Linearizable:
		return "linearizable"
	case EventualCommitted:
		return "eventual-committed"
	default:
		return "unknown"
	}
}

// Database is a transactional key/value store.
type Database interface {
	// Start makes the database ready to create transactions. Idempotent.
	Start() error

	// Stop releases resources held by the database. Idempotent.
	Stop() error

	// CreateTransaction opens a new read-write transaction.
	CreateTransaction() (Transaction, error)
}

// Transaction is a single unit of work against a Database. Implementations
// are not required to be safe for concurrent use by multiple goroutines.
type Transaction interface {
	// Get returns the value for key, and whether the key exists.
	Get(key []byte) ([]byte, bool, error)

	// Set stores value under key.
	Set(key, value []byte) error

	// Delete removes key if present.
	Delete(key []byte) error

	// Clear removes all keys visible to the transaction.
	Clear() error

	// Iterate invokes fn for each key/value pair in key order. Returning a
	// non-nil error from fn stops the iteration and is returned.
	Iterate(fn func(key, value []byte) error) error

	// Commit makes the transaction's writes durable.
	Commit() error

	// Rollback discards the transaction. Safe to call after a failed Commit.
	Rollback() error

	// SetReadOnly marks the transaction read-only; subsequent writes fail.
	SetReadOnly(readOnly bool)
}

// ClusteredDatabase is a Database whose availability depends on communicating
// with a majority of cluster peers, and which can open transactions at a
// reduced consistency level that commits without a quorum.
type ClusteredDatabase interface {
	Database

	// CreateTransactionWithConsistency opens a transaction at the given
	// consistency level.
	CreateTransactionWithConsistency(c Consistency) (Transaction, error)
}
