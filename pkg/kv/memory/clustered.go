package memory

import (
	"fmt"
	"sync/atomic"

	"github.com/driftkv/driftkv/pkg/kv"
)

// Clustered wraps an in-memory DB with a controllable availability flag,
// behaving the way a consensus-backed store behaves from the outside: when
// the cluster has no quorum, linearizable commits fail, while transactions
// opened EventualCommitted still commit against locally known state.
type Clustered struct {
	name  string
	inner *DB

	available atomic.Bool

	linearizableOpens atomic.Int64
	eventualOpens     atomic.Int64
	eventualCommits   atomic.Int64
}

// NewClustered creates an available clustered database named name.
func NewClustered(name string) *Clustered {
	c := &Clustered{
		name:  name,
		inner: New(),
	}
	c.available.Store(true)
	return c
}

// Name returns the cluster name.
func (c *Clustered) Name() string {
	return c.name
}

// SetAvailable flips the simulated quorum state.
func (c *Clustered) SetAvailable(available bool) {
	c.available.Store(available)
}

// Available reports the simulated quorum state.
func (c *Clustered) Available() bool {
	return c.available.Load()
}

// Start makes the database ready to create transactions.
func (c *Clustered) Start() error {
	return c.inner.Start()
}

// Stop releases the database.
func (c *Clustered) Stop() error {
	return c.inner.Stop()
}

// CreateTransaction opens a linearizable read-write transaction.
func (c *Clustered) CreateTransaction() (kv.Transaction, error) {
	return c.CreateTransactionWithConsistency(kv.Linearizable)
}

// CreateTransactionWithConsistency opens a transaction at the given
// consistency level.
func (c *Clustered) CreateTransactionWithConsistency(consistency kv.Consistency) (kv.Transaction, error) {
	inner, err := c.inner.CreateTransaction()
	if err != nil {
		return nil, err
	}
	switch consistency {
	case kv.Linearizable:
		c.linearizableOpens.Add(1)
	case kv.EventualCommitted:
		c.eventualOpens.Add(1)
	}
	return &quorumTransaction{Transaction: inner, db: c, consistency: consistency}, nil
}

// LinearizableOpens returns how many linearizable transactions were opened.
func (c *Clustered) LinearizableOpens() int64 {
	return c.linearizableOpens.Load()
}

// EventualOpens returns how many eventual-committed transactions were opened.
func (c *Clustered) EventualOpens() int64 {
	return c.eventualOpens.Load()
}

// EventualCommits returns how many eventual-committed transactions committed.
func (c *Clustered) EventualCommits() int64 {
	return c.eventualCommits.Load()
}

// Len returns the number of committed keys.
func (c *Clustered) Len() int {
	return c.inner.Len()
}

type quorumTransaction struct {
	kv.Transaction
	db          *Clustered
	consistency kv.Consistency
}

func (tx *quorumTransaction) Commit() error {
	if tx.consistency == kv.Linearizable && !tx.db.Available() {
		_ = tx.Transaction.Rollback()
		return &kv.RetryableError{
			Reason: "commit requires a cluster majority",
			Cause:  &kv.UnavailableError{Backend: tx.db.name, Cause: fmt.Errorf("no quorum")},
		}
	}
	if err := tx.Transaction.Commit(); err != nil {
		return err
	}
	if tx.consistency == kv.EventualCommitted {
		tx.db.eventualCommits.Add(1)
	}
	return nil
}
