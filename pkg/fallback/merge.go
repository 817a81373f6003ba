package fallback

import (
	"time"

	"github.com/driftkv/driftkv/pkg/kv"
)

// MergeStrategy copies data between the outgoing and incoming backends
// during a migration. src is read-only against the outgoing backend; dst is
// read-write against the incoming backend. lastActiveTime is the last time
// the incoming backend was active, or nil if never.
//
// Strategies must be stateless; the controller may invoke the same strategy
// value concurrently on disjoint transaction pairs.
type MergeStrategy interface {
	Merge(src, dst kv.Transaction, lastActiveTime *time.Time) error

	// String identifies the strategy in logs.
	String() string
}

// OverwriteMergeStrategy clears the destination and copies every key from
// the source into it.
type OverwriteMergeStrategy struct{}

func (OverwriteMergeStrategy) Merge(src, dst kv.Transaction, _ *time.Time) error {
	if err := dst.Clear(); err != nil {
		return err
	}
	return src.Iterate(func(key, value []byte) error {
		return dst.Set(key, value)
	})
}

func (OverwriteMergeStrategy) String() string {
	return "overwrite"
}

// NullMergeStrategy leaves the destination unchanged.
type NullMergeStrategy struct{}

func (NullMergeStrategy) Merge(src, dst kv.Transaction, _ *time.Time) error {
	return nil
}

func (NullMergeStrategy) String() string {
	return "none"
}
