// Package fallback provides a partition-tolerant key/value database facade
// that multiplexes transactions across a prioritized list of clustered
// backends and a local standalone backend, migrating between them as cluster
// availability changes.
package fallback

import (
	"sync"
	"time"
)

// Timestamps are coarse monotonic readings stored in 32 bits of
// milliseconds, so two values compare correctly only while they are within
// half the representable range (~24.8 days) of each other. Readings older
// than rolloverMargin (~12.4 days) are reported as rollover danger and must
// be discarded before arithmetic against "now" can produce a wrong sign.
const rolloverMargin = 1 << 30

var (
	timeBaseOnce sync.Once
	timeBase     time.Time
)

// Timestamp is a coarse monotonic time value with a bounded representable
// range.
type Timestamp struct {
	millis uint32
}

// Now returns the current Timestamp.
func Now() Timestamp {
	timeBaseOnce.Do(func() {
		timeBase = time.Now()
	})
	return Timestamp{millis: uint32(time.Since(timeBase) / time.Millisecond)}
}

// OffsetFromNow returns the signed distance in milliseconds from the current
// time to t: negative if t is in the past.
func (t Timestamp) OffsetFromNow() int32 {
	return int32(t.millis - Now().millis)
}

// OffsetFrom returns the signed distance in milliseconds from other to t.
func (t Timestamp) OffsetFrom(other Timestamp) int32 {
	return int32(t.millis - other.millis)
}

// IsRolloverDanger reports whether t is old enough that comparisons against
// the current time are approaching the wraparound point.
func (t Timestamp) IsRolloverDanger() bool {
	return Now().millis-t.millis >= rolloverMargin
}
