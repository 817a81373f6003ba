package fallback

import "time"

// MetricsRecorder receives facade events. The *metrics.Manager in
// pkg/metrics implements it; the default is a no-op.
type MetricsRecorder interface {
	RecordAvailabilityCheck(targetIndex int, available bool)
	SetTargetAvailable(targetIndex int, available bool)
	RecordMigration(fromIndex, toIndex int, status string, elapsed time.Duration)
	SetActiveTarget(index int)
	RecordStaleTransactionRollback()
}

type nopMetrics struct{}

func (nopMetrics) RecordAvailabilityCheck(int, bool)               {}
func (nopMetrics) SetTargetAvailable(int, bool)                    {}
func (nopMetrics) RecordMigration(int, int, string, time.Duration) {}
func (nopMetrics) SetActiveTarget(int)                             {}
func (nopMetrics) RecordStaleTransactionRollback()                 {}
