package kv

import (
	"fmt"
	"time"
)

// DefaultRetryAttempts bounds RunTransaction's retry loop.
const DefaultRetryAttempts = 5

// RunTransaction opens a transaction on db, invokes fn, and commits. If fn or
// the commit fails with a retry-class error the whole transaction is retried
// with a short linear backoff, for at most DefaultRetryAttempts attempts in
// total. Any other error is returned immediately; an error from fn first
// rolls the transaction back.
func RunTransaction(db Database, fn func(tx Transaction) error) error {
	var lastErr error
	for attempt := 0; attempt < DefaultRetryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 10 * time.Millisecond)
		}

		tx, err := db.CreateTransaction()
		if err != nil {
			if IsRetryable(err) {
				lastErr = err
				continue
			}
			return err
		}

		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			if IsRetryable(err) {
				lastErr = err
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if IsRetryable(err) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", DefaultRetryAttempts, lastErr)
}
