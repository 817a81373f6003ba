package kv

import (
	"bytes"
	"fmt"
	"testing"
)

// TransactionSuite defines a test suite that can be run against any Database
// implementation.
type TransactionSuite struct {
	NewDatabase func(t *testing.T) Database
}

// RunAllTests runs all conformance tests against the provided database.
func (s *TransactionSuite) RunAllTests(t *testing.T) {
	t.Run("SetGet", s.TestSetGet)
	t.Run("Delete", s.TestDelete)
	t.Run("Clear", s.TestClear)
	t.Run("Iterate", s.TestIterate)
	t.Run("RollbackDiscards", s.TestRollbackDiscards)
	t.Run("ReadOnly", s.TestReadOnly)
	t.Run("CommitVisibility", s.TestCommitVisibility)
	t.Run("NotStarted", s.TestNotStarted)
}

func (s *TransactionSuite) newStarted(t *testing.T) Database {
	t.Helper()
	db := s.NewDatabase(t)
	if err := db.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Stop()
	})
	return db
}

// TestSetGet tests basic write and read-back in a single transaction.
func (s *TransactionSuite) TestSetGet(t *testing.T) {
	db := s.newStarted(t)

	tx, err := db.CreateTransaction()
	if err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}

	if err := tx.Set([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, ok, err := tx.Get([]byte("k1"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected key to exist")
	}
	if !bytes.Equal(val, []byte("v1")) {
		t.Errorf("expected v1, got %q", val)
	}

	_, ok, err = tx.Get([]byte("missing"))
	if err != nil {
		t.Fatalf("Get missing failed: %v", err)
	}
	if ok {
		t.Error("expected missing key to not exist")
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

// TestDelete tests deletion of a committed key, both within the deleting
// transaction and after it commits.
func (s *TransactionSuite) TestDelete(t *testing.T) {
	db := s.newStarted(t)

	mustRun(t, db, func(tx Transaction) error {
		return tx.Set([]byte("k1"), []byte("v1"))
	})

	mustRun(t, db, func(tx Transaction) error {
		if err := tx.Delete([]byte("k1")); err != nil {
			return err
		}
		_, ok, err := tx.Get([]byte("k1"))
		if err != nil {
			return err
		}
		if ok {
			t.Error("expected deleted key to not exist within transaction")
		}
		return nil
	})

	mustRun(t, db, func(tx Transaction) error {
		_, ok, err := tx.Get([]byte("k1"))
		if err != nil {
			return err
		}
		if ok {
			t.Error("expected deleted key to not exist after commit")
		}
		return nil
	})
}

// TestClear tests that Clear removes all keys.
func (s *TransactionSuite) TestClear(t *testing.T) {
	db := s.newStarted(t)

	mustRun(t, db, func(tx Transaction) error {
		for i := 0; i < 5; i++ {
			if err := tx.Set([]byte(fmt.Sprintf("k%d", i)), []byte("v")); err != nil {
				return err
			}
		}
		return nil
	})

	mustRun(t, db, func(tx Transaction) error {
		return tx.Clear()
	})

	mustRun(t, db, func(tx Transaction) error {
		count := 0
		err := tx.Iterate(func(key, value []byte) error {
			count++
			return nil
		})
		if err != nil {
			return err
		}
		if count != 0 {
			t.Errorf("expected 0 keys after clear, got %d", count)
		}
		return nil
	})
}

// TestIterate tests key-ordered iteration.
func (s *TransactionSuite) TestIterate(t *testing.T) {
	db := s.newStarted(t)

	mustRun(t, db, func(tx Transaction) error {
		for _, k := range []string{"b", "a", "c"} {
			if err := tx.Set([]byte(k), []byte("v-"+k)); err != nil {
				return err
			}
		}
		return nil
	})

	mustRun(t, db, func(tx Transaction) error {
		var keys []string
		err := tx.Iterate(func(key, value []byte) error {
			keys = append(keys, string(key))
			if !bytes.Equal(value, append([]byte("v-"), key...)) {
				t.Errorf("unexpected value %q for key %q", value, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		want := []string{"a", "b", "c"}
		if len(keys) != len(want) {
			t.Fatalf("expected %d keys, got %d", len(want), len(keys))
		}
		for i := range want {
			if keys[i] != want[i] {
				t.Errorf("expected key %q at %d, got %q", want[i], i, keys[i])
			}
		}
		return nil
	})
}

// TestRollbackDiscards tests that rollback discards uncommitted writes.
func (s *TransactionSuite) TestRollbackDiscards(t *testing.T) {
	db := s.newStarted(t)

	tx, err := db.CreateTransaction()
	if err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}
	if err := tx.Set([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	mustRun(t, db, func(tx Transaction) error {
		_, ok, err := tx.Get([]byte("k1"))
		if err != nil {
			return err
		}
		if ok {
			t.Error("expected rolled-back write to be invisible")
		}
		return nil
	})
}

// TestReadOnly tests that writes fail on a read-only transaction.
func (s *TransactionSuite) TestReadOnly(t *testing.T) {
	db := s.newStarted(t)

	tx, err := db.CreateTransaction()
	if err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	tx.SetReadOnly(true)
	if err := tx.Set([]byte("k1"), []byte("v1")); err == nil {
		t.Error("expected Set on read-only transaction to fail")
	}
	if err := tx.Delete([]byte("k1")); err == nil {
		t.Error("expected Delete on read-only transaction to fail")
	}
	if err := tx.Clear(); err == nil {
		t.Error("expected Clear on read-only transaction to fail")
	}
}

// TestCommitVisibility tests that committed writes are visible to later
// transactions.
func (s *TransactionSuite) TestCommitVisibility(t *testing.T) {
	db := s.newStarted(t)

	mustRun(t, db, func(tx Transaction) error {
		return tx.Set([]byte("k1"), []byte("v1"))
	})

	mustRun(t, db, func(tx Transaction) error {
		val, ok, err := tx.Get([]byte("k1"))
		if err != nil {
			return err
		}
		if !ok {
			t.Fatal("expected committed key to be visible")
		}
		if !bytes.Equal(val, []byte("v1")) {
			t.Errorf("expected v1, got %q", val)
		}
		return nil
	})
}

// TestNotStarted tests that transactions cannot be created before Start.
func (s *TransactionSuite) TestNotStarted(t *testing.T) {
	db := s.NewDatabase(t)

	if _, err := db.CreateTransaction(); err == nil {
		t.Error("expected CreateTransaction before Start to fail")
	}
}

// mustRun runs fn inside a fresh transaction and commits, failing the test on
// any error.
func mustRun(t *testing.T, db Database, fn func(tx Transaction) error) {
	t.Helper()
	tx, err := db.CreateTransaction()
	if err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		t.Fatalf("transaction body failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}
