package badgerkv

import (
	"testing"

	"github.com/driftkv/driftkv/pkg/kv"
)

// TestBadgerSuite runs the full transaction conformance suite against a
// disk-backed store.
func TestBadgerSuite(t *testing.T) {
	suite := &kv.TransactionSuite{
		NewDatabase: func(t *testing.T) kv.Database {
			return New(Config{
				Path:             t.TempDir(),
				SyncWrites:       false,
				ValueLogFileSize: 1 << 20,
			})
		},
	}
	suite.RunAllTests(t)
}

// TestBadgerSuiteInMemory runs the suite against Badger's in-memory mode.
func TestBadgerSuiteInMemory(t *testing.T) {
	suite := &kv.TransactionSuite{
		NewDatabase: func(t *testing.T) kv.Database {
			return New(Config{InMemory: true})
		},
	}
	suite.RunAllTests(t)
}

func TestBadgerConflictIsRetryable(t *testing.T) {
	db := New(Config{InMemory: true})
	if err := db.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer db.Stop()

	tx1, err := db.CreateTransaction()
	if err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}
	tx2, err := db.CreateTransaction()
	if err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}

	if _, _, err := tx1.Get([]byte("k")); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, _, err := tx2.Get([]byte("k")); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := tx1.Set([]byte("k"), []byte("1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := tx2.Set([]byte("k"), []byte("2")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := tx1.Commit(); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	err = tx2.Commit()
	if err == nil {
		t.Fatal("expected second commit to conflict")
	}
	if !kv.IsRetryable(err) {
		t.Errorf("expected retryable conflict error, got %v", err)
	}
}

func TestBadgerPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	db := New(Config{Path: dir})
	if err := db.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := kv.RunTransaction(db, func(tx kv.Transaction) error {
		return tx.Set([]byte("k"), []byte("v"))
	}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := db.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	db = New(Config{Path: dir})
	if err := db.Start(); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	defer db.Stop()

	if err := kv.RunTransaction(db, func(tx kv.Transaction) error {
		val, ok, err := tx.Get([]byte("k"))
		if err != nil {
			return err
		}
		if !ok || string(val) != "v" {
			t.Errorf("expected v after restart, got %q (exists=%v)", val, ok)
		}
		return nil
	}); err != nil {
		t.Fatalf("read failed: %v", err)
	}
}
