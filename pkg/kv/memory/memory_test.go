package memory

import (
	"testing"

	"github.com/driftkv/driftkv/pkg/kv"
)

// TestMemorySuite runs the full transaction conformance suite against DB.
func TestMemorySuite(t *testing.T) {
	suite := &kv.TransactionSuite{
		NewDatabase: func(t *testing.T) kv.Database {
			return New()
		},
	}
	suite.RunAllTests(t)
}

// TestClusteredSuite runs the conformance suite against an available
// clustered database.
func TestClusteredSuite(t *testing.T) {
	suite := &kv.TransactionSuite{
		NewDatabase: func(t *testing.T) kv.Database {
			return NewClustered("suite")
		},
	}
	suite.RunAllTests(t)
}

func TestWriteConflictIsRetryable(t *testing.T) {
	db := New()
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

	// Both transactions read the same key, then both write it.
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

func TestClusteredQuorumLoss(t *testing.T) {
	db := NewClustered("raft-a")
	if err := db.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer db.Stop()

	// Seed a key while available.
	tx, err := db.CreateTransaction()
	if err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}
	if err := tx.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	db.SetAvailable(false)

	// Linearizable commit must fail without a quorum.
	tx, err = db.CreateTransaction()
	if err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}
	err = tx.Commit()
	if err == nil {
		t.Fatal("expected linearizable commit to fail without quorum")
	}
	if !kv.IsRetryable(err) {
		t.Errorf("expected retryable error, got %v", err)
	}

	// Eventual-committed read-only transactions still commit locally.
	ec, err := db.CreateTransactionWithConsistency(kv.EventualCommitted)
	if err != nil {
		t.Fatalf("CreateTransactionWithConsistency failed: %v", err)
	}
	ec.SetReadOnly(true)
	val, ok, err := ec.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok || string(val) != "v" {
		t.Errorf("expected locally known value v, got %q (exists=%v)", val, ok)
	}
	if err := ec.Commit(); err != nil {
		t.Errorf("expected eventual-committed commit to succeed without quorum: %v", err)
	}

	if db.EventualCommits() != 1 {
		t.Errorf("expected 1 eventual commit, got %d", db.EventualCommits())
	}
}
