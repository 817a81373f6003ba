package fallback

import (
	"testing"
	"time"
)

func TestTransactionDelegation(t *testing.T) {
	a := newTestCluster("a", true)
	db := newTestDatabase(t, "", a.target(time.Second, time.Second))
	startDatabase(t, db)

	tx, err := db.CreateTransaction()
	if err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}
	if tx.ID() == "" {
		t.Error("expected a transaction id")
	}

	if err := tx.Set([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := tx.Set([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := tx.Delete([]byte("b")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	val, ok, err := tx.Get([]byte("a"))
	if err != nil || !ok || string(val) != "1" {
		t.Errorf("expected a=1, got %q (exists=%v, err=%v)", val, ok, err)
	}

	var keys []string
	if err := tx.Iterate(func(key, value []byte) error {
		keys = append(keys, string(key))
		return nil
	}); err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "a" {
		t.Errorf("expected only key a, got %v", keys)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func TestTransactionRollback(t *testing.T) {
	a := newTestCluster("a", true)
	db := newTestDatabase(t, "", a.target(time.Second, time.Second))
	startDatabase(t, db)

	tx, err := db.CreateTransaction()
	if err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}
	if err := tx.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	if _, ok := a.get(t, "k"); ok {
		t.Error("expected rolled-back write to be invisible")
	}
}

func TestTransactionClear(t *testing.T) {
	a := newTestCluster("a", true)
	db := newTestDatabase(t, "", a.target(time.Second, time.Second))
	startDatabase(t, db)

	putKey(t, db, "k1", "v")
	putKey(t, db, "k2", "v")

	tx, err := db.CreateTransaction()
	if err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}
	if err := tx.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if _, ok := a.get(t, "k1"); ok {
		t.Error("expected k1 cleared")
	}
	if _, ok := a.get(t, "k2"); ok {
		t.Error("expected k2 cleared")
	}
}
