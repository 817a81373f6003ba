package fallback

import (
	"testing"

	"github.com/driftkv/driftkv/pkg/kv"
	"github.com/driftkv/driftkv/pkg/kv/memory"
)

func seededTx(t *testing.T, db kv.Database, keys map[string]string) kv.Transaction {
	t.Helper()
	if err := db.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := kv.RunTransaction(db, func(tx kv.Transaction) error {
		for k, v := range keys {
			if err := tx.Set([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("seeding failed: %v", err)
	}
	tx, err := db.CreateTransaction()
	if err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}
	return tx
}

func contents(t *testing.T, tx kv.Transaction) map[string]string {
	t.Helper()
	got := make(map[string]string)
	if err := tx.Iterate(func(key, value []byte) error {
		got[string(key)] = string(value)
		return nil
	}); err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}
	return got
}

func TestOverwriteMerge(t *testing.T) {
	src := seededTx(t, memory.New(), map[string]string{"a": "1", "b": "2"})
	dst := seededTx(t, memory.New(), map[string]string{"b": "stale", "c": "stale"})

	if err := (OverwriteMergeStrategy{}).Merge(src, dst, nil); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	got := contents(t, dst)
	want := map[string]string{"a": "1", "b": "2"}
	if len(got) != len(want) {
		t.Fatalf("expected %d keys, got %v", len(want), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("expected %s=%s, got %s", k, v, got[k])
		}
	}
}

func TestNullMerge(t *testing.T) {
	src := seededTx(t, memory.New(), map[string]string{"a": "1"})
	dst := seededTx(t, memory.New(), map[string]string{"c": "kept"})

	if err := (NullMergeStrategy{}).Merge(src, dst, nil); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	got := contents(t, dst)
	if len(got) != 1 || got["c"] != "kept" {
		t.Errorf("expected destination untouched, got %v", got)
	}
}

func TestMergeStrategyNames(t *testing.T) {
	if (OverwriteMergeStrategy{}).String() != "overwrite" {
		t.Error("unexpected overwrite strategy name")
	}
	if (NullMergeStrategy{}).String() != "none" {
		t.Error("unexpected null strategy name")
	}
}
