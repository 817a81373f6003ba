package rediskv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driftkv/driftkv/pkg/kv"
)

func requireRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("DRIFTKV_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  500 * time.Millisecond,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis is not available at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func uniqueKeyPrefix(name string) string {
	return fmt.Sprintf("driftkv-test:%s:%d:", name, time.Now().UnixNano())
}

func newTestDB(t *testing.T, name string) *DB {
	t.Helper()
	client := requireRedisClient(t)
	cfg := DefaultConfig("")
	cfg.KeyPrefix = uniqueKeyPrefix(name)
	db, err := NewWithClient(client, cfg)
	if err != nil {
		t.Fatalf("NewWithClient failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		keys, _ := client.Keys(ctx, cfg.KeyPrefix+"*").Result()
		if len(keys) > 0 {
			_ = client.Del(ctx, keys...).Err()
		}
	})
	return db
}

// TestRedisSuite runs the full transaction conformance suite against a live
// Redis server, skipping if none is reachable.
func TestRedisSuite(t *testing.T) {
	suite := &kv.TransactionSuite{
		NewDatabase: func(t *testing.T) kv.Database {
			return newTestDB(t, "suite")
		},
	}
	suite.RunAllTests(t)
}

func TestRedisClearThenWrite(t *testing.T) {
	db := newTestDB(t, "clear")
	if err := db.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer db.Stop()

	if err := kv.RunTransaction(db, func(tx kv.Transaction) error {
		for i := 0; i < 3; i++ {
			if err := tx.Set([]byte(fmt.Sprintf("old-%d", i)), []byte("v")); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	// Clear and repopulate in one transaction, the overwrite-merge pattern.
	if err := kv.RunTransaction(db, func(tx kv.Transaction) error {
		if err := tx.Clear(); err != nil {
			return err
		}
		return tx.Set([]byte("new"), []byte("v"))
	}); err != nil {
		t.Fatalf("clear+write failed: %v", err)
	}

	if err := kv.RunTransaction(db, func(tx kv.Transaction) error {
		count := 0
		var last string
		err := tx.Iterate(func(key, value []byte) error {
			count++
			last = string(key)
			return nil
		})
		if err != nil {
			return err
		}
		if count != 1 || last != "new" {
			t.Errorf("expected only key new, got %d keys (last %q)", count, last)
		}
		return nil
	}); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
}

func TestRedisStartUnavailable(t *testing.T) {
	// A port nothing listens on; connection must fail fast and classify as
	// unavailable.
	db := New(Config{Addr: "127.0.0.1:1", OpTimeout: 250 * time.Millisecond})
	err := db.Start()
	if err == nil {
		_ = db.Stop()
		t.Fatal("expected Start against a dead address to fail")
	}
	if !kv.IsUnavailableError(err) {
		t.Errorf("expected UnavailableError, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	if classify(nil) != nil {
		t.Error("expected nil to stay nil")
	}
	if err := classify(context.DeadlineExceeded); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context error to pass through, got %v", err)
	}
	if err := classify(errors.New("dial tcp: connection refused")); !kv.IsUnavailableError(err) {
		t.Errorf("expected UnavailableError, got %v", err)
	}
}
