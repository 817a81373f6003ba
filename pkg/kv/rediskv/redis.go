// Package rediskv provides a Redis-backed implementation of the kv
// interfaces. Reads pass through to the server; writes are buffered in the
// transaction and committed with a single TxPipeline.
package rediskv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driftkv/driftkv/pkg/kv"
)

// Config holds configuration for a rediskv database.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	OpTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults for addr.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:      addr,
		KeyPrefix: "driftkv:",
		OpTimeout: 2 * time.Second,
	}
}

// DB implements kv.Database backed by a Redis server. It offers no
// cross-transaction conflict detection; connectivity failures surface as
// kv.UnavailableError.
type DB struct {
	mu      sync.Mutex
	config  Config
	client  redis.Cmdable
	closer  func() error
	started bool
}

// New creates a rediskv database that connects on Start.
func New(config Config) *DB {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "driftkv:"
	}
	if config.OpTimeout <= 0 {
		config.OpTimeout = 2 * time.Second
	}
	return &DB{config: config}
}

// NewWithClient creates a rediskv database using an existing client. The
// caller owns the client's lifecycle.
func NewWithClient(client redis.Cmdable, config Config) (*DB, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	db := New(config)
	db.client = client
	return db, nil
}

// Start connects to Redis and verifies connectivity. Idempotent.
func (r *DB) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	if r.client == nil {
		client := redis.NewClient(&redis.Options{
			Addr:     r.config.Addr,
			Password: r.config.Password,
			DB:       r.config.DB,
		})
		r.client = client
		r.closer = client.Close
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.config.OpTimeout)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return &kv.UnavailableError{Backend: "redis", Cause: err}
	}
	r.started = true
	return nil
}

// Stop closes the connection if this instance created it. Idempotent.
func (r *DB) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil
	}
	r.started = false
	if r.closer != nil {
		err := r.closer()
		r.client = nil
		r.closer = nil
		return err
	}
	return nil
}

// CreateTransaction opens a new read-write transaction.
func (r *DB) CreateTransaction() (kv.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil, &kv.NotStartedError{Op: "CreateTransaction"}
	}
	return &transaction{
		db:     r,
		client: r.client,
		writes: make(map[string][]byte),
	}, nil
}

func (r *DB) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.config.OpTimeout)
}

func (r *DB) redisKey(key []byte) string {
	return r.config.KeyPrefix + string(key)
}

type transaction struct {
	db       *DB
	client   redis.Cmdable
	writes   map[string][]byte // nil value marks a delete
	cleared  bool
	readOnly bool
	done     bool
}

func (tx *transaction) Get(key []byte) ([]byte, bool, error) {
	if tx.done {
		return nil, false, fmt.Errorf("transaction already closed")
	}
	k := string(key)
	if val, ok := tx.writes[k]; ok {
		if val == nil {
			return nil, false, nil
		}
		return append([]byte(nil), val...), true, nil
	}
	if tx.cleared {
		return nil, false, nil
	}

	ctx, cancel := tx.db.opContext()
	defer cancel()
	val, err := tx.client.Get(ctx, tx.db.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, classify(err)
	}
	return val, true, nil
}

func (tx *transaction) Set(key, value []byte) error {
	if err := tx.writable(); err != nil {
		return err
	}
	tx.writes[string(key)] = append([]byte(nil), value...)
	return nil
}

func (tx *transaction) Delete(key []byte) error {
	if err := tx.writable(); err != nil {
		return err
	}
	tx.writes[string(key)] = nil
	return nil
}

func (tx *transaction) Clear() error {
	if err := tx.writable(); err != nil {
		return err
	}
	tx.cleared = true
	tx.writes = make(map[string][]byte)
	return nil
}

func (tx *transaction) Iterate(fn func(key, value []byte) error) error {
	if tx.done {
		return fmt.Errorf("transaction already closed")
	}

	merged := make(map[string][]byte)
	if !tx.cleared {
		keys, err := tx.scanKeys()
		if err != nil {
			return err
		}
		for _, k := range keys {
			ctx, cancel := tx.db.opContext()
			val, err := tx.client.Get(ctx, tx.db.config.KeyPrefix+k).Bytes()
			cancel()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return classify(err)
			}
			merged[k] = val
		}
	}
	for k, v := range tx.writes {
		if v == nil {
			delete(merged, k)
		} else {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := fn([]byte(k), merged[k]); err != nil {
			return err
		}
	}
	return nil
}

func (tx *transaction) Commit() error {
	if tx.done {
		return fmt.Errorf("transaction already closed")
	}
	tx.done = true

	if !tx.cleared && len(tx.writes) == 0 {
		return nil
	}

	var clearKeys []string
	if tx.cleared {
		keys, err := tx.scanKeys()
		if err != nil {
			return err
		}
		for _, k := range keys {
			clearKeys = append(clearKeys, tx.db.config.KeyPrefix+k)
		}
	}

	ctx, cancel := tx.db.opContext()
	defer cancel()

	pipe := tx.client.TxPipeline()
	if len(clearKeys) > 0 {
		pipe.Del(ctx, clearKeys...)
	}
	for k, v := range tx.writes {
		if v == nil {
			pipe.Del(ctx, tx.db.config.KeyPrefix+k)
		} else {
			pipe.Set(ctx, tx.db.config.KeyPrefix+k, v, 0)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func (tx *transaction) Rollback() error {
	tx.done = true
	tx.writes = nil
	return nil
}

func (tx *transaction) SetReadOnly(readOnly bool) {
	tx.readOnly = readOnly
}

func (tx *transaction) writable() error {
	if tx.done {
		return fmt.Errorf("transaction already closed")
	}
	if tx.readOnly {
		return fmt.Errorf("transaction is read-only")
	}
	return nil
}

// scanKeys returns all keys under the prefix, with the prefix stripped.
func (tx *transaction) scanKeys() ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		ctx, cancel := tx.db.opContext()
		batch, next, err := tx.client.Scan(ctx, cursor, tx.db.config.KeyPrefix+"*", 256).Result()
		cancel()
		if err != nil {
			return nil, classify(err)
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, tx.db.config.KeyPrefix))
		}
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// classify maps connectivity failures to kv.UnavailableError. Context errors
// are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &kv.UnavailableError{Backend: "redis", Cause: err}
}
