package state

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ajitpratap0/syncforge/pkg/errors"
	"github.com/ajitpratap0/syncforge/pkg/json"
)

const (
	checkpointKeyPrefix  = "syncforge:checkpoint:"
	idempotencyKeyPrefix = "syncforge:idem:"
)

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
}

// NewRedisClient creates a Redis client and verifies connectivity
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to Redis").
			WithDetail("addr", cfg.Addr)
	}
	return client, nil
}

// RedisCheckpointStore persists checkpoints as JSON values in Redis.
// Regression checks are serialized per source with a short-lived lock key
// so concurrent writers for the same source cannot interleave.
type RedisCheckpointStore struct {
	client *redis.Client
}

// NewRedisCheckpointStore creates a Redis-backed checkpoint store
func NewRedisCheckpointStore(client *redis.Client) *RedisCheckpointStore {
	return &RedisCheckpointStore{client: client}
}

// Get returns the checkpoint for a source, or nil if none exists
func (s *RedisCheckpointStore) Get(ctx context.Context, sourceID string) (*Checkpoint, error) {
	raw, err := s.client.Get(ctx, checkpointKeyPrefix+sourceID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read checkpoint").
			WithDetail("source_id", sourceID)
	}

	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "corrupt checkpoint record").
			WithDetail("source_id", sourceID)
	}
	return &cp, nil
}

// Put stores a checkpoint, rejecting cursor regressions unless forced
func (s *RedisCheckpointStore) Put(ctx context.Context, cp *Checkpoint, force bool) error {
	if cp == nil || cp.SourceID == "" {
		return errors.New(errors.ErrorTypeValidation, "checkpoint requires a source id")
	}

	unlock, err := s.lock(ctx, cp.SourceID)
	if err != nil {
		return err
	}
	defer unlock()

	if !force {
		prev, err := s.Get(ctx, cp.SourceID)
		if err != nil {
			return err
		}
		if prev != nil && CompareCursor(cp.Cursor, prev.Cursor) < 0 {
			return errors.New(errors.ErrorTypeValidation, "cursor regression rejected").
				WithDetail("source_id", cp.SourceID).
				WithDetail("stored_cursor", prev.Cursor).
				WithDetail("new_cursor", cp.Cursor)
		}
	}

	raw, err := json.Marshal(cp)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode checkpoint")
	}
	if err := s.client.Set(ctx, checkpointKeyPrefix+cp.SourceID, raw, 0).Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to write checkpoint").
			WithDetail("source_id", cp.SourceID)
	}
	return nil
}

// Delete removes a source's checkpoint
func (s *RedisCheckpointStore) Delete(ctx context.Context, sourceID string) error {
	if err := s.client.Del(ctx, checkpointKeyPrefix+sourceID).Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to delete checkpoint").
			WithDetail("source_id", sourceID)
	}
	return nil
}

// lock acquires a best-effort per-source write lock with retries
func (s *RedisCheckpointStore) lock(ctx context.Context, sourceID string) (func(), error) {
	key := checkpointKeyPrefix + "lock:" + sourceID
	token := fmt.Sprintf("%d", time.Now().UnixNano())

	for i := 0; i < 50; i++ {
		ok, err := s.client.SetNX(ctx, key, token, 5*time.Second).Result()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to acquire checkpoint lock")
		}
		if ok {
			return func() {
				// Only release a lock this caller still owns
				if val, err := s.client.Get(context.Background(), key).Result(); err == nil && val == token {
					_ = s.client.Del(context.Background(), key).Err()
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "checkpoint lock wait cancelled")
		case <-time.After(20 * time.Millisecond):
		}
	}
	return nil, errors.New(errors.ErrorTypeTimeout, "timed out waiting for checkpoint lock").
		WithDetail("source_id", sourceID)
}

// RedisIdempotencyStore records accepted request keys with SET NX so the
// test-and-record step is a single atomic server-side operation.
type RedisIdempotencyStore struct {
	client *redis.Client
}

// NewRedisIdempotencyStore creates a Redis-backed idempotency store
func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

// Check reports whether a key is currently recorded
func (s *RedisIdempotencyStore) Check(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New(errors.ErrorTypeValidation, "idempotency key must not be empty")
	}

	n, err := s.client.Exists(ctx, idempotencyKeyPrefix+key).Result()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeConnection, "failed to check idempotency key")
	}
	return n > 0, nil
}

// CheckAndRecord atomically tests and records a key
func (s *RedisIdempotencyStore) CheckAndRecord(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New(errors.ErrorTypeValidation, "idempotency key must not be empty")
	}
	if ttl <= 0 {
		return false, errors.New(errors.ErrorTypeValidation, "idempotency ttl must be positive")
	}

	ok, err := s.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeConnection, "failed to record idempotency key")
	}
	return ok, nil
}
