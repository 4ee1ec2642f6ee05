package saver

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ajitpratap0/syncforge/pkg/errors"
	"github.com/ajitpratap0/syncforge/pkg/json"
)

const (
	batchKeyPrefix  = "syncforge:batch:"
	tenantKeyPrefix = "syncforge:tenant:"
)

// RedisRecordStore persists batches as JSON values in Redis, with a
// per-tenant set for ownership lookups.
type RedisRecordStore struct {
	client *redis.Client
}

// NewRedisRecordStore creates a Redis-backed record store
func NewRedisRecordStore(client *redis.Client) *RedisRecordStore {
	return &RedisRecordStore{client: client}
}

func (s *RedisRecordStore) Put(ctx context.Context, batch *SavedBatch) error {
	raw, err := json.Marshal(batch)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode batch")
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, batchKeyPrefix+batch.BatchID, raw, 0)
	pipe.SAdd(ctx, tenantKeyPrefix+batch.TenantID, batch.BatchID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to write batch").
			WithDetail("batch_id", batch.BatchID)
	}
	return nil
}

func (s *RedisRecordStore) Get(ctx context.Context, batchID string) (*SavedBatch, error) {
	raw, err := s.client.Get(ctx, batchKeyPrefix+batchID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read batch").
			WithDetail("batch_id", batchID)
	}

	var batch SavedBatch
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "corrupt batch record").
			WithDetail("batch_id", batchID)
	}
	return &batch, nil
}

func (s *RedisRecordStore) ListByTenant(ctx context.Context, tenantID string) ([]*SavedBatch, error) {
	ids, err := s.client.SMembers(ctx, tenantKeyPrefix+tenantID).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to list tenant batches")
	}

	out := make([]*SavedBatch, 0, len(ids))
	for _, id := range ids {
		batch, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if batch != nil {
			out = append(out, batch)
		}
	}
	return out, nil
}

func (s *RedisRecordStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, batchKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := s.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return removed, errors.Wrap(err, errors.ErrorTypeConnection, "failed to scan batches")
		}

		var batch SavedBatch
		if err := json.Unmarshal(raw, &batch); err != nil {
			continue
		}
		if batch.SavedAt.Before(cutoff) {
			if err := s.Delete(ctx, batch.BatchID); err != nil {
				return removed, err
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, errors.Wrap(err, errors.ErrorTypeConnection, "batch scan failed")
	}
	return removed, nil
}

func (s *RedisRecordStore) Delete(ctx context.Context, batchID string) error {
	batch, err := s.Get(ctx, batchID)
	if err != nil {
		return err
	}
	if batch == nil {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, batchKeyPrefix+batchID)
	pipe.SRem(ctx, tenantKeyPrefix+batch.TenantID, batchID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to delete batch").
			WithDetail("batch_id", batchID)
	}
	return nil
}
