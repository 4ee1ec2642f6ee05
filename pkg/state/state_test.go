package state

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/syncforge/pkg/errors"
)

func TestCompareCursor(t *testing.T) {
	earlier := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Hour)

	tests := []struct {
		name string
		a, b interface{}
		want int
	}{
		{"both nil", nil, nil, 0},
		{"nil less than value", nil, 5, -1},
		{"value greater than nil", 5, nil, 1},
		{"int ordering", 10, 20, -1},
		{"float equals int", 10.0, 10, 0},
		{"mixed numeric string", "15", 9, 1},
		{"time ordering", earlier, later, -1},
		{"rfc3339 strings", earlier.Format(time.RFC3339), later.Format(time.RFC3339), -1},
		{"time vs rfc3339 string", later, earlier.Format(time.RFC3339), 1},
		{"string ordering", "apple", "banana", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompareCursor(tt.a, tt.b))
		})
	}
}

func TestMaxCursor(t *testing.T) {
	assert.Equal(t, 20, MaxCursor(10, 20))
	assert.Equal(t, 20, MaxCursor(20, nil))
	assert.Equal(t, 20, MaxCursor(nil, 20))
}

func TestMemoryCheckpointStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCheckpointStore()

	t.Run("get missing returns nil", func(t *testing.T) {
		cp, err := store.Get(ctx, "absent")
		require.NoError(t, err)
		assert.Nil(t, cp)
	})

	t.Run("put then get", func(t *testing.T) {
		err := store.Put(ctx, &Checkpoint{SourceID: "src-1", Cursor: 100, RowsProcessed: 50}, false)
		require.NoError(t, err)

		cp, err := store.Get(ctx, "src-1")
		require.NoError(t, err)
		require.NotNil(t, cp)
		assert.Equal(t, 100, cp.Cursor)
		assert.Equal(t, int64(50), cp.RowsProcessed)
	})

	t.Run("regression rejected", func(t *testing.T) {
		err := store.Put(ctx, &Checkpoint{SourceID: "src-1", Cursor: 90}, false)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

		cp, err := store.Get(ctx, "src-1")
		require.NoError(t, err)
		assert.Equal(t, 100, cp.Cursor)
	})

	t.Run("forced regression accepted", func(t *testing.T) {
		err := store.Put(ctx, &Checkpoint{SourceID: "src-1", Cursor: 90}, true)
		require.NoError(t, err)

		cp, err := store.Get(ctx, "src-1")
		require.NoError(t, err)
		assert.Equal(t, 90, cp.Cursor)
	})

	t.Run("equal cursor accepted", func(t *testing.T) {
		err := store.Put(ctx, &Checkpoint{SourceID: "src-1", Cursor: 90, RowsProcessed: 75}, false)
		require.NoError(t, err)
	})

	t.Run("delete resets", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "src-1"))
		cp, err := store.Get(ctx, "src-1")
		require.NoError(t, err)
		assert.Nil(t, cp)
	})

	t.Run("missing source id rejected", func(t *testing.T) {
		err := store.Put(ctx, &Checkpoint{}, false)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})
}

func TestMemoryIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore()

	first, err := store.CheckAndRecord(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.CheckAndRecord(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, second)

	other, err := store.CheckAndRecord(ctx, "evt-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, other)
}

func TestMemoryIdempotencyCheckDoesNotRecord(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore()

	seen, err := store.Check(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)

	// Checking leaves no trace; the key is still recordable as new
	first, err := store.CheckAndRecord(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	seen, err = store.Check(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestMemoryIdempotencyStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore()

	now := time.Now()
	store.now = func() time.Time { return now }

	first, err := store.CheckAndRecord(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	now = now.Add(2 * time.Minute)
	again, err := store.CheckAndRecord(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, again, "expired key should be accepted as new")
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisCheckpointStore(t *testing.T) {
	ctx := context.Background()
	store := NewRedisCheckpointStore(newTestRedis(t))

	t.Run("get missing returns nil", func(t *testing.T) {
		cp, err := store.Get(ctx, "absent")
		require.NoError(t, err)
		assert.Nil(t, cp)
	})

	t.Run("round trip", func(t *testing.T) {
		put := &Checkpoint{
			SourceID:      "src-1",
			Cursor:        float64(1000),
			LastRun:       time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
			RowsProcessed: 2500,
		}
		require.NoError(t, store.Put(ctx, put, false))

		got, err := store.Get(ctx, "src-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, float64(1000), got.Cursor)
		assert.Equal(t, int64(2500), got.RowsProcessed)
		assert.True(t, put.LastRun.Equal(got.LastRun))
	})

	t.Run("regression rejected", func(t *testing.T) {
		err := store.Put(ctx, &Checkpoint{SourceID: "src-1", Cursor: float64(500)}, false)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})

	t.Run("forced overwrite", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, &Checkpoint{SourceID: "src-1", Cursor: float64(500)}, true))
		got, err := store.Get(ctx, "src-1")
		require.NoError(t, err)
		assert.Equal(t, float64(500), got.Cursor)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "src-1"))
		got, err := store.Get(ctx, "src-1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestRedisIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	store := NewRedisIdempotencyStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	first, err := store.CheckAndRecord(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.CheckAndRecord(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, second)

	mr.FastForward(2 * time.Minute)

	again, err := store.CheckAndRecord(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, again)
}

func TestRedisIdempotencyCheckDoesNotRecord(t *testing.T) {
	ctx := context.Background()
	store := NewRedisIdempotencyStore(newTestRedis(t))

	seen, err := store.Check(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)

	first, err := store.CheckAndRecord(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first, "a prior check must not have recorded the key")

	seen, err = store.Check(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)
}
