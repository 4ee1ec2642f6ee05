package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolResetOnPut(t *testing.T) {
	type buf struct{ data []int }
	p := New(
		func() *buf { return &buf{} },
		func(b *buf) { b.data = b.data[:0] },
	)

	b := p.Get()
	b.data = append(b.data, 1, 2, 3)
	p.Put(b)

	got := p.Get()
	assert.Empty(t, got.data, "reset runs before the object is reusable")
}

func TestPoolStats(t *testing.T) {
	p := New(func() *int { v := 0; return &v }, nil)

	a := p.Get()
	b := p.Get()
	allocated, inUse, hits := p.Stats()
	assert.GreaterOrEqual(t, allocated, int64(1))
	assert.Equal(t, int64(2), inUse)
	assert.Equal(t, int64(2), hits)

	p.Put(a)
	p.Put(b)
	_, inUse, _ = p.Stats()
	assert.Equal(t, int64(0), inUse)
}

func TestRecordPoolClearsEverything(t *testing.T) {
	rec := GetRecord()
	rec.ID = "batch-1"
	rec.SetData("email", "user@example.com")
	rec.Metadata.TenantID = "tenant-1"
	rec.Metadata.Timestamp = time.Now()
	rec.Metadata.Custom = map[string]interface{}{"trace": "abc"}

	rec.Release()

	// The very record we released may or may not come back first; either
	// way anything the pool hands out must be pristine.
	got := GetRecord()
	defer got.Release()
	require.NotNil(t, got.Data)
	assert.Empty(t, got.ID)
	assert.Empty(t, got.Data)
	assert.Empty(t, got.Metadata.TenantID)
	assert.True(t, got.Metadata.Timestamp.IsZero())
}
