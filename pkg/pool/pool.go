// Package pool provides unified object pooling for SyncForge.
// It offers type-safe object recycling to reduce garbage collection
// pressure on the record-heavy ingestion and export paths, along with the
// unified Record type that flows through every pipeline stage.
package pool

import (
	"sync"
	"sync/atomic"
	"time"
)

// Pool represents a generic object pool with type safety.
// It wraps sync.Pool with statistics tracking and automatic reset.
// The pool is safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	new   func() T
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		hits      int64
	}
}

// New creates a new typed pool with custom allocation and reset functions.
// The reset function, if non-nil, is called before returning an object to
// the pool.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{
		new:   newFn,
		reset: reset,
	}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return newFn()
	}
	return p
}

// Get retrieves an object from the pool, creating one if the pool is empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	obj := p.pool.Get().(T)
	atomic.AddInt64(&p.stats.hits, 1)
	return obj
}

// Put returns an object to the pool for reuse.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats returns allocation count, objects in use and total hits.
func (p *Pool[T]) Stats() (allocated, inUse, hits int64) {
	return atomic.LoadInt64(&p.stats.allocated),
		atomic.LoadInt64(&p.stats.inUse),
		atomic.LoadInt64(&p.stats.hits)
}

// RecordMetadata carries provenance and sync bookkeeping for a record.
// All fields are optional; which are set depends on the acquisition path
// (pull, webhook receive, or export read-back).
type RecordMetadata struct {
	// Source identifies the origin connector or webhook sender
	Source string `json:"source,omitempty"`
	// TenantID scopes the record to its owning tenant
	TenantID string `json:"tenant_id,omitempty"`
	// SourceID identifies the configured source the record came from
	SourceID string `json:"source_id,omitempty"`
	// Table name for database sources
	Table string `json:"table,omitempty"`
	// Cursor value of the checkpoint field at read time, for incremental sync
	Cursor string `json:"cursor,omitempty"`
	// Page number the record was read on
	Page int `json:"page,omitempty"`
	// Timestamp when the record was acquired
	Timestamp time.Time `json:"timestamp"`
	// Custom metadata fields for extensibility
	Custom map[string]interface{} `json:"custom,omitempty"`
}

// Record is the unified record type used throughout SyncForge. Every
// acquisition path produces Records and every downstream stage (save,
// refine, export) consumes them. Records should be obtained from the
// global pool via GetRecord rather than created directly.
type Record struct {
	// ID is a unique identifier for the record
	ID string `json:"id"`
	// Data contains the actual record payload
	Data map[string]interface{} `json:"data"`
	// Metadata contains provenance and sync bookkeeping
	Metadata RecordMetadata `json:"metadata"`
}

// RecordPool provides optimized pooling for Record objects. Records are
// pre-allocated with a 16-capacity data map and fully cleared on return.
var RecordPool = New(
	func() *Record {
		return &Record{
			Data: make(map[string]interface{}, 16),
		}
	},
	func(r *Record) {
		r.ID = ""
		for k := range r.Data {
			delete(r.Data, k)
		}
		if r.Metadata.Custom != nil {
			for k := range r.Metadata.Custom {
				delete(r.Metadata.Custom, k)
			}
		}
		r.Metadata = RecordMetadata{}
	},
)

// GetRecord retrieves a record from the global pool
func GetRecord() *Record {
	return RecordPool.Get()
}

// Release returns the record to the global pool
func (r *Record) Release() {
	RecordPool.Put(r)
}

// SetData sets a data field on the record
func (r *Record) SetData(key string, value interface{}) {
	r.Data[key] = value
}
