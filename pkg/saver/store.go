// Package saver implements the save strategy manager. Acquired records
// are either persisted durably keyed by tenant, held only for the current
// pipeline run, or routed between the two by serialized size.
package saver

import (
	"context"
	"sync"
	"time"

	"github.com/ajitpratap0/syncforge/pkg/config"
)

// SavedBatch is one saved group of records
type SavedBatch struct {
	BatchID  string                   `json:"batch_id"`
	TenantID string                   `json:"tenant_id"`
	SourceID string                   `json:"source_id"`
	Records  []map[string]interface{} `json:"records"`
	SavedAt  time.Time                `json:"saved_at"`
	Strategy config.SaveStrategy      `json:"strategy"`
	ByteSize int64                    `json:"byte_size"`
}

// RecordStore is durable batch storage for the persistent strategy
type RecordStore interface {
	// Put stores a batch
	Put(ctx context.Context, batch *SavedBatch) error
	// Get returns a batch by id, or nil if not found
	Get(ctx context.Context, batchID string) (*SavedBatch, error)
	// ListByTenant returns all batches owned by a tenant
	ListByTenant(ctx context.Context, tenantID string) ([]*SavedBatch, error)
	// DeleteOlderThan removes batches saved before the cutoff and returns
	// the count removed
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	// Delete removes a single batch
	Delete(ctx context.Context, batchID string) error
}

// MemoryRecordStore keeps batches in process memory. Used for tests and
// single-process deployments.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	batches map[string]*SavedBatch
}

// NewMemoryRecordStore creates an empty in-memory record store
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{batches: make(map[string]*SavedBatch)}
}

func (s *MemoryRecordStore) Put(_ context.Context, batch *SavedBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batch.BatchID] = batch
	return nil
}

func (s *MemoryRecordStore) Get(_ context.Context, batchID string) (*SavedBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batches[batchID], nil
}

func (s *MemoryRecordStore) ListByTenant(_ context.Context, tenantID string) ([]*SavedBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*SavedBatch
	for _, b := range s.batches {
		if b.TenantID == tenantID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *MemoryRecordStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, b := range s.batches {
		if b.SavedAt.Before(cutoff) {
			delete(s.batches, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryRecordStore) Delete(_ context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, batchID)
	return nil
}
