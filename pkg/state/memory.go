package state

import (
	"context"
	"sync"
	"time"

	"github.com/ajitpratap0/syncforge/pkg/errors"
)

// MemoryCheckpointStore keeps checkpoints in process memory. Suited to
// single-process runs and tests; state does not survive a restart.
type MemoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint
}

// NewMemoryCheckpointStore creates an empty in-memory checkpoint store
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		checkpoints: make(map[string]*Checkpoint),
	}
}

// Get returns a copy of the source's checkpoint, or nil if none exists
func (s *MemoryCheckpointStore) Get(_ context.Context, sourceID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[sourceID]
	if !ok {
		return nil, nil
	}
	clone := *cp
	return &clone, nil
}

// Put stores a checkpoint, rejecting cursor regressions unless forced
func (s *MemoryCheckpointStore) Put(_ context.Context, cp *Checkpoint, force bool) error {
	if cp == nil || cp.SourceID == "" {
		return errors.New(errors.ErrorTypeValidation, "checkpoint requires a source id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.checkpoints[cp.SourceID]; ok && !force {
		if CompareCursor(cp.Cursor, prev.Cursor) < 0 {
			return errors.New(errors.ErrorTypeValidation, "cursor regression rejected").
				WithDetail("source_id", cp.SourceID).
				WithDetail("stored_cursor", prev.Cursor).
				WithDetail("new_cursor", cp.Cursor)
		}
	}

	clone := *cp
	s.checkpoints[cp.SourceID] = &clone
	return nil
}

// Delete removes a source's checkpoint
func (s *MemoryCheckpointStore) Delete(_ context.Context, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, sourceID)
	return nil
}

// MemoryIdempotencyStore keeps accepted request keys in process memory
// with lazy expiry.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryIdempotencyStore creates an empty in-memory idempotency store
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Check reports whether a key is currently recorded
func (s *MemoryIdempotencyStore) Check(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New(errors.ErrorTypeValidation, "idempotency key must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.entries[key]
	return ok && s.now().Before(expiry), nil
}

// CheckAndRecord atomically tests and records a key
func (s *MemoryIdempotencyStore) CheckAndRecord(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New(errors.ErrorTypeValidation, "idempotency key must not be empty")
	}
	if ttl <= 0 {
		return false, errors.New(errors.ErrorTypeValidation, "idempotency ttl must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiry, ok := s.entries[key]; ok && now.Before(expiry) {
		return false, nil
	}
	s.entries[key] = now.Add(ttl)

	// Opportunistic sweep so long-lived processes do not grow unbounded
	if len(s.entries) > 10000 {
		for k, expiry := range s.entries {
			if now.After(expiry) {
				delete(s.entries, k)
			}
		}
	}
	return true, nil
}
