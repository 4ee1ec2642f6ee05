package exporter

import (
	"context"
	"sync"

	"github.com/ajitpratap0/syncforge/pkg/state"
)

// MarkerStore remembers, per source, how far exports have progressed
type MarkerStore interface {
	Get(ctx context.Context, sourceID string) (interface{}, error)
	Put(ctx context.Context, sourceID string, marker interface{}) error
}

// MemoryMarkerStore keeps export markers in process memory
type MemoryMarkerStore struct {
	mu      sync.RWMutex
	markers map[string]interface{}
}

// NewMemoryMarkerStore creates an empty marker store
func NewMemoryMarkerStore() *MemoryMarkerStore {
	return &MemoryMarkerStore{markers: make(map[string]interface{})}
}

func (s *MemoryMarkerStore) Get(_ context.Context, sourceID string) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.markers[sourceID], nil
}

func (s *MemoryMarkerStore) Put(_ context.Context, sourceID string, marker interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[sourceID] = marker
	return nil
}

// compareMarker orders marker values the same way checkpoint cursors are
// ordered
func compareMarker(a, b interface{}) int {
	return state.CompareCursor(a, b)
}
