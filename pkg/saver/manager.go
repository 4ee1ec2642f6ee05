package saver

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/syncforge/pkg/config"
	"github.com/ajitpratap0/syncforge/pkg/errors"
	"github.com/ajitpratap0/syncforge/pkg/json"
	"github.com/ajitpratap0/syncforge/pkg/logger"
	"github.com/ajitpratap0/syncforge/pkg/pool"
)

// SaveRequest identifies the records being saved and their ownership
type SaveRequest struct {
	TenantID string
	SourceID string
	// RunID scopes memory-strategy batches to one pipeline run
	RunID   string
	Records []map[string]interface{}
}

// SaveResult reports where and how a batch was saved
type SaveResult struct {
	BatchID string `json:"batch_id"`
	// Strategy is the effective strategy after hybrid routing
	Strategy    config.SaveStrategy `json:"strategy"`
	RecordCount int                 `json:"record_count"`
	ByteSize    int64               `json:"byte_size"`
}

// Manager routes record batches between durable and run-scoped storage
// according to the configured save strategy.
type Manager struct {
	store  RecordStore
	logger *zap.Logger

	// run-scoped batches: runID → batchID → batch
	mu   sync.RWMutex
	runs map[string]map[string]*runBatch
}

// runBatch holds memory-strategy records in pooled form so releasing the
// run returns their buffers to the record pool, leaving no trace
type runBatch struct {
	tenantID string
	pooled   []*pool.Record
}

// NewManager creates a save strategy manager over a durable record store
func NewManager(store RecordStore) *Manager {
	return &Manager{
		store:  store,
		logger: logger.Get().With(zap.String("component", "saver")),
		runs:   make(map[string]map[string]*runBatch),
	}
}

// Save stores a record batch under the configured strategy. Hybrid routing
// is deterministic: serialized size at or above the threshold goes
// persistent, below it stays in memory.
func (m *Manager) Save(ctx context.Context, req SaveRequest, cfg config.SaveConfig) (*SaveResult, error) {
	if req.TenantID == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "tenant id is required")
	}

	size, err := serializedSize(req.Records)
	if err != nil {
		return nil, err
	}

	effective := cfg.Strategy
	if effective == config.SaveStrategyHybrid {
		if cfg.HybridThresholdBytes <= 0 {
			return nil, errors.New(errors.ErrorTypeValidation, "hybrid strategy requires a positive byte threshold")
		}
		if size >= int64(cfg.HybridThresholdBytes) {
			effective = config.SaveStrategyPersistent
		} else {
			effective = config.SaveStrategyMemory
		}
	}

	batch := &SavedBatch{
		BatchID:  uuid.NewString(),
		TenantID: req.TenantID,
		SourceID: req.SourceID,
		Records:  req.Records,
		SavedAt:  time.Now().UTC(),
		Strategy: effective,
		ByteSize: size,
	}

	switch effective {
	case config.SaveStrategyPersistent:
		if err := m.store.Put(ctx, batch); err != nil {
			return nil, err
		}
	case config.SaveStrategyMemory:
		if req.RunID == "" {
			return nil, errors.New(errors.ErrorTypeValidation, "memory strategy requires a run id")
		}
		pooled := make([]*pool.Record, len(req.Records))
		for i, row := range req.Records {
			rec := pool.GetRecord()
			rec.ID = batch.BatchID
			for k, v := range row {
				rec.SetData(k, v)
			}
			rec.Metadata.TenantID = req.TenantID
			rec.Metadata.SourceID = req.SourceID
			rec.Metadata.Timestamp = batch.SavedAt
			pooled[i] = rec
		}
		m.mu.Lock()
		if m.runs[req.RunID] == nil {
			m.runs[req.RunID] = make(map[string]*runBatch)
		}
		m.runs[req.RunID][batch.BatchID] = &runBatch{
			tenantID: req.TenantID,
			pooled:   pooled,
		}
		m.mu.Unlock()
	default:
		return nil, errors.New(errors.ErrorTypeValidation, "unknown save strategy").
			WithDetail("strategy", string(cfg.Strategy))
	}

	m.logger.Info("batch saved",
		zap.String("batch_id", batch.BatchID),
		zap.String("tenant_id", req.TenantID),
		zap.String("strategy", string(effective)),
		zap.Int("records", len(req.Records)),
		zap.Int64("bytes", size))

	return &SaveResult{
		BatchID:     batch.BatchID,
		Strategy:    effective,
		RecordCount: len(req.Records),
		ByteSize:    size,
	}, nil
}

// Retrieve returns a batch's records. Batches are only visible to their
// owning tenant; cross-tenant access fails with a permission error, not a
// not-found, so misconfigured callers are distinguishable from expired
// data.
func (m *Manager) Retrieve(ctx context.Context, tenantID, batchID string) ([]map[string]interface{}, error) {
	batch, err := m.store.Get(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch != nil {
		if batch.TenantID != tenantID {
			return nil, errors.New(errors.ErrorTypePermission, "batch belongs to another tenant").
				WithDetail("batch_id", batchID)
		}
		return batch.Records, nil
	}

	rb := m.findRunBatch(batchID)
	if rb == nil {
		return nil, errors.New(errors.ErrorTypeNotFound, "batch not found").
			WithDetail("batch_id", batchID)
	}
	if rb.tenantID != tenantID {
		return nil, errors.New(errors.ErrorTypePermission, "batch belongs to another tenant").
			WithDetail("batch_id", batchID)
	}
	// Copies, not the pooled maps: callers may hold the rows across
	// ReleaseRun, which clears and recycles the pooled records
	rows := make([]map[string]interface{}, len(rb.pooled))
	for i, rec := range rb.pooled {
		row := make(map[string]interface{}, len(rec.Data))
		for k, v := range rec.Data {
			row[k] = v
		}
		rows[i] = row
	}
	return rows, nil
}

// RetrieveByTenant returns every persisted batch owned by a tenant
func (m *Manager) RetrieveByTenant(ctx context.Context, tenantID string) ([]*SavedBatch, error) {
	return m.store.ListByTenant(ctx, tenantID)
}

// ReleaseRun discards all memory-strategy batches for a pipeline run.
// Call after the run's export stage completes: the pooled records are
// cleared and recycled, so no durable trace of the batch remains.
func (m *Manager) ReleaseRun(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batches, ok := m.runs[runID]
	if !ok {
		return
	}
	for _, rb := range batches {
		for _, rec := range rb.pooled {
			rec.Release()
		}
	}
	delete(m.runs, runID)
	m.logger.Debug("run batches released",
		zap.String("run_id", runID),
		zap.Int("batches", len(batches)))
}

// CleanupExpired removes persisted batches older than the retention window
// and returns the count removed. This is the only automated deletion path
// for persisted data.
func (m *Manager) CleanupExpired(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, errors.New(errors.ErrorTypeValidation, "retention days must be positive")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	removed, err := m.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		m.logger.Info("expired batches removed",
			zap.Int("removed", removed),
			zap.Time("cutoff", cutoff))
	}
	return removed, nil
}

func (m *Manager) findRunBatch(batchID string) *runBatch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, batches := range m.runs {
		if b, ok := batches[batchID]; ok {
			return b
		}
	}
	return nil
}

// serializedSize measures the batch the same way hybrid routing and
// statistics do, by JSON encoding
func serializedSize(records []map[string]interface{}) (int64, error) {
	raw, err := json.EncodePooled(records)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeData, "records are not serializable")
	}
	return int64(len(raw)), nil
}
