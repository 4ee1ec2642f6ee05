// Package puller implements scheduled and on-demand polling extraction.
// It drives the data reader against connector connections, resumes from
// checkpoints, retries transient failures with backoff, and runs
// independent sources in parallel.
package puller

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/syncforge/pkg/config"
	"github.com/ajitpratap0/syncforge/pkg/connector/base"
	"github.com/ajitpratap0/syncforge/pkg/connector/core"
	"github.com/ajitpratap0/syncforge/pkg/connector/registry"
	"github.com/ajitpratap0/syncforge/pkg/errors"
	"github.com/ajitpratap0/syncforge/pkg/logger"
	"github.com/ajitpratap0/syncforge/pkg/metrics"
	"github.com/ajitpratap0/syncforge/pkg/reader"
	"github.com/ajitpratap0/syncforge/pkg/state"
)

// PullMode distinguishes full and incremental pulls
type PullMode string

const (
	PullModeFull        PullMode = "full"
	PullModeIncremental PullMode = "incremental"
)

// PullResult summarizes one completed pull
type PullResult struct {
	SourceID    string                   `json:"source_id"`
	Mode        PullMode                 `json:"mode"`
	Rows        []map[string]interface{} `json:"-"`
	RowCount    int64                    `json:"row_count"`
	PageCount   int                      `json:"page_count"`
	Cursor      interface{}              `json:"cursor,omitempty"`
	RetriesUsed int                      `json:"retries_used"`
	Duration    time.Duration            `json:"duration"`
	Statistics  reader.Statistics        `json:"statistics"`
}

// ConnectFunc opens a connection for a source. Overridable for tests.
type ConnectFunc func(ctx context.Context, cfg *config.SourceConfig) (core.Connection, error)

// Puller executes polling extraction runs
type Puller struct {
	checkpoints state.CheckpointStore
	reader      *reader.Reader
	connect     ConnectFunc
	logger      *zap.Logger

	// one lock per source so pulls for the same source are strictly
	// sequential while different sources never contend
	mu          sync.Mutex
	sourceLocks map[string]*sync.Mutex
}

// New creates a puller backed by the given checkpoint store. Connections
// are opened through the global connector registry.
func New(checkpoints state.CheckpointStore) *Puller {
	return &Puller{
		checkpoints: checkpoints,
		reader:      reader.New(),
		connect:     connectViaRegistry,
		logger:      logger.Get().With(zap.String("component", "puller")),
		sourceLocks: make(map[string]*sync.Mutex),
	}
}

// WithConnectFunc overrides how connections are opened
func (p *Puller) WithConnectFunc(fn ConnectFunc) *Puller {
	p.connect = fn
	return p
}

func connectViaRegistry(ctx context.Context, cfg *config.SourceConfig) (core.Connection, error) {
	conn, err := registry.Create(cfg.Connector)
	if err != nil {
		return nil, err
	}
	return conn.Connect(ctx, cfg)
}

// PullFull reads the entire source, ignoring any stored checkpoint. When a
// checkpoint field is configured the observed maximum is written back as a
// fresh checkpoint (full resync), overwriting the old one only after the
// read completes.
func (p *Puller) PullFull(ctx context.Context, cfg *config.PipelineConfig) (*PullResult, error) {
	lock := p.sourceLock(cfg.Source.SourceID)
	lock.Lock()
	defer lock.Unlock()

	sel := core.Selector{
		Table:       cfg.Acquisition.Table,
		Query:       cfg.Acquisition.Query,
		CursorField: cfg.Acquisition.CheckpointField,
	}

	result, err := p.run(ctx, cfg, sel, PullModeFull)
	if err != nil {
		metrics.PullsTotal.WithLabelValues(string(PullModeFull), "error").Inc()
		return nil, err
	}

	if cfg.Acquisition.CheckpointField != "" && result.Cursor != nil {
		cp := &state.Checkpoint{
			SourceID:      cfg.Source.SourceID,
			Cursor:        result.Cursor,
			LastRun:       time.Now().UTC(),
			RowsProcessed: result.RowCount,
		}
		if err := p.checkpoints.Put(ctx, cp, true); err != nil {
			metrics.PullsTotal.WithLabelValues(string(PullModeFull), "error").Inc()
			return nil, err
		}
	}

	metrics.PullsTotal.WithLabelValues(string(PullModeFull), "success").Inc()
	return result, nil
}

// PullIncremental reads only rows past the stored checkpoint cursor and,
// on success, atomically advances the checkpoint to the maximum cursor
// observed. With no stored checkpoint this degrades to a full read and
// creates the first checkpoint.
func (p *Puller) PullIncremental(ctx context.Context, cfg *config.PipelineConfig) (*PullResult, error) {
	if cfg.Acquisition.CheckpointField == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "incremental pull requires a checkpoint field")
	}

	lock := p.sourceLock(cfg.Source.SourceID)
	lock.Lock()
	defer lock.Unlock()

	prev, err := p.checkpoints.Get(ctx, cfg.Source.SourceID)
	if err != nil {
		return nil, err
	}

	sel := core.Selector{
		Table:       cfg.Acquisition.Table,
		Query:       cfg.Acquisition.Query,
		CursorField: cfg.Acquisition.CheckpointField,
	}
	if prev != nil {
		sel.CursorAfter = prev.Cursor
	}

	result, err := p.run(ctx, cfg, sel, PullModeIncremental)
	if err != nil {
		metrics.PullsTotal.WithLabelValues(string(PullModeIncremental), "error").Inc()
		return nil, err
	}

	// Checkpoint commit is all-or-nothing at the end of a successful pull
	cursor := result.Cursor
	rowsProcessed := result.RowCount
	if prev != nil {
		cursor = state.MaxCursor(cursor, prev.Cursor)
		rowsProcessed += prev.RowsProcessed
	}
	if cursor != nil {
		cp := &state.Checkpoint{
			SourceID:      cfg.Source.SourceID,
			Cursor:        cursor,
			LastRun:       time.Now().UTC(),
			RowsProcessed: rowsProcessed,
		}
		if err := p.checkpoints.Put(ctx, cp, false); err != nil {
			metrics.PullsTotal.WithLabelValues(string(PullModeIncremental), "error").Inc()
			return nil, err
		}
		result.Cursor = cursor
	}

	metrics.PullsTotal.WithLabelValues(string(PullModeIncremental), "success").Inc()
	return result, nil
}

// Pull chooses incremental when a checkpoint field is configured, full
// otherwise.
func (p *Puller) Pull(ctx context.Context, cfg *config.PipelineConfig) (*PullResult, error) {
	if cfg.Acquisition.CheckpointField != "" {
		return p.PullIncremental(ctx, cfg)
	}
	return p.PullFull(ctx, cfg)
}

// PullWithRetry wraps Pull with exponential backoff on transient failures.
// Permanent errors (validation, permission) surface immediately without
// retry. The number of retries used is recorded in the result.
func (p *Puller) PullWithRetry(ctx context.Context, cfg *config.PipelineConfig) (*PullResult, error) {
	policy := base.NewRetryPolicy(cfg.Reliability)
	correlationID := uuid.NewString()
	log := p.logger.With(
		zap.String("correlation_id", correlationID),
		zap.String("source_id", cfg.Source.SourceID))

	var result *PullResult
	attempt := 0
	retries, err := policy.ExecuteWithCondition(ctx, func() error {
		attempt++
		log.Info("pull attempt", zap.Int("attempt", attempt))
		r, err := p.Pull(ctx, cfg)
		if err != nil {
			log.Warn("pull attempt failed",
				zap.Int("attempt", attempt),
				zap.String("error_code", errors.CodeOf(err)),
				zap.Error(err))
			metrics.RetryAttempts.WithLabelValues(cfg.Source.SourceID).Inc()
			return err
		}
		result = r
		return nil
	}, errors.IsRetryable)
	if err != nil {
		// Retries used survive structurally, not just in the message text
		return nil, errors.Wrap(err, errors.ErrorType(errors.CodeOf(err)), "pull failed").
			WithDetail("retries_used", retries)
	}
	result.RetriesUsed = retries
	return result, nil
}

// ParallelResult carries one source's outcome from a parallel pull
type ParallelResult struct {
	SourceID string
	Result   *PullResult
	Err      error
}

// PullParallel executes independent pulls concurrently. Each source's
// failure is isolated: it neither aborts nor corrupts another source's
// pull or checkpoint.
func (p *Puller) PullParallel(ctx context.Context, cfgs []*config.PipelineConfig) []ParallelResult {
	results := make([]ParallelResult, len(cfgs))

	g, ctx := errgroup.WithContext(ctx)
	for i, cfg := range cfgs {
		i, cfg := i, cfg
		g.Go(func() error {
			res, err := p.PullWithRetry(ctx, cfg)
			results[i] = ParallelResult{
				SourceID: cfg.Source.SourceID,
				Result:   res,
				Err:      err,
			}
			// Failures are reported per source, never propagated as a
			// group error that would cancel sibling pulls
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// run connects, drains all pages, and builds the result. The checkpoint is
// never touched here; callers commit it after a fully successful drain.
func (p *Puller) run(ctx context.Context, cfg *config.PipelineConfig, sel core.Selector, mode PullMode) (*PullResult, error) {
	start := time.Now()

	conn, err := p.connect(ctx, &cfg.Source)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close(ctx) }()

	stream, err := p.reader.Read(ctx, conn, sel, cfg.Acquisition.PageSize)
	if err != nil {
		return nil, err
	}

	result := &PullResult{
		SourceID: cfg.Source.SourceID,
		Mode:     mode,
	}

	for page := range stream.Pages {
		reader.CountPages(cfg.Source.Connector, cfg.Source.SourceID, page)
		result.Rows = append(result.Rows, page.Rows...)
		result.PageCount++
		if sel.CursorField != "" {
			for _, row := range page.Rows {
				result.Cursor = state.MaxCursor(result.Cursor, row[sel.CursorField])
			}
		}
	}
	if err := <-stream.Errors; err != nil {
		return nil, err
	}

	result.RowCount = int64(len(result.Rows))
	result.Duration = time.Since(start)
	result.Statistics = stream.Stats()
	return result, nil
}

// sourceLock returns the mutex serializing pulls for one source
func (p *Puller) sourceLock(sourceID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	if lock, ok := p.sourceLocks[sourceID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	p.sourceLocks[sourceID] = lock
	return lock
}
