// Package pipeline wires the acquisition, save, refine, and export stages
// into one runnable sync pass.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/syncforge/pkg/config"
	"github.com/ajitpratap0/syncforge/pkg/exporter"
	"github.com/ajitpratap0/syncforge/pkg/logger"
	"github.com/ajitpratap0/syncforge/pkg/puller"
	"github.com/ajitpratap0/syncforge/pkg/refiner"
	"github.com/ajitpratap0/syncforge/pkg/saver"
	"github.com/ajitpratap0/syncforge/pkg/scheduler"
)

// Result aggregates the stage outcomes of one run
type Result struct {
	RunID       string                    `json:"run_id"`
	Pull        *puller.PullResult        `json:"pull,omitempty"`
	Save        *saver.SaveResult         `json:"save,omitempty"`
	Refinement  *refiner.RefinementResult `json:"refinement,omitempty"`
	Export      *exporter.ExportResult    `json:"export,omitempty"`
	RecordCount int64                     `json:"record_count"`
	Duration    time.Duration             `json:"duration"`
}

// Runner executes complete sync passes
type Runner struct {
	puller   *puller.Puller
	saves    *saver.Manager
	refiner  *refiner.Refiner
	exporter *exporter.Exporter
	logger   *zap.Logger
}

// NewRunner assembles a runner. The refiner may be nil when no enrichment
// service is wired.
func NewRunner(p *puller.Puller, saves *saver.Manager, ref *refiner.Refiner, exp *exporter.Exporter) *Runner {
	return &Runner{
		puller:   p,
		saves:    saves,
		refiner:  ref,
		exporter: exp,
		logger:   logger.Get().With(zap.String("component", "pipeline")),
	}
}

// Run executes one sync pass against a config snapshot: pull with retry,
// save under the configured strategy, optionally refine, export, then
// release run-scoped batches. Memory-strategy records become unreachable
// once the export stage completes.
func (r *Runner) Run(ctx context.Context, cfg *config.PipelineConfig) (*Result, error) {
	start := time.Now()
	snapshot := cfg.Snapshot()
	runID := uuid.NewString()
	defer r.saves.ReleaseRun(runID)

	ctx = logger.WithJobID(ctx, runID)
	log := r.logger.With(
		zap.String("run_id", runID),
		zap.String("source_id", snapshot.Source.SourceID))
	log.Info("run started")

	result := &Result{RunID: runID}

	pullRes, err := r.puller.PullWithRetry(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	result.Pull = pullRes
	result.RecordCount = pullRes.RowCount
	rows := pullRes.Rows

	saveRes, err := r.saves.Save(ctx, saver.SaveRequest{
		TenantID: snapshot.Source.TenantID,
		SourceID: snapshot.Source.SourceID,
		RunID:    runID,
		Records:  rows,
	}, snapshot.Save)
	if err != nil {
		return nil, err
	}
	result.Save = saveRes

	var refinement *refiner.RefinementResult
	if snapshot.Refine.Enabled && r.refiner != nil {
		refinement, err = r.refiner.Refine(ctx, rows, snapshot.Refine)
		if err != nil {
			// Fails closed: the saved records stay available unrefined
			return nil, err
		}
		result.Refinement = refinement
	}

	exportRes, err := r.exporter.Export(ctx, exporter.ExportRequest{
		SourceID:   snapshot.Source.SourceID,
		Records:    rows,
		Refinement: refinement,
	}, snapshot.Export)
	if err != nil {
		return nil, err
	}
	result.Export = exportRes

	result.Duration = time.Since(start)
	log.Info("run finished",
		zap.Int64("records", result.RecordCount),
		zap.String("strategy", string(saveRes.Strategy)),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// AsRunFunc adapts the runner for scheduler-driven execution. Each
// triggered run executes against the config snapshot the scheduler took
// when the run was created.
func (r *Runner) AsRunFunc() scheduler.RunFunc {
	return func(ctx context.Context, run *scheduler.Run) (int64, error) {
		res, err := r.Run(ctx, run.Config)
		if err != nil {
			return 0, err
		}
		return res.RecordCount, nil
	}
}
