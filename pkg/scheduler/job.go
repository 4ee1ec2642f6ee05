// Package scheduler is the top-level orchestrator: it owns cron and
// manual triggers, the per-run job state machine, priority queueing under
// a tenant concurrency cap, failure alerting, and append-only sync
// history.
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ajitpratap0/syncforge/pkg/config"
	"github.com/ajitpratap0/syncforge/pkg/errors"
)

// JobStatus is a run's position in the state machine. Transitions are
// one-directional; terminal states are immutable.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// terminal reports whether a status permits no further transitions
func (s JobStatus) terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is a scheduled sync definition. Each trigger spawns one run; the
// job carries the cron binding, priority, and the latest run outcome.
type Job struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id"`
	TenantID string `json:"tenant_id"`
	CronExpr string `json:"cron_expr,omitempty"`
	Priority int    `json:"priority"`

	// LastStatus mirrors the most recent run
	LastStatus JobStatus `json:"last_status"`

	cfg    *config.PipelineConfig
	cronID cron.EntryID
}

// Run is one execution of a job
type Run struct {
	RunID       string    `json:"run_id"`
	JobID       string    `json:"job_id"`
	SourceID    string    `json:"source_id"`
	Status      JobStatus `json:"status"`
	RecordCount int64     `json:"record_count"`
	ErrorCount  int64     `json:"error_count"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	// Error carries the full failure detail for failed runs
	Error string `json:"error,omitempty"`

	// Config is the snapshot the run executes against; an in-flight run
	// never observes later config changes
	Config *config.PipelineConfig `json:"-"`
}

// transition advances the run's state machine. Terminal states are
// immutable: moving out of one is a validation error and the status is
// left untouched.
func (r *Run) transition(next JobStatus) error {
	if r.Status.terminal() {
		return errors.New(errors.ErrorTypeValidation, "run is already in a terminal state").
			WithDetail("run_id", r.RunID).
			WithDetail("status", string(r.Status))
	}
	r.Status = next
	return nil
}

// HistoryRecord is the append-only audit record of one finished run
type HistoryRecord struct {
	JobID       string    `json:"job_id"`
	RunID       string    `json:"run_id"`
	SourceID    string    `json:"source_id"`
	Status      JobStatus `json:"status"`
	RecordCount int64     `json:"record_count"`
	ErrorCount  int64     `json:"error_count"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	Error       string    `json:"error,omitempty"`
}
