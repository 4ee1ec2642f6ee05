package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ajitpratap0/syncforge/pkg/config"
	"github.com/ajitpratap0/syncforge/pkg/errors"
	"github.com/ajitpratap0/syncforge/pkg/logger"
	"github.com/ajitpratap0/syncforge/pkg/metrics"
	"github.com/ajitpratap0/syncforge/pkg/puller"
)

// RunFunc executes one sync run against a config snapshot. The context
// carries the job timeout; implementations must stop and release source
// connections when it fires.
type RunFunc func(ctx context.Context, run *Run) (recordCount int64, err error)

// Notifier is the external alerting collaborator. It is called exactly
// once per failed run; its own errors are logged and swallowed.
type Notifier interface {
	NotifyFailure(run Run)
}

// Scheduler owns jobs, triggers, queueing, and history
type Scheduler struct {
	run      RunFunc
	notifier Notifier
	cfg      config.SchedulerConfig
	cron     *cron.Cron
	logger   *zap.Logger

	mu               sync.Mutex
	jobs             map[string]*Job
	queue            runQueue
	seq              int64
	runningPerTenant map[string]int
	history          map[string][]HistoryRecord

	wg     sync.WaitGroup
	closed bool
}

// New creates a scheduler. The notifier may be nil when no alerting is
// wired.
func New(run RunFunc, notifier Notifier, cfg config.SchedulerConfig) *Scheduler {
	if cfg.TenantConcurrencyCap <= 0 {
		cfg.TenantConcurrencyCap = 4
	}
	return &Scheduler{
		run:              run,
		notifier:         notifier,
		cfg:              cfg,
		cron:             cron.New(),
		logger:           logger.Get().With(zap.String("component", "scheduler")),
		jobs:             make(map[string]*Job),
		runningPerTenant: make(map[string]int),
		history:          make(map[string][]HistoryRecord),
	}
}

// Start begins firing cron triggers
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts cron triggers and waits for in-flight runs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
}

// Schedule registers a job bound to a cron trigger. The expression is
// validated for syntax and the one minute minimum interval before
// anything is stored.
func (s *Scheduler) Schedule(pipelineCfg *config.PipelineConfig, cronExpr string, priority int) (string, error) {
	if err := puller.ValidateCronExpr(cronExpr); err != nil {
		return "", err
	}
	if err := pipelineCfg.Validate(); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeValidation, "invalid pipeline config")
	}

	job := &Job{
		ID:         uuid.NewString(),
		SourceID:   pipelineCfg.Source.SourceID,
		TenantID:   pipelineCfg.Source.TenantID,
		CronExpr:   cronExpr,
		Priority:   priority,
		LastStatus: StatusPending,
		cfg:        pipelineCfg,
	}

	entryID, err := s.cron.AddFunc(cronExpr, func() {
		if _, err := s.trigger(job.ID); err != nil {
			s.logger.Warn("cron trigger failed",
				zap.String("job_id", job.ID),
				zap.Error(err))
		}
	})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeValidation, "failed to bind cron trigger")
	}
	job.cronID = entryID

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	s.logger.Info("job scheduled",
		zap.String("job_id", job.ID),
		zap.String("source_id", job.SourceID),
		zap.String("cron", cronExpr),
		zap.Int("priority", priority))
	return job.ID, nil
}

// TriggerManual forces an immediate run regardless of the cron schedule
func (s *Scheduler) TriggerManual(jobID string) (string, error) {
	return s.trigger(jobID)
}

// SetPriority changes a job's priority. Queued runs are reordered;
// already-running runs are never preempted.
func (s *Scheduler) SetPriority(jobID string, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return errors.New(errors.ErrorTypeNotFound, "job not found").
			WithDetail("job_id", jobID)
	}
	job.Priority = priority
	s.queue.reprioritize(jobID, priority)
	return nil
}

// GetJob returns a job definition
func (s *Scheduler) GetJob(jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, errors.New(errors.ErrorTypeNotFound, "job not found").
			WithDetail("job_id", jobID)
	}
	clone := *job
	return &clone, nil
}

// GetHistory returns the append-only run records for a job, newest first
func (s *Scheduler) GetHistory(jobID string) []HistoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.history[jobID]
	out := make([]HistoryRecord, len(records))
	for i, rec := range records {
		out[len(records)-1-i] = rec
	}
	return out
}

// trigger creates a pending run and queues it for dispatch
func (s *Scheduler) trigger(jobID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", errors.New(errors.ErrorTypeInternal, "scheduler is stopped")
	}
	job, ok := s.jobs[jobID]
	if !ok {
		return "", errors.New(errors.ErrorTypeNotFound, "job not found").
			WithDetail("job_id", jobID)
	}

	run := &Run{
		RunID:    uuid.NewString(),
		JobID:    job.ID,
		SourceID: job.SourceID,
		Status:   StatusPending,
		Config:   job.cfg.Snapshot(),
	}

	s.seq++
	heap.Push(&s.queue, &queuedRun{
		run:      run,
		job:      job,
		priority: job.Priority,
		seq:      s.seq,
	})
	metrics.QueuedJobs.WithLabelValues(job.TenantID).Inc()

	s.dispatchLocked()
	return run.RunID, nil
}

// dispatchLocked launches every queued run whose tenant has a free slot.
// Caller holds s.mu.
func (s *Scheduler) dispatchLocked() {
	var blocked []*queuedRun
	for s.queue.Len() > 0 {
		next := heap.Pop(&s.queue).(*queuedRun)
		if s.runningPerTenant[next.job.TenantID] >= s.cfg.TenantConcurrencyCap {
			blocked = append(blocked, next)
			continue
		}
		if err := next.run.transition(StatusRunning); err != nil {
			metrics.QueuedJobs.WithLabelValues(next.job.TenantID).Dec()
			s.logger.Warn("queued run not startable",
				zap.String("run_id", next.run.RunID),
				zap.Error(err))
			continue
		}
		s.runningPerTenant[next.job.TenantID]++
		metrics.QueuedJobs.WithLabelValues(next.job.TenantID).Dec()
		metrics.RunningJobs.WithLabelValues(next.job.TenantID).Inc()

		next.run.StartedAt = time.Now().UTC()
		next.job.LastStatus = StatusRunning

		s.wg.Add(1)
		go s.execute(next.job, next.run)
	}
	// Runs beyond the cap queue rather than run, keeping priority order
	for _, item := range blocked {
		heap.Push(&s.queue, item)
	}
}

// execute drives one run to a terminal state
func (s *Scheduler) execute(job *Job, run *Run) {
	defer s.wg.Done()

	timer := metrics.NewTimer("job")
	ctx := context.Background()
	var cancel context.CancelFunc
	if s.cfg.JobTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	records, err := s.run(ctx, run)
	if err == nil && ctx.Err() != nil {
		err = errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "run exceeded the job timeout")
	}

	run.EndedAt = time.Now().UTC()
	run.RecordCount = records
	final := StatusCompleted
	if err != nil {
		final = StatusFailed
		run.ErrorCount = 1
		run.Error = err.Error()
	}
	if terr := run.transition(final); terr != nil {
		s.logger.Warn("run already terminal",
			zap.String("run_id", run.RunID),
			zap.Error(terr))
	}

	s.mu.Lock()
	job.LastStatus = run.Status
	s.runningPerTenant[job.TenantID]--
	s.history[job.ID] = append(s.history[job.ID], HistoryRecord{
		JobID:       run.JobID,
		RunID:       run.RunID,
		SourceID:    run.SourceID,
		Status:      run.Status,
		RecordCount: run.RecordCount,
		ErrorCount:  run.ErrorCount,
		StartedAt:   run.StartedAt,
		EndedAt:     run.EndedAt,
		Error:       run.Error,
	})
	s.dispatchLocked()
	s.mu.Unlock()

	metrics.RunningJobs.WithLabelValues(job.TenantID).Dec()
	metrics.JobDuration.WithLabelValues(string(run.Status)).Observe(timer.Stop().Seconds())

	if run.Status == StatusFailed {
		s.logger.Error("run failed",
			zap.String("job_id", run.JobID),
			zap.String("run_id", run.RunID),
			zap.String("error", run.Error))
		s.notifyFailure(*run)
	} else {
		s.logger.Info("run completed",
			zap.String("job_id", run.JobID),
			zap.String("run_id", run.RunID),
			zap.Int64("records", run.RecordCount))
	}
}

// notifyFailure alerts the collaborator exactly once per failed run.
// Notifier panics and errors never take down the scheduler.
func (s *Scheduler) notifyFailure(run Run) {
	if s.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("failure notifier panicked", zap.Any("panic", r))
		}
	}()
	s.notifier.NotifyFailure(run)
}
