// Package metrics provides performance tracking and observability for
// SyncForge using Prometheus metrics. It offers pre-registered collectors
// for the pipeline's key indicators: rows read, pull outcomes, retries,
// webhook receipts, refinement cache efficiency and export volume.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsRead tracks total rows read from sources.
	// Labels: connector (postgresql/mysql/mongodb), source_id
	RowsRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncforge_rows_read_total",
			Help: "Total number of rows read from sources",
		},
		[]string{"connector", "source_id"},
	)

	// PagesRead tracks pages produced by the data reader
	PagesRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncforge_pages_read_total",
			Help: "Total number of pages read from sources",
		},
		[]string{"connector", "source_id"},
	)

	// PullsTotal tracks pull executions by mode and outcome.
	// Labels: mode (full/incremental), status (success/failure)
	PullsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncforge_pulls_total",
			Help: "Total number of pull executions",
		},
		[]string{"mode", "status"},
	)

	// RetryAttempts tracks retry attempts during pulls
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncforge_retry_attempts_total",
			Help: "Total number of retry attempts",
		},
		[]string{"source_id"},
	)

	// WebhookReceipts tracks webhook deliveries by outcome.
	// Labels: status (accepted/duplicate/rejected)
	WebhookReceipts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncforge_webhook_receipts_total",
			Help: "Total number of webhook deliveries by outcome",
		},
		[]string{"status"},
	)

	// RefinementCache tracks semantic cache efficiency.
	// Labels: result (hit/miss)
	RefinementCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncforge_refinement_cache_total",
			Help: "Semantic refinement cache lookups by result",
		},
		[]string{"result"},
	)

	// ExportBytes tracks bytes written per export format
	ExportBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncforge_export_bytes_total",
			Help: "Total bytes written to export artifacts",
		},
		[]string{"format"},
	)

	// JobDuration tracks end-to-end sync job durations.
	// Labels: status (completed/failed)
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "syncforge_job_duration_seconds",
			Help: "Sync job duration in seconds",
			Buckets: []float64{
				0.1, // trivial sources
				1,
				10,
				60,
				300,  // 5m
				1800, // 30m - default job timeout
			},
		},
		[]string{"status"},
	)

	// RunningJobs tracks currently running jobs per tenant
	RunningJobs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "syncforge_running_jobs",
			Help: "Number of currently running sync jobs",
		},
		[]string{"tenant_id"},
	)

	// QueuedJobs tracks jobs waiting under the tenant concurrency cap
	QueuedJobs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "syncforge_queued_jobs",
			Help: "Number of sync jobs queued behind the concurrency cap",
		},
		[]string{"tenant_id"},
	)
)

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Stop returns the elapsed duration since the timer was created
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
