// Package config provides the unified configuration system for SyncForge.
// It defines a single PipelineConfig structure that every pipeline stage
// consumes, ensuring consistent configuration across the system.
//
// The configuration is organized into logical sections:
//   - Source: tenant/source identity, source kind, connection parameters
//   - Acquisition: paging, selectors, checkpoint field, schedule
//   - Reliability: retry and backoff behavior
//   - Save: save strategy, hybrid threshold, retention
//   - Refine: semantic enrichment service and cache settings
//   - Export: formats, desensitization, splits, compression
//   - Scheduler: concurrency caps and job timeouts
//   - Observability: logging and metrics
//
// Jobs snapshot the config at start; an in-flight job never observes
// config mutations.
package config

import (
	"fmt"
	"math"
	"time"
)

// SourceKind identifies the acquisition protocol of a source
type SourceKind string

const (
	SourceKindDatabase SourceKind = "database"
	SourceKindAPI      SourceKind = "api"
	SourceKindWebhook  SourceKind = "webhook"
)

// SaveStrategy selects how acquired records are stored
type SaveStrategy string

const (
	SaveStrategyPersistent SaveStrategy = "persistent"
	SaveStrategyMemory     SaveStrategy = "memory"
	SaveStrategyHybrid     SaveStrategy = "hybrid"
)

// PipelineConfig is the single unified configuration structure consumed by
// every pipeline stage.
type PipelineConfig struct {
	// Name identifies the pipeline instance
	Name string `yaml:"name" json:"name"`

	Source        SourceConfig        `yaml:"source" json:"source"`
	Acquisition   AcquisitionConfig   `yaml:"acquisition" json:"acquisition"`
	Reliability   ReliabilityConfig   `yaml:"reliability" json:"reliability"`
	Save          SaveConfig          `yaml:"save" json:"save"`
	Refine        RefineConfig        `yaml:"refine" json:"refine"`
	Export        ExportConfig        `yaml:"export" json:"export"`
	Scheduler     SchedulerConfig     `yaml:"scheduler" json:"scheduler"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// SourceConfig identifies a configured source and how to connect to it.
// Credentials arrive already decrypted from the config collaborator and
// are never logged or persisted by the pipeline.
type SourceConfig struct {
	// TenantID is the owning tenant
	TenantID string `yaml:"tenant_id" json:"tenant_id"`
	// SourceID identifies this source within the tenant
	SourceID string `yaml:"source_id" json:"source_id"`
	// Kind is the acquisition protocol (database, api, webhook)
	Kind SourceKind `yaml:"kind" json:"kind"`
	// Connector names the connector family (postgresql, mysql, mongodb)
	Connector string `yaml:"connector" json:"connector"`
	// Credentials holds connection parameters (connection_string, table, ...).
	// Never logged.
	Credentials map[string]string `yaml:"credentials" json:"credentials"`
	// WebhookSecret is the HMAC key for webhook sources. Never logged.
	WebhookSecret string `yaml:"webhook_secret" json:"webhook_secret"`
}

// AcquisitionConfig controls how records are read from the source
type AcquisitionConfig struct {
	// PageSize bounds rows held in memory per page; must be positive
	PageSize int `yaml:"page_size" json:"page_size"`
	// Table to read, when no query is given
	Table string `yaml:"table" json:"table"`
	// Query overrides Table when set; must be read-only
	Query string `yaml:"query" json:"query"`
	// CheckpointField is the ordering column for incremental pulls
	CheckpointField string `yaml:"checkpoint_field" json:"checkpoint_field"`
	// CronExpr is the pull schedule; minimum interval one minute
	CronExpr string `yaml:"cron_expr" json:"cron_expr"`
	// MaxBatchRecords caps a single webhook payload; defaults to 10000
	MaxBatchRecords int `yaml:"max_batch_records" json:"max_batch_records"`
}

// ReliabilityConfig contains retry and backoff settings
type ReliabilityConfig struct {
	// RetryAttempts sets maximum retry attempts for transient failures
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	// RetryDelay is the initial delay between retries
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// RetryMultiplier increases delay exponentially
	RetryMultiplier float64 `yaml:"retry_multiplier" json:"retry_multiplier"`
	// MaxRetryDelay caps the backoff delay
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
	// RandomizeFactor applies jitter to backoff delays (0.0-1.0)
	RandomizeFactor float64 `yaml:"randomize_factor" json:"randomize_factor"`
}

// SaveConfig controls the save strategy
type SaveConfig struct {
	// Strategy selects persistent, memory, or hybrid semantics
	Strategy SaveStrategy `yaml:"strategy" json:"strategy"`
	// HybridThresholdBytes routes hybrid saves: serialized size at or above
	// the threshold goes persistent (inclusive boundary), below stays in
	// memory.
	HybridThresholdBytes int `yaml:"hybrid_threshold_bytes" json:"hybrid_threshold_bytes"`
	// RetentionDays bounds how long persisted records are kept
	RetentionDays int `yaml:"retention_days" json:"retention_days"`
}

// RefineConfig controls the semantic refinement stage
type RefineConfig struct {
	// Enabled toggles the refinement pass
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Endpoint of the external enrichment service
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// ModelHint is forwarded to the enrichment service
	ModelHint string `yaml:"model_hint" json:"model_hint"`
	// CacheTTL bounds how long refinement results are reused
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	// Timeout for a single enrichment call
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// CustomRules are deterministic transforms applied after the service
	// pass, in order
	CustomRules []CustomRule `yaml:"custom_rules" json:"custom_rules"`
}

// CustomRule is a user-supplied deterministic transformation applied after
// semantic enrichment
type CustomRule struct {
	// Kind is the rule type: rename, annotate, or extract
	Kind string `yaml:"kind" json:"kind"`
	// Field the rule applies to
	Field string `yaml:"field" json:"field"`
	// Value is the rule argument (new name, annotation text, pattern)
	Value string `yaml:"value" json:"value"`
}

// ExportConfig controls the export stage
type ExportConfig struct {
	// Formats to emit (json, csv, jsonl, coco, voc)
	Formats []string `yaml:"formats" json:"formats"`
	// OutputDir is the artifact root; each export writes under its own id
	OutputDir string `yaml:"output_dir" json:"output_dir"`
	// Desensitize enables the masking pass. It is implied by a non-empty
	// DesensitizeFields; set it alone to get only the built-in email and
	// phone pattern masking.
	Desensitize bool `yaml:"desensitize" json:"desensitize"`
	// DesensitizeFields are masked in full before splitting
	DesensitizeFields []string `yaml:"desensitize_fields" json:"desensitize_fields"`
	// Splits maps subset name to ratio; ratios must sum to 1.0
	Splits map[string]float64 `yaml:"splits" json:"splits"`
	// Seed drives the split shuffle for reproducibility
	Seed int64 `yaml:"seed" json:"seed"`
	// Compression for artifacts: none, gzip, or lz4
	Compression string `yaml:"compression" json:"compression"`
}

// SchedulerConfig controls job orchestration
type SchedulerConfig struct {
	// TenantConcurrencyCap limits simultaneously running jobs per tenant
	TenantConcurrencyCap int `yaml:"tenant_concurrency_cap" json:"tenant_concurrency_cap"`
	// JobTimeout bounds a single run; exceeding it fails the job
	JobTimeout time.Duration `yaml:"job_timeout" json:"job_timeout"`
}

// ObservabilityConfig contains logging and metrics settings
type ObservabilityConfig struct {
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// EnableMetrics activates prometheus metrics collection
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
}

// NewPipelineConfig creates a PipelineConfig with production-ready defaults
func NewPipelineConfig(name string) *PipelineConfig {
	return &PipelineConfig{
		Name: name,
		Source: SourceConfig{
			Kind:        SourceKindDatabase,
			Credentials: make(map[string]string),
		},
		Acquisition: AcquisitionConfig{
			PageSize:        1000,
			MaxBatchRecords: 10000,
		},
		Reliability: ReliabilityConfig{
			RetryAttempts:   3,
			RetryDelay:      time.Second,
			RetryMultiplier: 2.0,
			MaxRetryDelay:   60 * time.Second,
			RandomizeFactor: 0.25,
		},
		Save: SaveConfig{
			Strategy:             SaveStrategyHybrid,
			HybridThresholdBytes: 1 << 20, // 1MB
			RetentionDays:        30,
		},
		Refine: RefineConfig{
			Enabled:  false,
			CacheTTL: time.Hour,
			Timeout:  30 * time.Second,
		},
		Export: ExportConfig{
			Formats:     []string{"jsonl"},
			OutputDir:   "exports",
			Compression: "none",
		},
		Scheduler: SchedulerConfig{
			TenantConcurrencyCap: 4,
			JobTimeout:           30 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:      "info",
			EnableMetrics: true,
		},
	}
}

// splitRatioEpsilon bounds float drift when checking that split ratios
// sum to 1.0
const splitRatioEpsilon = 1e-6

// Validate validates the configuration for correctness. Cron expressions
// are validated separately at scheduling time.
func (pc *PipelineConfig) Validate() error {
	if pc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if pc.Source.TenantID == "" {
		return fmt.Errorf("source.tenant_id is required")
	}
	if pc.Source.SourceID == "" {
		return fmt.Errorf("source.source_id is required")
	}
	switch pc.Source.Kind {
	case SourceKindDatabase, SourceKindAPI, SourceKindWebhook:
	default:
		return fmt.Errorf("source.kind %q is not one of database, api, webhook", pc.Source.Kind)
	}
	if pc.Acquisition.PageSize <= 0 {
		return fmt.Errorf("acquisition.page_size must be positive")
	}
	if pc.Acquisition.MaxBatchRecords <= 0 {
		return fmt.Errorf("acquisition.max_batch_records must be positive")
	}
	if pc.Reliability.RetryAttempts < 0 {
		return fmt.Errorf("reliability.retry_attempts cannot be negative")
	}
	switch pc.Save.Strategy {
	case SaveStrategyPersistent, SaveStrategyMemory, SaveStrategyHybrid:
	default:
		return fmt.Errorf("save.strategy %q is not one of persistent, memory, hybrid", pc.Save.Strategy)
	}
	if pc.Save.Strategy == SaveStrategyHybrid && pc.Save.HybridThresholdBytes <= 0 {
		return fmt.Errorf("save.hybrid_threshold_bytes must be positive for hybrid strategy")
	}
	if pc.Save.RetentionDays < 0 {
		return fmt.Errorf("save.retention_days cannot be negative")
	}
	if len(pc.Export.Splits) > 0 {
		var sum float64
		for name, ratio := range pc.Export.Splits {
			if ratio <= 0 {
				return fmt.Errorf("export.splits[%s] must be positive", name)
			}
			sum += ratio
		}
		if math.Abs(sum-1.0) > splitRatioEpsilon {
			return fmt.Errorf("export.splits must sum to 1.0, got %v", sum)
		}
	}
	if pc.Scheduler.TenantConcurrencyCap <= 0 {
		return fmt.Errorf("scheduler.tenant_concurrency_cap must be positive")
	}
	return nil
}

// Snapshot returns a deep copy of the config for an in-flight job, so the
// job never observes later mutations.
func (pc *PipelineConfig) Snapshot() *PipelineConfig {
	cp := *pc
	cp.Source.Credentials = make(map[string]string, len(pc.Source.Credentials))
	for k, v := range pc.Source.Credentials {
		cp.Source.Credentials[k] = v
	}
	cp.Export.Formats = append([]string(nil), pc.Export.Formats...)
	cp.Export.DesensitizeFields = append([]string(nil), pc.Export.DesensitizeFields...)
	if pc.Export.Splits != nil {
		cp.Export.Splits = make(map[string]float64, len(pc.Export.Splits))
		for k, v := range pc.Export.Splits {
			cp.Export.Splits[k] = v
		}
	}
	cp.Refine.CustomRules = append([]CustomRule(nil), pc.Refine.CustomRules...)
	return &cp
}
