package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/syncforge/internal/pipeline"
	"github.com/ajitpratap0/syncforge/pkg/config"
	"github.com/ajitpratap0/syncforge/pkg/connector/registry"
	"github.com/ajitpratap0/syncforge/pkg/exporter"
	"github.com/ajitpratap0/syncforge/pkg/json"
	"github.com/ajitpratap0/syncforge/pkg/logger"
	"github.com/ajitpratap0/syncforge/pkg/puller"
	"github.com/ajitpratap0/syncforge/pkg/receiver"
	"github.com/ajitpratap0/syncforge/pkg/refiner"
	"github.com/ajitpratap0/syncforge/pkg/saver"
	"github.com/ajitpratap0/syncforge/pkg/scheduler"
	"github.com/ajitpratap0/syncforge/pkg/state"

	// Import all available connectors to register them
	_ "github.com/ajitpratap0/syncforge/pkg/connector/sources/mongodb"
	_ "github.com/ajitpratap0/syncforge/pkg/connector/sources/mysql"
	_ "github.com/ajitpratap0/syncforge/pkg/connector/sources/postgresql"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "syncforge",
		Short: "SyncForge - Multi-tenant data sync pipeline",
		Long: `SyncForge acquires records from configured sources, saves them under a
per-pipeline strategy, semantically refines them, and exports AI-friendly
datasets on a schedule.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("SyncForge v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "connectors",
		Short: "List available source connectors",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available source connectors:")
			for _, name := range registry.List() {
				fmt.Printf("  - %s\n", name)
			}
		},
	})

	var validateFile string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a pipeline configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadPipelineConfig(validateFile)
			if err != nil {
				return err
			}
			if cfg.Acquisition.CronExpr != "" {
				if err := puller.ValidateCronExpr(cfg.Acquisition.CronExpr); err != nil {
					return err
				}
			}
			fmt.Printf("%s is valid\n", validateFile)
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&validateFile, "config", "c", "", "Path to pipeline configuration YAML file (required)")
	_ = validateCmd.MarkFlagRequired("config")
	root.AddCommand(validateCmd)

	var runConfigFile, runRedisAddr string
	var runTimeout time.Duration
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one sync pass for a pipeline",
		Long: `Run a single acquire-save-refine-export pass for the pipeline described
by the configuration file, then exit.

Example:
  syncforge run --config pipeline.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(runConfigFile, runRedisAddr, runTimeout)
		},
	}
	runCmd.Flags().StringVarP(&runConfigFile, "config", "c", "", "Path to pipeline configuration YAML file (required)")
	_ = runCmd.MarkFlagRequired("config")
	runCmd.Flags().StringVar(&runRedisAddr, "redis-addr", "", "Redis address for checkpoints and saved batches (in-memory stores when empty)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 30*time.Minute, "Run timeout")
	root.AddCommand(runCmd)

	var exportConfigFile, exportRedisAddr, exportBatchID string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export a previously saved batch",
		Long: `Re-export a persisted batch as AI-friendly dataset artifacts using the
export section of the pipeline configuration. The batch must belong to the
configured tenant.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return exportBatch(exportConfigFile, exportRedisAddr, exportBatchID)
		},
	}
	exportCmd.Flags().StringVarP(&exportConfigFile, "config", "c", "", "Path to pipeline configuration YAML file (required)")
	_ = exportCmd.MarkFlagRequired("config")
	exportCmd.Flags().StringVar(&exportBatchID, "batch", "", "Batch id to export (required)")
	_ = exportCmd.MarkFlagRequired("batch")
	exportCmd.Flags().StringVar(&exportRedisAddr, "redis-addr", "", "Redis address holding the saved batches")
	root.AddCommand(exportCmd)

	var serveConfigFile, serveAddr, serveRedisAddr string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync service",
		Long: `Start the long-running sync service: the cron scheduler for the
configured pipeline plus an HTTP listener exposing the webhook receiver,
Prometheus metrics, and a health endpoint.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(serveConfigFile, serveAddr, serveRedisAddr)
		},
	}
	serveCmd.Flags().StringVarP(&serveConfigFile, "config", "c", "", "Path to pipeline configuration YAML file (required)")
	_ = serveCmd.MarkFlagRequired("config")
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "HTTP listen address")
	serveCmd.Flags().StringVar(&serveRedisAddr, "redis-addr", "", "Redis address for checkpoints, idempotency keys, and saved batches (in-memory stores when empty)")
	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadPipelineConfig(path string) (*config.PipelineConfig, error) {
	cfg := config.NewPipelineConfig("")
	if err := config.Load(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// stores groups the persistence collaborators. Redis backs all of them
// when an address is given; otherwise everything stays in process memory.
type stores struct {
	checkpoints state.CheckpointStore
	idempotency state.IdempotencyStore
	records     saver.RecordStore
}

func buildStores(redisAddr string) (*stores, error) {
	if redisAddr == "" {
		return &stores{
			checkpoints: state.NewMemoryCheckpointStore(),
			idempotency: state.NewMemoryIdempotencyStore(),
			records:     saver.NewMemoryRecordStore(),
		}, nil
	}
	client, err := state.NewRedisClient(state.RedisConfig{
		Addr:     redisAddr,
		Password: os.Getenv("SYNCFORGE_REDIS_PASSWORD"),
	})
	if err != nil {
		return nil, err
	}
	return &stores{
		checkpoints: state.NewRedisCheckpointStore(client),
		idempotency: state.NewRedisIdempotencyStore(client),
		records:     saver.NewRedisRecordStore(client),
	}, nil
}

func buildRunner(st *stores) (*pipeline.Runner, *saver.Manager) {
	saves := saver.NewManager(st.records)
	return pipeline.NewRunner(
		puller.New(st.checkpoints),
		saves,
		refiner.New(refiner.NewHTTPEnricher(nil)),
		exporter.New(),
	), saves
}

func runOnce(configFile, redisAddr string, timeout time.Duration) error {
	cfg, err := loadPipelineConfig(configFile)
	if err != nil {
		return err
	}
	if err := initLogging(cfg); err != nil {
		return err
	}

	st, err := buildStores(redisAddr)
	if err != nil {
		return err
	}
	runner, _ := buildRunner(st)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log := logger.Get().With(zap.String("component", "syncforge-cli"))
	log.Info("starting sync pass",
		zap.String("pipeline", cfg.Name),
		zap.String("source_id", cfg.Source.SourceID))

	result, err := runner.Run(ctx, cfg)
	if err != nil {
		return fmt.Errorf("sync pass failed: %w", err)
	}

	log.Info("sync pass completed",
		zap.String("run_id", result.RunID),
		zap.Int64("records", result.RecordCount),
		zap.Duration("duration", result.Duration))
	if result.Export != nil {
		for _, file := range result.Export.Files {
			fmt.Println(file)
		}
	}
	return nil
}

func exportBatch(configFile, redisAddr, batchID string) error {
	cfg, err := loadPipelineConfig(configFile)
	if err != nil {
		return err
	}
	if err := initLogging(cfg); err != nil {
		return err
	}

	st, err := buildStores(redisAddr)
	if err != nil {
		return err
	}
	saves := saver.NewManager(st.records)

	ctx := context.Background()
	records, err := saves.Retrieve(ctx, cfg.Source.TenantID, batchID)
	if err != nil {
		return err
	}

	result, err := exporter.New().Export(ctx, exporter.ExportRequest{
		SourceID: cfg.Source.SourceID,
		Records:  records,
	}, cfg.Export)
	if err != nil {
		return err
	}

	for _, file := range result.Files {
		fmt.Println(file)
	}
	stats, err := json.MarshalIndent(result.Statistics, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(stats))
	return nil
}

func serve(configFile, addr, redisAddr string) error {
	cfg, err := loadPipelineConfig(configFile)
	if err != nil {
		return err
	}
	if err := initLogging(cfg); err != nil {
		return err
	}
	log := logger.Get().With(zap.String("component", "syncforge-server"))

	st, err := buildStores(redisAddr)
	if err != nil {
		return err
	}
	runner, saves := buildRunner(st)

	sched := scheduledRuns(runner, cfg, log)
	defer sched.Stop()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version})
	})
	if cfg.Observability.EnableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	receiver.NewHandler(receiver.New(cfg, st.idempotency, saves)).
		Register(router.Group("/api/v1"))

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http listener started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// scheduledRuns starts the cron scheduler and registers the configured
// pipeline when it carries a cron expression
func scheduledRuns(runner *pipeline.Runner, cfg *config.PipelineConfig, log *zap.Logger) *scheduler.Scheduler {
	sched := scheduler.New(runner.AsRunFunc(), nil, cfg.Scheduler)
	if cfg.Acquisition.CronExpr != "" {
		jobID, err := sched.Schedule(cfg, cfg.Acquisition.CronExpr, 0)
		if err != nil {
			log.Warn("failed to schedule pipeline",
				zap.String("pipeline", cfg.Name),
				zap.Error(err))
		} else {
			log.Info("pipeline scheduled",
				zap.String("job_id", jobID),
				zap.String("cron", cfg.Acquisition.CronExpr))
		}
	}
	sched.Start()
	return sched
}

func initLogging(cfg *config.PipelineConfig) error {
	level := cfg.Observability.LogLevel
	if level == "" {
		level = "info"
	}
	return logger.Init(logger.Config{Level: level, Encoding: "json"})
}
