package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kuhlman-labs/doc-analyzer/internal/analysis"
	"github.com/kuhlman-labs/doc-analyzer/internal/api"
	"github.com/kuhlman-labs/doc-analyzer/internal/batch"
	"github.com/kuhlman-labs/doc-analyzer/internal/config"
	"github.com/kuhlman-labs/doc-analyzer/internal/docstore"
	"github.com/kuhlman-labs/doc-analyzer/internal/logging"
	"github.com/kuhlman-labs/doc-analyzer/internal/notify"
	"github.com/kuhlman-labs/doc-analyzer/internal/queue"
	"github.com/kuhlman-labs/doc-analyzer/internal/storage"
	"github.com/kuhlman-labs/doc-analyzer/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logging
	logger := logging.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	// Initialize database
	db, err := storage.NewDatabase(cfg.Database)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	// Run migrations
	if err := db.Migrate(); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Tier queues
	queues, err := queue.NewSet(cfg.Queue, db, logger)
	if err != nil {
		slog.Error("Failed to initialize queues", "error", err)
		os.Exit(1)
	}

	// Terminal-state notifications
	notifier, err := notify.New(cfg.Notify, logger)
	if err != nil {
		slog.Error("Failed to initialize notifier", "error", err)
		os.Exit(1)
	}

	aggregator, err := batch.NewAggregator(db, logger)
	if err != nil {
		slog.Error("Failed to initialize aggregator", "error", err)
		os.Exit(1)
	}

	orchestrator, err := batch.NewOrchestrator(batch.OrchestratorConfig{
		Store:      db,
		Queues:     queues,
		Aggregator: aggregator,
		Notifier:   notifier,
		Logger:     logger,
		Batch:      cfg.Batch,
	})
	if err != nil {
		slog.Error("Failed to initialize orchestrator", "error", err)
		os.Exit(1)
	}

	// Cancellable context for all background workers
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	if err := orchestrator.Start(workerCtx); err != nil {
		slog.Error("Failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	pool := initializeWorkerPool(workerCtx, cfg, db, queues, orchestrator, logger)

	// Retention sweeper for terminal batches
	sweeper, err := batch.NewSweeper(batch.SweeperConfig{
		Store:  db,
		Logger: logger,
		Batch:  cfg.Batch,
	})
	if err != nil {
		slog.Error("Failed to create retention sweeper", "error", err)
		os.Exit(1)
	}
	go sweeper.Start(workerCtx)

	// Create API server
	server := api.NewServer(cfg, db, orchestrator, queues, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		slog.Info("Starting server", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Received interrupt signal")

	slog.Info("Shutting down server...")
	cancelWorkers()

	if pool != nil {
		slog.Info("Stopping worker pool...")
		pool.Stop()
	}
	sweeper.Stop()

	slog.Info("Stopping orchestrator...")
	orchestrator.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server exited")
}

// initializeWorkerPool creates and starts the execution layer if the
// analysis capability is configured. Without it the service still accepts
// and tracks batches; jobs wait on their queues.
func initializeWorkerPool(ctx context.Context, cfg *config.Config, db *storage.Database, queues *queue.Set, orchestrator *batch.Orchestrator, logger *slog.Logger) *worker.Pool {
	if cfg.Analysis.Endpoint == "" {
		logger.Info("Worker pool not started - analysis endpoint not configured")
		return nil
	}

	capability, err := analysis.NewHTTPCapability(cfg.Analysis.Endpoint,
		time.Duration(cfg.Analysis.TimeoutSeconds)*time.Second)
	if err != nil {
		slog.Error("Failed to create analysis capability", "error", err)
		return nil
	}

	documents, err := initializeDocstore(cfg, logger)
	if err != nil {
		slog.Error("Failed to create document store", "error", err)
		return nil
	}

	pool, err := worker.NewPool(worker.PoolConfig{
		Queues:     queues,
		Capability: capability,
		Documents:  documents,
		Store:      db,
		Reporter:   orchestrator,
		Logger:     logger,
		Worker:     cfg.Worker,
	})
	if err != nil {
		slog.Error("Failed to create worker pool", "error", err)
		return nil
	}

	if err := pool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		return nil
	}

	slog.Info("Worker pool started",
		"global_concurrency", cfg.Worker.GlobalConcurrency,
		"job_timeout", cfg.Worker.JobTimeout())
	return pool
}

// initializeDocstore selects the configured document fetch backend
func initializeDocstore(cfg *config.Config, logger *slog.Logger) (docstore.Store, error) {
	switch cfg.Docstore.Type {
	case "http":
		logger.Info("Using HTTP document store", "base_url", cfg.Docstore.BaseURL)
		return docstore.NewHTTPStore(cfg.Docstore.BaseURL,
			time.Duration(cfg.Analysis.TimeoutSeconds)*time.Second)
	default:
		logger.Info("Using file document store", "root", cfg.Docstore.Root)
		return docstore.NewFileStore(cfg.Docstore.Root)
	}
}
