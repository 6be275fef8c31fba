package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kuhlman-labs/doc-analyzer/internal/config"
	"github.com/kuhlman-labs/doc-analyzer/internal/storage"
)

// SweeperStore is the persistence surface the retention sweeper uses
type SweeperStore interface {
	DeleteBatchesCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

var _ SweeperStore = (*storage.Database)(nil)

// Sweeper periodically removes terminal batches that are past their
// retention window, together with their jobs and outcomes. Dead-letter
// entries are kept for diagnostics.
type Sweeper struct {
	store     SweeperStore
	logger    *slog.Logger
	retention time.Duration
	interval  time.Duration
	stopCh    chan struct{}
}

// SweeperConfig holds configuration for the retention sweeper
type SweeperConfig struct {
	Store  SweeperStore
	Logger *slog.Logger
	Batch  config.BatchConfig
}

// NewSweeper creates a new retention sweeper
func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	retention := time.Duration(cfg.Batch.RetentionDays) * 24 * time.Hour
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	interval := time.Duration(cfg.Batch.SweepIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}

	return &Sweeper{
		store:     cfg.Store,
		logger:    cfg.Logger,
		retention: retention,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}, nil
}

// Start begins the sweep loop
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("Starting retention sweeper",
		"retention", s.retention,
		"interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run once immediately
	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Retention sweeper stopped")
			return
		case <-s.stopCh:
			s.logger.Info("Retention sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Stop stops the sweeper
func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.retention)
	deleted, err := s.store.DeleteBatchesCompletedBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("Retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		s.logger.Info("Retention sweep complete",
			"deleted_batches", deleted,
			"cutoff", cutoff.Format(time.RFC3339))
	}
}
