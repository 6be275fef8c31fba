package batch

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuhlman-labs/doc-analyzer/internal/config"
	"github.com/kuhlman-labs/doc-analyzer/internal/models"
	"github.com/kuhlman-labs/doc-analyzer/internal/storage"
)

func TestSweeper_RemovesExpiredBatches(t *testing.T) {
	db, err := storage.NewDatabase(config.DatabaseConfig{Type: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	ctx := context.Background()

	old := time.Now().UTC().Add(-10 * 24 * time.Hour)
	expired := &models.Batch{
		ID:          uuid.NewString(),
		Owner:       "reviews-team",
		Priority:    models.PriorityNormal,
		Status:      models.BatchStatusSucceeded,
		CreatedAt:   old,
		CompletedAt: &old,
	}
	require.NoError(t, db.CreateBatch(ctx, expired))

	recent := time.Now().UTC()
	kept := &models.Batch{
		ID:          uuid.NewString(),
		Owner:       "reviews-team",
		Priority:    models.PriorityNormal,
		Status:      models.BatchStatusSucceeded,
		CreatedAt:   recent,
		CompletedAt: &recent,
	}
	require.NoError(t, db.CreateBatch(ctx, kept))

	sweeper, err := NewSweeper(SweeperConfig{
		Store:  db,
		Logger: testLogger(),
		Batch:  config.BatchConfig{RetentionDays: 7, SweepIntervalMinutes: 60},
	})
	require.NoError(t, err)
	sweeper.sweep(ctx)

	gone, err := db.GetBatch(ctx, expired.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	remaining, err := db.GetBatch(ctx, kept.ID)
	require.NoError(t, err)
	require.NotNil(t, remaining)
}

func TestNewSweeper_Defaults(t *testing.T) {
	db, err := storage.NewDatabase(config.DatabaseConfig{Type: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sweeper, err := NewSweeper(SweeperConfig{Store: db, Logger: testLogger()})
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, sweeper.retention)
	assert.Equal(t, time.Hour, sweeper.interval)
}
