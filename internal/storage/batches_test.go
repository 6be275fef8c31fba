package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kuhlman-labs/doc-analyzer/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBatch(status string) *models.Batch {
	return &models.Batch{
		ID:        uuid.NewString(),
		Owner:     "tester",
		Priority:  models.PriorityNormal,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
}

func TestBatchCRUD(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	batch := newTestBatch(models.BatchStatusPending)
	require.NoError(t, db.CreateBatch(ctx, batch))

	got, err := db.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, batch.ID, got.ID)
	assert.Equal(t, models.BatchStatusPending, got.Status)

	got.Owner = "someone-else"
	require.NoError(t, db.UpdateBatch(ctx, got))

	batches, err := db.ListBatches(ctx)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "someone-else", batches[0].Owner)
}

func TestGetBatch_NotFound(t *testing.T) {
	db := setupTestDB(t)

	got, err := db.GetBatch(context.Background(), uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTransitionBatch(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	batch := newTestBatch(models.BatchStatusPending)
	require.NoError(t, db.CreateBatch(ctx, batch))

	require.NoError(t, db.TransitionBatch(ctx, batch.ID, models.BatchStatusPending, models.BatchStatusPreparing, 0))

	got, err := db.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusPreparing, got.Status)
	assert.Equal(t, int64(1), got.Version)

	// Stale version must not move the batch (compare-and-swap)
	err = db.TransitionBatch(ctx, batch.ID, models.BatchStatusPreparing, models.BatchStatusRunning, 0)
	assert.Error(t, err)

	// Wrong source status must not move the batch
	err = db.TransitionBatch(ctx, batch.ID, models.BatchStatusPending, models.BatchStatusRunning, 1)
	assert.Error(t, err)

	require.NoError(t, db.TransitionBatch(ctx, batch.ID, models.BatchStatusPreparing, models.BatchStatusRunning, 1))

	got, err = db.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusRunning, got.Status)
	assert.NotNil(t, got.StartedAt)
}

func TestTransitionBatch_TerminalSetsCompletedAt(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	batch := newTestBatch(models.BatchStatusAggregating)
	require.NoError(t, db.CreateBatch(ctx, batch))

	require.NoError(t, db.TransitionBatch(ctx, batch.ID, models.BatchStatusAggregating, models.BatchStatusSucceeded, 0))

	got, err := db.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusSucceeded, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestDeleteBatchesCompletedBefore(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	old := newTestBatch(models.BatchStatusSucceeded)
	past := time.Now().UTC().Add(-48 * time.Hour)
	old.CompletedAt = &past
	require.NoError(t, db.CreateBatch(ctx, old))
	require.NoError(t, db.CreateJobs(ctx, []*models.Job{{
		ID:         uuid.NewString(),
		BatchID:    old.ID,
		Status:     models.JobStatusSucceeded,
		EnqueuedAt: time.Now().UTC(),
	}}))

	fresh := newTestBatch(models.BatchStatusSucceeded)
	now := time.Now().UTC()
	fresh.CompletedAt = &now
	require.NoError(t, db.CreateBatch(ctx, fresh))

	deleted, err := db.DeleteBatchesCompletedBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	got, err := db.GetBatch(ctx, old.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	jobs, err := db.ListJobs(ctx, old.ID)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	got, err = db.GetBatch(ctx, fresh.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}
