package batch

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuhlman-labs/doc-analyzer/internal/config"
	"github.com/kuhlman-labs/doc-analyzer/internal/models"
	"github.com/kuhlman-labs/doc-analyzer/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func setupAggregator(t *testing.T) (*Aggregator, *storage.Database) {
	t.Helper()

	db, err := storage.NewDatabase(config.DatabaseConfig{Type: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	agg, err := NewAggregator(db, testLogger())
	require.NoError(t, err)
	return agg, db
}

func seedJobRow(t *testing.T, db *storage.Database, batchID string) *models.Job {
	t.Helper()
	job := &models.Job{
		ID:          uuid.NewString(),
		BatchID:     batchID,
		DocumentRef: "docs/a.pdf",
		Priority:    models.PriorityNormal,
		Status:      models.JobStatusInFlight,
		EnqueuedAt:  time.Now().UTC(),
	}
	require.NoError(t, db.CreateJobs(context.Background(), []*models.Job{job}))
	return job
}

func TestAggregator_RecordIsIdempotent(t *testing.T) {
	agg, db := setupAggregator(t)
	ctx := context.Background()

	batchID := uuid.NewString()
	job := seedJobRow(t, db, batchID)

	verdict := "approved"
	outcome := models.JobOutcome{
		BatchID:     batchID,
		JobID:       job.ID,
		DocumentRef: job.DocumentRef,
		Succeeded:   true,
		Verdict:     &verdict,
	}

	first, err := agg.Record(ctx, outcome)
	require.NoError(t, err)
	assert.True(t, first)

	// Duplicate delivery never double-counts
	first, err = agg.Record(ctx, outcome)
	require.NoError(t, err)
	assert.False(t, first)

	result, err := db.GetAggregate(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.Succeeded)

	stored, err := db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, stored.Status)
}

func TestAggregator_RecordFailureMarksJobTerminal(t *testing.T) {
	agg, db := setupAggregator(t)
	ctx := context.Background()

	batchID := uuid.NewString()
	job := seedJobRow(t, db, batchID)

	errMsg := "analysis rejected: unsupported format"
	first, err := agg.Record(ctx, models.JobOutcome{
		BatchID:     batchID,
		JobID:       job.ID,
		DocumentRef: job.DocumentRef,
		Succeeded:   false,
		Error:       &errMsg,
	})
	require.NoError(t, err)
	assert.True(t, first)

	stored, err := db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailedTerminal, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, errMsg, *stored.LastError)
}

func TestDecideStatus(t *testing.T) {
	tests := []struct {
		name     string
		agg      models.AggregateResult
		timedOut bool
		want     string
	}{
		{"all succeeded", models.AggregateResult{Total: 3, Succeeded: 3}, false, models.BatchStatusSucceeded},
		{"empty batch", models.AggregateResult{}, false, models.BatchStatusSucceeded},
		{"some failed", models.AggregateResult{Total: 5, Succeeded: 3, Failed: 2}, false, models.BatchStatusPartiallyFailed},
		{"all failed", models.AggregateResult{Total: 2, Failed: 2}, false, models.BatchStatusFailed},
		{"timeout overrides success", models.AggregateResult{Total: 3, Succeeded: 3}, true, models.BatchStatusTimedOut},
		{"timeout overrides failure", models.AggregateResult{Total: 3, Failed: 3}, true, models.BatchStatusTimedOut},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := tt.agg
			assert.Equal(t, tt.want, decideStatus(&agg, tt.timedOut))
		})
	}
}

func TestAggregator_FinalizeComputesStatus(t *testing.T) {
	agg, db := setupAggregator(t)
	ctx := context.Background()

	batchID := uuid.NewString()
	jobA := seedJobRow(t, db, batchID)
	jobB := seedJobRow(t, db, batchID)

	errMsg := "capability timeout"
	_, err := agg.Record(ctx, models.JobOutcome{BatchID: batchID, JobID: jobA.ID, Succeeded: true})
	require.NoError(t, err)
	_, err = agg.Record(ctx, models.JobOutcome{BatchID: batchID, JobID: jobB.ID, Succeeded: false, Error: &errMsg})
	require.NoError(t, err)

	result, err := agg.Finalize(ctx, batchID, false)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusPartiallyFailed, result.Status)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
}
