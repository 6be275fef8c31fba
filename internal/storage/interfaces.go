package storage

import (
	"context"
	"time"

	"github.com/kuhlman-labs/doc-analyzer/internal/models"
)

// BatchReader defines read operations for batches.
// These interfaces enable dependency injection and easier testing.
type BatchReader interface {
	// GetBatch retrieves a single batch by ID.
	GetBatch(ctx context.Context, id string) (*models.Batch, error)
	// ListBatches returns all batches, newest first.
	ListBatches(ctx context.Context) ([]*models.Batch, error)
	// ListActiveBatches returns non-terminal batches, oldest first.
	ListActiveBatches(ctx context.Context) ([]*models.Batch, error)
}

// BatchWriter defines write operations for batches.
type BatchWriter interface {
	// CreateBatch creates a new batch.
	CreateBatch(ctx context.Context, batch *models.Batch) error
	// UpdateBatch updates an existing batch.
	UpdateBatch(ctx context.Context, batch *models.Batch) error
	// TransitionBatch moves a batch along the state machine, guarded by
	// current status and version.
	TransitionBatch(ctx context.Context, batchID, from, to string, version int64) error
	// ForceBatchFailed moves a non-terminal batch to Failed with a cause.
	ForceBatchFailed(ctx context.Context, batchID, cause string) (bool, error)
	// SetBatchFailureCause records why a batch was forced to Failed.
	SetBatchFailureCause(ctx context.Context, batchID, cause string) error
	// SetBatchExpectedJobCount fixes the job set size at preparation time.
	SetBatchExpectedJobCount(ctx context.Context, batchID string, count int) error
}

// BatchStore combines read and write operations for batches.
type BatchStore interface {
	BatchReader
	BatchWriter
}

// JobStore defines persistence operations for per-document jobs.
type JobStore interface {
	CreateJobs(ctx context.Context, jobs []*models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, batchID string) ([]*models.Job, error)
	MarkJobDequeued(ctx context.Context, jobID string, attempts int) error
	SetJobStatus(ctx context.Context, jobID, status string, lastError *string) error
	CountTerminalJobs(ctx context.Context, batchID string) (int, error)
	ForceOutstandingJobsTerminal(ctx context.Context, batchID, cause string) ([]*models.Job, error)
}

// MessageStore defines the durable queue operations used by the queue set.
type MessageStore interface {
	EnqueueMessage(ctx context.Context, msg *models.QueueMessage) error
	ClaimMessages(ctx context.Context, tier string, max int, visibility time.Duration, maxReceive int, claimToken string) (*ClaimResult, error)
	AckMessage(ctx context.Context, id int64, claimToken string) (bool, error)
	ReleaseMessage(ctx context.Context, id int64, claimToken string, delay time.Duration, attemptErr string, maxReceive int) (*models.DeadLetterEntry, error)
	CountMessages(ctx context.Context, tier string) (int, error)
}

// OutcomeStore defines aggregate persistence operations.
type OutcomeStore interface {
	RecordOutcome(ctx context.Context, outcome *models.DocumentOutcome) (bool, error)
	GetAggregate(ctx context.Context, batchID string) (*models.AggregateResult, error)
}

// DeadLetterStore defines diagnostics and replay operations for the DLQ.
type DeadLetterStore interface {
	ListDeadLetters(ctx context.Context, tier string) ([]*models.DeadLetterEntry, error)
	GetDeadLetter(ctx context.Context, id int64) (*models.DeadLetterEntry, error)
	ReplayDeadLetter(ctx context.Context, id int64) (*models.QueueMessage, error)
}
