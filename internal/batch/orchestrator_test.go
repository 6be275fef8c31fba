package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuhlman-labs/doc-analyzer/internal/config"
	"github.com/kuhlman-labs/doc-analyzer/internal/models"
	"github.com/kuhlman-labs/doc-analyzer/internal/notify"
	"github.com/kuhlman-labs/doc-analyzer/internal/queue"
	"github.com/kuhlman-labs/doc-analyzer/internal/storage"
)

// recordingNotifier captures terminal events for assertions
type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) NotifyBatchTerminal(_ context.Context, event notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) snapshot() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Event, len(n.events))
	copy(out, n.events)
	return out
}

type orchFixture struct {
	orch     *Orchestrator
	db       *storage.Database
	queues   *queue.Set
	notifier *recordingNotifier
}

func setupOrchestrator(t *testing.T) *orchFixture {
	t.Helper()

	db, err := storage.NewDatabase(config.DatabaseConfig{Type: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	tier := config.TierConfig{
		MaxBatch:                1,
		BatchingDelaySeconds:    0,
		VisibilityWindowSeconds: 900,
		MaxReceiveCount:         3,
	}
	queues, err := queue.NewSet(config.QueueConfig{
		High:            tier,
		Normal:          tier,
		Low:             tier,
		MaxMessageBytes: 1024,
	}, db, testLogger())
	require.NoError(t, err)

	agg, err := NewAggregator(db, testLogger())
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	orch, err := NewOrchestrator(OrchestratorConfig{
		Store:      db,
		Queues:     queues,
		Aggregator: agg,
		Notifier:   notifier,
		Logger:     testLogger(),
		Batch:      config.BatchConfig{TimeoutMinutes: 120},
	})
	require.NoError(t, err)

	return &orchFixture{orch: orch, db: db, queues: queues, notifier: notifier}
}

func (f *orchFixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.orch.Start(context.Background()))
	t.Cleanup(f.orch.Stop)
}

// waitForStatus blocks until the batch reaches the wanted status
func (f *orchFixture) waitForStatus(t *testing.T, batchID, status string) *models.Batch {
	t.Helper()
	var batch *models.Batch
	require.Eventually(t, func() bool {
		var err error
		batch, err = f.db.GetBatch(context.Background(), batchID)
		return err == nil && batch != nil && batch.Status == status
	}, 5*time.Second, 10*time.Millisecond, "batch never reached %s", status)
	return batch
}

// submitRunning submits a batch and waits for the Running state
func (f *orchFixture) submitRunning(t *testing.T, docs []string, priority string) (*models.Batch, []*models.Job) {
	t.Helper()
	batch, err := f.orch.Submit(context.Background(), SubmitRequest{
		Owner:     "reviews-team",
		Documents: docs,
		Priority:  priority,
	})
	require.NoError(t, err)

	f.waitForStatus(t, batch.ID, models.BatchStatusRunning)
	jobs, err := f.db.ListJobs(context.Background(), batch.ID)
	require.NoError(t, err)
	require.Len(t, jobs, len(docs))
	return batch, jobs
}

func TestSubmit_Validation(t *testing.T) {
	f := setupOrchestrator(t)
	f.start(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  SubmitRequest
	}{
		{"missing owner", SubmitRequest{Documents: []string{"a.pdf"}}},
		{"bad priority", SubmitRequest{Owner: "o", Priority: "urgent", Documents: []string{"a.pdf"}}},
		{"bad options", SubmitRequest{Owner: "o", Options: "{not json", Documents: []string{"a.pdf"}}},
		{"empty document ref", SubmitRequest{Owner: "o", Documents: []string{"a.pdf", ""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orch.Submit(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestSubmit_DefaultsToNormalPriority(t *testing.T) {
	f := setupOrchestrator(t)
	f.start(t)

	batch, jobs := f.submitRunning(t, []string{"docs/a.pdf"}, "")
	assert.Equal(t, models.PriorityNormal, batch.Priority)
	assert.Equal(t, models.PriorityNormal, jobs[0].Priority)

	depth, err := f.db.CountMessages(context.Background(), models.PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestEmptyBatchSucceedsImmediately(t *testing.T) {
	f := setupOrchestrator(t)
	f.start(t)
	ctx := context.Background()

	batch, err := f.orch.Submit(ctx, SubmitRequest{Owner: "reviews-team", Documents: nil})
	require.NoError(t, err)

	final := f.waitForStatus(t, batch.ID, models.BatchStatusSucceeded)
	assert.NotNil(t, final.CompletedAt)

	jobs, err := f.db.ListJobs(ctx, batch.ID)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	require.Eventually(t, func() bool {
		return len(f.notifier.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	event := f.notifier.snapshot()[0]
	assert.Equal(t, models.BatchStatusSucceeded, event.Status)
	assert.Equal(t, notify.Summary{}, event.Summary)
}

func TestBatchAllSucceed(t *testing.T) {
	f := setupOrchestrator(t)
	f.start(t)
	ctx := context.Background()

	batch, jobs := f.submitRunning(t, []string{"docs/a.pdf", "docs/b.pdf", "docs/c.pdf"}, models.PriorityHigh)

	verdict := "approved"
	for _, job := range jobs {
		f.orch.ReportOutcome(ctx, models.JobOutcome{
			BatchID:     batch.ID,
			JobID:       job.ID,
			DocumentRef: job.DocumentRef,
			Succeeded:   true,
			Verdict:     &verdict,
		})
	}

	f.waitForStatus(t, batch.ID, models.BatchStatusSucceeded)

	_, agg, err := f.orch.Status(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, agg.Total)
	assert.Equal(t, 3, agg.Succeeded)
	assert.Equal(t, 0, agg.Failed)

	require.Eventually(t, func() bool {
		return len(f.notifier.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, notify.Summary{Total: 3, Succeeded: 3}, f.notifier.snapshot()[0].Summary)
}

func TestBatchPartialFailure(t *testing.T) {
	f := setupOrchestrator(t)
	f.start(t)
	ctx := context.Background()

	docs := []string{"docs/1.pdf", "docs/2.pdf", "docs/3.pdf", "docs/4.pdf", "docs/5.pdf"}
	batch, jobs := f.submitRunning(t, docs, models.PriorityNormal)

	for i, job := range jobs {
		outcome := models.JobOutcome{
			BatchID:     batch.ID,
			JobID:       job.ID,
			DocumentRef: job.DocumentRef,
			Succeeded:   i < 3,
		}
		if i >= 3 {
			errMsg := fmt.Sprintf("rejected: malformed document %s", job.DocumentRef)
			outcome.Error = &errMsg
		}
		f.orch.ReportOutcome(ctx, outcome)
	}

	f.waitForStatus(t, batch.ID, models.BatchStatusPartiallyFailed)

	_, agg, err := f.orch.Status(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, agg.Total)
	assert.Equal(t, 3, agg.Succeeded)
	assert.Equal(t, 2, agg.Failed)

	// Every failed document carries its error detail
	failed := 0
	for _, o := range agg.Outcomes {
		if !o.Succeeded {
			failed++
			require.NotNil(t, o.Error)
			assert.Contains(t, *o.Error, o.DocumentRef)
		}
	}
	assert.Equal(t, 2, failed)
}

func TestBatchAllFail(t *testing.T) {
	f := setupOrchestrator(t)
	f.start(t)
	ctx := context.Background()

	batch, jobs := f.submitRunning(t, []string{"docs/x.pdf"}, models.PriorityLow)

	errMsg := "retry budget exhausted"
	f.orch.ReportOutcome(ctx, models.JobOutcome{
		BatchID:     batch.ID,
		JobID:       jobs[0].ID,
		DocumentRef: jobs[0].DocumentRef,
		Succeeded:   false,
		Error:       &errMsg,
	})

	f.waitForStatus(t, batch.ID, models.BatchStatusFailed)
}

func TestDuplicateOutcomeNeverDoubleCounts(t *testing.T) {
	f := setupOrchestrator(t)
	f.start(t)
	ctx := context.Background()

	batch, jobs := f.submitRunning(t, []string{"docs/a.pdf", "docs/b.pdf"}, models.PriorityNormal)

	first := models.JobOutcome{
		BatchID:     batch.ID,
		JobID:       jobs[0].ID,
		DocumentRef: jobs[0].DocumentRef,
		Succeeded:   true,
	}
	f.orch.ReportOutcome(ctx, first)
	f.orch.ReportOutcome(ctx, first) // duplicate delivery

	// The batch must still be waiting on the second job
	time.Sleep(100 * time.Millisecond)
	batchRow, err := f.db.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusRunning, batchRow.Status)

	f.orch.ReportOutcome(ctx, models.JobOutcome{
		BatchID:     batch.ID,
		JobID:       jobs[1].ID,
		DocumentRef: jobs[1].DocumentRef,
		Succeeded:   true,
	})
	f.waitForStatus(t, batch.ID, models.BatchStatusSucceeded)

	_, agg, err := f.orch.Status(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, agg.Total)
}

func TestBatchDeadlineTimesOut(t *testing.T) {
	f := setupOrchestrator(t)
	f.orch.timeout = 150 * time.Millisecond
	f.start(t)
	ctx := context.Background()

	batch, jobs := f.submitRunning(t, []string{"docs/a.pdf", "docs/b.pdf"}, models.PriorityHigh)

	// One job completes; the other stays outstanding past the deadline
	f.orch.ReportOutcome(ctx, models.JobOutcome{
		BatchID:     batch.ID,
		JobID:       jobs[0].ID,
		DocumentRef: jobs[0].DocumentRef,
		Succeeded:   true,
	})

	final := f.waitForStatus(t, batch.ID, models.BatchStatusTimedOut)
	require.NotNil(t, final.FailureCause)
	assert.Equal(t, models.FailureCauseTimeout, *final.FailureCause)

	// Outstanding jobs are forced terminal with the timeout cause
	outstanding, err := f.db.GetJob(ctx, jobs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailedTerminal, outstanding.Status)

	_, agg, err := f.orch.Status(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, agg.Total)
	assert.Equal(t, 1, agg.Succeeded)
	assert.Equal(t, 1, agg.Failed)

	// Their queue messages are dropped so workers stop redelivering
	depth, err := f.db.CountMessages(ctx, models.PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestCancelRunningBatch(t *testing.T) {
	f := setupOrchestrator(t)
	f.start(t)
	ctx := context.Background()

	batch, jobs := f.submitRunning(t, []string{"docs/a.pdf", "docs/b.pdf", "docs/c.pdf"}, models.PriorityNormal)

	require.NoError(t, f.orch.Cancel(ctx, batch.ID))

	final := f.waitForStatus(t, batch.ID, models.BatchStatusFailed)
	require.NotNil(t, final.FailureCause)
	assert.Equal(t, models.FailureCauseCancelled, *final.FailureCause)

	for _, job := range jobs {
		stored, err := f.db.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFailedTerminal, stored.Status)
	}
	depth, err := f.db.CountMessages(ctx, models.PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)

	// Cancelling a terminal batch is rejected
	err = f.orch.Cancel(ctx, batch.ID)
	require.Error(t, err)
}

func TestForcedFailureDrainsOutstandingJobs(t *testing.T) {
	f := setupOrchestrator(t)
	f.start(t)
	ctx := context.Background()

	batch, jobs := f.submitRunning(t, []string{"docs/a.pdf", "docs/b.pdf", "docs/c.pdf"}, models.PriorityNormal)

	f.orch.failBatch(batch.ID, errors.New("tier unavailable during preparation"))

	f.waitForStatus(t, batch.ID, models.BatchStatusFailed)

	// Already-enqueued messages are dropped so workers stop executing for
	// the terminal batch
	depth, err := f.db.CountMessages(ctx, models.PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)

	for _, job := range jobs {
		stored, err := f.db.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFailedTerminal, stored.Status)
	}

	// Every document is accounted for in the aggregate
	agg, err := f.db.GetAggregate(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, len(jobs), agg.Failed)
}

func TestResumeRunningBatchAfterRestart(t *testing.T) {
	f := setupOrchestrator(t)
	ctx := context.Background()

	// A batch left running by a previous process
	now := time.Now().UTC()
	batch := &models.Batch{
		ID:               uuid.NewString(),
		Owner:            "reviews-team",
		Priority:         models.PriorityNormal,
		Status:           models.BatchStatusRunning,
		Version:          2,
		ExpectedJobCount: 1,
		CreatedAt:        now,
		StartedAt:        &now,
	}
	require.NoError(t, f.db.CreateBatch(ctx, batch))
	job := &models.Job{
		ID:          uuid.NewString(),
		BatchID:     batch.ID,
		DocumentRef: "docs/resume.pdf",
		Priority:    models.PriorityNormal,
		Status:      models.JobStatusInFlight,
		EnqueuedAt:  now,
	}
	require.NoError(t, f.db.CreateJobs(ctx, []*models.Job{job}))

	f.start(t)

	f.orch.ReportOutcome(ctx, models.JobOutcome{
		BatchID:     batch.ID,
		JobID:       job.ID,
		DocumentRef: job.DocumentRef,
		Succeeded:   true,
	})
	f.waitForStatus(t, batch.ID, models.BatchStatusSucceeded)
}

func TestResumeFailsInterruptedPreparation(t *testing.T) {
	f := setupOrchestrator(t)
	ctx := context.Background()

	batch := &models.Batch{
		ID:        uuid.NewString(),
		Owner:     "reviews-team",
		Priority:  models.PriorityNormal,
		Status:    models.BatchStatusPreparing,
		Version:   1,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.db.CreateBatch(ctx, batch))

	f.start(t)

	final := f.waitForStatus(t, batch.ID, models.BatchStatusFailed)
	require.NotNil(t, final.FailureCause)
	assert.Contains(t, *final.FailureCause, "interrupted")
}
