// Package batch implements the per-batch control flow: an explicit state
// machine that prepares a batch into jobs, fans them out over the tier
// queues, folds worker outcomes back into an aggregate, and resolves
// every batch to a terminal state.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kuhlman-labs/doc-analyzer/internal/config"
	"github.com/kuhlman-labs/doc-analyzer/internal/models"
	"github.com/kuhlman-labs/doc-analyzer/internal/notify"
	"github.com/kuhlman-labs/doc-analyzer/internal/queue"
	"github.com/kuhlman-labs/doc-analyzer/internal/storage"
)

const (
	enqueueAttempts = 3
	enqueueBackoff  = 200 * time.Millisecond
)

// Store is the persistence surface the orchestrator writes through. The
// orchestrator and aggregator are the only batch writers.
type Store interface {
	storage.BatchStore
	storage.JobStore
	storage.OutcomeStore
}

// SubmitRequest is an incoming batch submission
type SubmitRequest struct {
	Owner     string
	Documents []string
	Priority  string
	Options   string
}

// Orchestrator drives batches through the state machine. Outcome
// application is serialized per batch by a single tracker goroutine, so
// concurrent worker reports never race on aggregate state.
type Orchestrator struct {
	store      Store
	queues     *queue.Set
	aggregator *Aggregator
	notifier   notify.Notifier
	logger     *slog.Logger
	timeout    time.Duration

	mu       sync.Mutex
	trackers map[string]*tracker
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// tracker is the single writer for one running batch
type tracker struct {
	batchID  string
	expected int
	deadline time.Time
	outcomes chan models.JobOutcome
	stop     chan struct{}
	done     chan struct{}
}

// OrchestratorConfig holds configuration for the orchestrator
type OrchestratorConfig struct {
	Store      Store
	Queues     *queue.Set
	Aggregator *Aggregator
	Notifier   notify.Notifier
	Logger     *slog.Logger
	Batch      config.BatchConfig
}

// NewOrchestrator creates a new batch orchestrator
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Queues == nil {
		return nil, fmt.Errorf("queues are required")
	}
	if cfg.Aggregator == nil {
		return nil, fmt.Errorf("aggregator is required")
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &Orchestrator{
		store:      cfg.Store,
		queues:     cfg.Queues,
		aggregator: cfg.Aggregator,
		notifier:   cfg.Notifier,
		logger:     cfg.Logger,
		timeout:    cfg.Batch.BatchTimeout(),
		trackers:   make(map[string]*tracker),
	}, nil
}

// Start begins orchestration and resumes tracking of batches that were
// in flight before a restart
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.ctx != nil {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already started")
	}
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.mu.Unlock()

	return o.resume()
}

// Stop stops the orchestrator and waits for per-batch trackers to park.
// Batches still running resume on the next start.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.mu.Unlock()

	o.wg.Wait()
	o.logger.Info("Orchestrator stopped")
}

// Submit validates a submission, persists the batch, and prepares it
// asynchronously. The batch identifier is returned immediately.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*models.Batch, error) {
	if err := validateSubmission(&req); err != nil {
		return nil, err
	}

	batch := &models.Batch{
		ID:        uuid.NewString(),
		Owner:     req.Owner,
		Priority:  req.Priority,
		Options:   req.Options,
		Status:    models.BatchStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.store.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to persist batch: %w", err)
	}

	o.logger.Info("Batch submitted",
		"batch_id", batch.ID,
		"owner", batch.Owner,
		"priority", batch.Priority,
		"documents", len(req.Documents))

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.prepare(batch, req.Documents)
	}()

	return batch, nil
}

// validateSubmission rejects malformed requests before a batch starts.
// An empty document list is not an error; it short-circuits to Succeeded
// during preparation.
func validateSubmission(req *SubmitRequest) error {
	if req.Owner == "" {
		return &ValidationError{Field: "owner", Reason: "is required"}
	}
	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}
	if !models.IsValidPriority(req.Priority) {
		return &ValidationError{Field: "priority", Reason: fmt.Sprintf("%q is not a valid tier", req.Priority)}
	}
	if req.Options != "" && !json.Valid([]byte(req.Options)) {
		return &ValidationError{Field: "options", Reason: "must be a JSON document"}
	}
	for i, ref := range req.Documents {
		if ref == "" {
			return &ValidationError{Field: "documents", Reason: fmt.Sprintf("reference at index %d is empty", i)}
		}
	}
	return nil
}

// prepare runs the Preparing phase: split into jobs, enqueue, and hand
// off to a tracker. Any infrastructure fault routes to the global error
// handler so the batch still reaches a terminal state.
func (o *Orchestrator) prepare(batch *models.Batch, documents []string) {
	ctx := o.ctx

	if err := o.store.TransitionBatch(ctx, batch.ID, models.BatchStatusPending, models.BatchStatusPreparing, batch.Version); err != nil {
		o.failBatch(batch.ID, fmt.Errorf("failed to enter preparing: %w", err))
		return
	}
	version := batch.Version + 1

	// Empty batch short-circuit
	if len(documents) == 0 {
		if err := o.store.TransitionBatch(ctx, batch.ID, models.BatchStatusPreparing, models.BatchStatusSucceeded, version); err != nil {
			o.failBatch(batch.ID, fmt.Errorf("failed to complete empty batch: %w", err))
			return
		}
		o.logger.Info("Empty batch succeeded immediately", "batch_id", batch.ID)
		o.notify(batch.ID, models.BatchStatusSucceeded, &models.AggregateResult{BatchID: batch.ID})
		return
	}

	now := time.Now().UTC()
	jobs := make([]*models.Job, len(documents))
	for i, ref := range documents {
		jobs[i] = &models.Job{
			ID:          uuid.NewString(),
			BatchID:     batch.ID,
			DocumentRef: ref,
			Priority:    batch.Priority,
			Status:      models.JobStatusQueued,
			EnqueuedAt:  now,
		}
	}

	if err := o.store.CreateJobs(ctx, jobs); err != nil {
		o.failBatch(batch.ID, fmt.Errorf("failed to persist jobs: %w", err))
		return
	}

	q, err := o.queues.Tier(batch.Priority)
	if err != nil {
		o.failBatch(batch.ID, err)
		return
	}
	for _, job := range jobs {
		if err := o.enqueueWithRetry(ctx, q, job, batch.Options); err != nil {
			o.failBatch(batch.ID, fmt.Errorf("failed to enqueue job %s: %w", job.ID, err))
			return
		}
	}

	if err := o.store.SetBatchExpectedJobCount(ctx, batch.ID, len(jobs)); err != nil {
		o.failBatch(batch.ID, fmt.Errorf("failed to record job count: %w", err))
		return
	}
	if err := o.store.TransitionBatch(ctx, batch.ID, models.BatchStatusPreparing, models.BatchStatusRunning, version); err != nil {
		o.failBatch(batch.ID, fmt.Errorf("failed to enter running: %w", err))
		return
	}

	o.logger.Info("Batch running",
		"batch_id", batch.ID,
		"jobs", len(jobs),
		"tier", batch.Priority)

	o.track(batch.ID, len(jobs), batch.CreatedAt.Add(o.timeout))
}

// enqueueWithRetry retries transiently failed enqueues a few times before
// giving up. Permanent failures surface immediately.
func (o *Orchestrator) enqueueWithRetry(ctx context.Context, q *queue.Queue, job *models.Job, payload string) error {
	var lastErr error
	for attempt := 0; attempt < enqueueAttempts; attempt++ {
		lastErr = q.Enqueue(ctx, job, payload)
		if lastErr == nil {
			return nil
		}
		if !queue.IsTransient(lastErr) {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(enqueueBackoff):
		}
	}
	return lastErr
}

// track registers the single-writer tracker for a running batch
func (o *Orchestrator) track(batchID string, expected int, deadline time.Time) {
	t := &tracker{
		batchID:  batchID,
		expected: expected,
		deadline: deadline,
		outcomes: make(chan models.JobOutcome, 256),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	o.mu.Lock()
	o.trackers[batchID] = t
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.trackBatch(t)
	}()
}

func (o *Orchestrator) lookupTracker(batchID string) *tracker {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.trackers[batchID]
}

func (o *Orchestrator) dropTracker(batchID string) {
	o.mu.Lock()
	delete(o.trackers, batchID)
	o.mu.Unlock()
}

// ReportOutcome receives a job outcome from the worker pool and routes it
// to the batch's tracker. Outcomes for batches without a live tracker are
// applied directly; recording is idempotent per job, so late or duplicate
// reports are harmless.
func (o *Orchestrator) ReportOutcome(ctx context.Context, outcome models.JobOutcome) {
	t := o.lookupTracker(outcome.BatchID)
	if t == nil {
		o.applyDetached(ctx, outcome)
		return
	}
	select {
	case t.outcomes <- outcome:
	case <-t.done:
		o.applyDetached(ctx, outcome)
	}
}

func (o *Orchestrator) applyDetached(ctx context.Context, outcome models.JobOutcome) {
	if _, err := o.aggregator.Record(ctx, outcome); err != nil {
		o.logger.Error("Failed to record detached outcome",
			"batch_id", outcome.BatchID,
			"job_id", outcome.JobID,
			"error", err)
	}
}

// trackBatch serializes outcome application for one batch and decides
// when the Running phase ends: all jobs terminal, the batch deadline, or
// an explicit cancellation.
func (o *Orchestrator) trackBatch(t *tracker) {
	defer close(t.done)
	ctx := o.ctx

	// Resume-safe starting point
	count, err := o.store.CountTerminalJobs(ctx, t.batchID)
	if err != nil {
		o.logger.Error("Failed to count terminal jobs", "batch_id", t.batchID, "error", err)
	}
	if count >= t.expected {
		o.finalize(t.batchID, false)
		return
	}

	timer := time.NewTimer(time.Until(t.deadline))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Shutdown; the batch stays running and resumes on restart
			return

		case <-t.stop:
			return

		case outcome := <-t.outcomes:
			first, err := o.aggregator.Record(ctx, outcome)
			if err != nil {
				o.logger.Error("Failed to record outcome",
					"batch_id", t.batchID,
					"job_id", outcome.JobID,
					"error", err)
				continue
			}
			if first {
				count++
			}
			if count >= t.expected {
				o.finalize(t.batchID, false)
				return
			}

		case <-timer.C:
			o.expire(t)
			return
		}
	}
}

// expire handles the batch deadline: outstanding jobs are forced terminal
// without waiting further and the batch resolves to TimedOut
func (o *Orchestrator) expire(t *tracker) {
	ctx := o.ctx
	o.logger.Warn("Batch deadline elapsed", "batch_id", t.batchID)

	outstanding, err := o.store.ForceOutstandingJobsTerminal(ctx, t.batchID, models.FailureCauseTimeout)
	if err != nil {
		o.failBatch(t.batchID, fmt.Errorf("failed to expire outstanding jobs: %w", err))
		return
	}
	cause := "batch deadline exceeded"
	for _, job := range outstanding {
		if _, err := o.aggregator.Record(ctx, models.JobOutcome{
			BatchID:     job.BatchID,
			JobID:       job.ID,
			DocumentRef: job.DocumentRef,
			Succeeded:   false,
			Error:       &cause,
		}); err != nil {
			o.logger.Error("Failed to record timeout outcome",
				"batch_id", t.batchID,
				"job_id", job.ID,
				"error", err)
		}
	}

	o.finalize(t.batchID, true)
}

// finalize runs the Aggregating phase and resolves the terminal state.
// Idempotent: a batch already terminal is left alone, and a crash between
// the two transitions is recovered by resume.
func (o *Orchestrator) finalize(batchID string, timedOut bool) {
	ctx := o.ctx
	defer o.dropTracker(batchID)

	batch, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		o.failBatch(batchID, fmt.Errorf("failed to load batch for finalize: %w", err))
		return
	}
	if batch == nil || models.IsTerminalBatchStatus(batch.Status) {
		return
	}

	if batch.Status == models.BatchStatusRunning {
		if err := o.store.TransitionBatch(ctx, batchID, models.BatchStatusRunning, models.BatchStatusAggregating, batch.Version); err != nil {
			// Lost the CAS; whoever won owns the terminal transition
			o.logger.Warn("Finalize lost transition race", "batch_id", batchID, "error", err)
			return
		}
		batch.Version++
	} else if batch.Status != models.BatchStatusAggregating {
		o.logger.Warn("Finalize skipped batch in unexpected status",
			"batch_id", batchID,
			"status", batch.Status)
		return
	}

	timedOut = timedOut || (batch.FailureCause != nil && *batch.FailureCause == models.FailureCauseTimeout)

	agg, err := o.aggregator.Finalize(ctx, batchID, timedOut)
	if err != nil {
		o.failBatch(batchID, err)
		return
	}

	if timedOut {
		if err := o.store.SetBatchFailureCause(ctx, batchID, models.FailureCauseTimeout); err != nil {
			o.logger.Error("Failed to record timeout cause", "batch_id", batchID, "error", err)
		}
	}
	if err := o.store.TransitionBatch(ctx, batchID, models.BatchStatusAggregating, agg.Status, batch.Version); err != nil {
		o.failBatch(batchID, fmt.Errorf("failed to resolve terminal state: %w", err))
		return
	}

	o.logger.Info("Batch finalized",
		"batch_id", batchID,
		"status", agg.Status,
		"succeeded", agg.Succeeded,
		"failed", agg.Failed)
	o.notify(batchID, agg.Status, agg)
}

// failBatch is the global error handler: every infrastructure fault during
// Preparing or Aggregating still lands the batch in a terminal state
func (o *Orchestrator) failBatch(batchID string, cause error) {
	o.logger.Error("Batch forced to failed", "batch_id", batchID, "error", cause)
	defer o.dropTracker(batchID)

	forced, err := o.store.ForceBatchFailed(o.ctx, batchID, cause.Error())
	if err != nil {
		o.logger.Error("Failed to force batch failed", "batch_id", batchID, "error", err)
		return
	}
	if !forced {
		return
	}

	// A batch failed mid-preparation may have already enqueued part of its
	// job set; drain those messages so workers stop executing for a batch
	// that is already terminal.
	o.abandonOutstanding(o.ctx, batchID, cause.Error())

	agg, err := o.store.GetAggregate(o.ctx, batchID)
	if err != nil {
		agg = &models.AggregateResult{BatchID: batchID}
	}
	o.notify(batchID, models.BatchStatusFailed, agg)
}

// abandonOutstanding forces a batch's remaining jobs terminal, drops their
// queue messages, and records a failed outcome per job so the aggregate
// accounts for every document.
func (o *Orchestrator) abandonOutstanding(ctx context.Context, batchID, cause string) int {
	outstanding, err := o.store.ForceOutstandingJobsTerminal(ctx, batchID, cause)
	if err != nil {
		o.logger.Error("Failed to abandon outstanding jobs", "batch_id", batchID, "error", err)
		return 0
	}
	for _, job := range outstanding {
		if _, err := o.aggregator.Record(ctx, models.JobOutcome{
			BatchID:     job.BatchID,
			JobID:       job.ID,
			DocumentRef: job.DocumentRef,
			Succeeded:   false,
			Error:       &cause,
		}); err != nil {
			o.logger.Error("Failed to record abandonment outcome",
				"batch_id", batchID,
				"job_id", job.ID,
				"error", err)
		}
	}
	return len(outstanding)
}

// Cancel marks a batch failed with cause "cancelled". Outstanding jobs
// are forced terminal and dropped from their queues; in-flight workers
// notice the cancellation before releasing for retry.
func (o *Orchestrator) Cancel(ctx context.Context, batchID string) error {
	batch, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if batch == nil {
		return fmt.Errorf("batch %s not found", batchID)
	}
	if models.IsTerminalBatchStatus(batch.Status) {
		return fmt.Errorf("batch %s is already %s", batchID, batch.Status)
	}

	forced, err := o.store.ForceBatchFailed(ctx, batchID, models.FailureCauseCancelled)
	if err != nil {
		return err
	}
	if !forced {
		return fmt.Errorf("batch %s is already terminal", batchID)
	}

	if t := o.lookupTracker(batchID); t != nil {
		close(t.stop)
	}
	o.dropTracker(batchID)

	abandoned := o.abandonOutstanding(ctx, batchID, "batch cancelled")
	o.logger.Info("Batch cancelled", "batch_id", batchID, "jobs_abandoned", abandoned)

	agg, err := o.store.GetAggregate(ctx, batchID)
	if err != nil {
		agg = &models.AggregateResult{BatchID: batchID}
	}
	o.notify(batchID, models.BatchStatusFailed, agg)
	return nil
}

// Status returns the batch together with its aggregate. The aggregate is
// complete once the batch is terminal and a running tally before that.
func (o *Orchestrator) Status(ctx context.Context, batchID string) (*models.Batch, *models.AggregateResult, error) {
	batch, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	if batch == nil {
		return nil, nil, nil
	}
	agg, err := o.store.GetAggregate(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	agg.Status = batch.Status
	return batch, agg, nil
}

// notify emits the single terminal event for a batch. Delivery failures
// are logged, not retried; the terminal state is already durable.
func (o *Orchestrator) notify(batchID, status string, agg *models.AggregateResult) {
	event := notify.Event{
		BatchID: batchID,
		Status:  status,
		Summary: notify.SummaryFromAggregate(agg),
	}
	if err := o.notifier.NotifyBatchTerminal(o.ctx, event); err != nil {
		o.logger.Error("Failed to deliver terminal notification",
			"batch_id", batchID,
			"status", status,
			"error", err)
	}
}

// resume reattaches trackers to batches that were in flight before a
// restart. Batches interrupted mid-preparation lose their document list
// with the submission and are failed by the global error handler.
func (o *Orchestrator) resume() error {
	active, err := o.store.ListActiveBatches(o.ctx)
	if err != nil {
		return fmt.Errorf("failed to list active batches: %w", err)
	}

	for _, batch := range active {
		switch batch.Status {
		case models.BatchStatusPending, models.BatchStatusPreparing:
			o.failBatch(batch.ID, fmt.Errorf("preparation interrupted by restart"))

		case models.BatchStatusRunning:
			o.logger.Info("Resuming batch", "batch_id", batch.ID, "jobs", batch.ExpectedJobCount)
			o.track(batch.ID, batch.ExpectedJobCount, batch.CreatedAt.Add(o.timeout))

		case models.BatchStatusAggregating:
			o.logger.Info("Resuming batch finalize", "batch_id", batch.ID)
			id := batch.ID
			o.wg.Add(1)
			go func() {
				defer o.wg.Done()
				o.finalize(id, false)
			}()
		}
	}
	return nil
}
