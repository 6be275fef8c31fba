// Package worker implements the bounded-concurrency execution layer that
// pulls jobs from the tier queues, invokes the analysis capability, and
// reports a terminal outcome per job attempt.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kuhlman-labs/doc-analyzer/internal/analysis"
	"github.com/kuhlman-labs/doc-analyzer/internal/config"
	"github.com/kuhlman-labs/doc-analyzer/internal/docstore"
	"github.com/kuhlman-labs/doc-analyzer/internal/models"
	"github.com/kuhlman-labs/doc-analyzer/internal/queue"
	"github.com/kuhlman-labs/doc-analyzer/internal/storage"
)

// dequeueWait is how long one loop iteration long-polls its tier
const dequeueWait = 20 * time.Second

// Reporter consumes job-outcome events. The orchestrator implements it
// and serializes outcome application per batch.
type Reporter interface {
	ReportOutcome(ctx context.Context, outcome models.JobOutcome)
}

// Store is the persistence surface the pool needs
type Store interface {
	storage.JobStore
	storage.BatchReader
}

// Pool runs independent execution loops against the tier queues. Reserved
// concurrency across all tiers is capped globally to bound downstream
// load on the analysis capability.
type Pool struct {
	queues     *queue.Set
	capability analysis.Capability
	documents  docstore.Store
	store      Store
	reporter   Reporter
	logger     *slog.Logger
	cfg        config.WorkerConfig

	sem *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// PoolConfig holds configuration for the worker pool
type PoolConfig struct {
	Queues     *queue.Set
	Capability analysis.Capability
	Documents  docstore.Store
	Store      Store
	Reporter   Reporter
	Logger     *slog.Logger
	Worker     config.WorkerConfig
}

// NewPool creates a new worker pool
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Queues == nil {
		return nil, fmt.Errorf("queues are required")
	}
	if cfg.Capability == nil {
		return nil, fmt.Errorf("capability is required")
	}
	if cfg.Documents == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Reporter == nil {
		return nil, fmt.Errorf("reporter is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Worker.GlobalConcurrency <= 0 {
		cfg.Worker.GlobalConcurrency = 8
	}

	return &Pool{
		queues:     cfg.Queues,
		capability: cfg.Capability,
		documents:  cfg.Documents,
		store:      cfg.Store,
		reporter:   cfg.Reporter,
		logger:     cfg.Logger,
		cfg:        cfg.Worker,
		sem:        semaphore.NewWeighted(int64(cfg.Worker.GlobalConcurrency)),
	}, nil
}

// concurrency returns the number of loops to run against a tier
func (p *Pool) concurrency(tier string) int {
	var n int
	switch tier {
	case models.PriorityHigh:
		n = p.cfg.HighConcurrency
	case models.PriorityLow:
		n = p.cfg.LowConcurrency
	default:
		n = p.cfg.NormalConcurrency
	}
	if n <= 0 {
		n = 1
	}
	return n
}

// Start launches the execution loops for every tier
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.ctx != nil {
		p.mu.Unlock()
		return fmt.Errorf("pool already started")
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	for _, tier := range p.queues.Tiers() {
		q, err := p.queues.Tier(tier)
		if err != nil {
			return err
		}
		n := p.concurrency(tier)
		p.logger.Info("Starting worker loops", "tier", tier, "concurrency", n)

		for i := 0; i < n; i++ {
			p.wg.Add(1)
			go p.runLoop(q)
		}
	}
	return nil
}

// Stop stops the pool and waits for in-flight jobs to finish
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

// runLoop is one tier execution loop: long-poll dequeue, execute, report
func (p *Pool) runLoop(q *queue.Queue) {
	defer p.wg.Done()

	tier := q.Policy().Tier
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		res, err := q.Dequeue(p.ctx, dequeueWait)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			p.logger.Error("Dequeue failed", "tier", tier, "error", err)
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		// Jobs dead-lettered during the claim pass (crashed consumers that
		// exhausted the receive budget) still owe the aggregator an outcome.
		for _, entry := range res.DeadLettered {
			p.reportDeadLettered(entry)
		}

		for _, msg := range res.Messages {
			p.process(q, msg)
		}
	}
}

// process executes one claimed message end to end
func (p *Pool) process(q *queue.Queue, msg *queue.Message) {
	tier := q.Policy().Tier

	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		return
	}
	defer p.sem.Release(1)

	ctx := p.ctx

	// Duplicate delivery of an already-terminal job: acknowledge and move
	// on; its outcome is already recorded.
	job, err := p.store.GetJob(ctx, msg.JobID)
	if err != nil {
		p.logger.Error("Failed to load job", "job_id", msg.JobID, "error", err)
		return
	}
	if job == nil {
		p.logger.Warn("Message references unknown job; dropping", "job_id", msg.JobID)
		_ = q.Acknowledge(ctx, msg)
		return
	}
	if models.IsTerminalJobStatus(job.Status) {
		_ = q.Acknowledge(ctx, msg)
		return
	}

	if err := p.store.MarkJobDequeued(ctx, msg.JobID, msg.ReceiveCount); err != nil {
		p.logger.Error("Failed to mark job dequeued", "job_id", msg.JobID, "error", err)
	}

	verdict, execErr := p.execute(ctx, msg)
	if execErr == nil {
		if err := q.Acknowledge(ctx, msg); err != nil {
			p.logger.Error("Failed to acknowledge message", "job_id", msg.JobID, "error", err)
		}
		p.reporter.ReportOutcome(ctx, models.JobOutcome{
			BatchID:         msg.BatchID,
			JobID:           msg.JobID,
			DocumentRef:     msg.DocumentRef,
			Succeeded:       true,
			Verdict:         &verdict.Verdict,
			ConfidenceScore: &verdict.ConfidenceScore,
		})
		return
	}

	errMsg := execErr.Error()
	p.logger.Warn("Job attempt failed",
		"tier", tier,
		"job_id", msg.JobID,
		"attempt", msg.ReceiveCount,
		"error", execErr)

	// Terminal failures acknowledge immediately rather than burning the
	// remaining retry budget.
	if analysis.IsTerminal(execErr) || p.batchCancelled(ctx, msg.BatchID) {
		if err := q.Acknowledge(ctx, msg); err != nil {
			p.logger.Error("Failed to acknowledge message", "job_id", msg.JobID, "error", err)
		}
		p.reporter.ReportOutcome(ctx, models.JobOutcome{
			BatchID:     msg.BatchID,
			JobID:       msg.JobID,
			DocumentRef: msg.DocumentRef,
			Succeeded:   false,
			Error:       &errMsg,
		})
		return
	}

	entry, err := q.Release(ctx, msg, errMsg)
	if err != nil {
		p.logger.Error("Failed to release message", "job_id", msg.JobID, "error", err)
		return
	}
	if entry != nil {
		// Retry budget exhausted; the release dead-lettered the job
		p.reportDeadLettered(entry)
	}
}

// execute fetches the document and invokes the analysis capability under
// the per-job timeout
func (p *Pool) execute(ctx context.Context, msg *queue.Message) (*analysis.Verdict, error) {
	content, err := p.documents.Fetch(ctx, msg.DocumentRef)
	if err != nil {
		return nil, analysis.NewTransientError("document fetch failed", err)
	}

	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout())
	defer cancel()

	verdict, err := p.capability.Analyze(jobCtx, analysis.Request{
		DocumentRef: msg.DocumentRef,
		Content:     content,
		Options:     msg.Payload,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, analysis.NewTimeoutError("job timeout exceeded", err)
		}
		return nil, err
	}
	return verdict, nil
}

// batchCancelled checks whether the job's batch was cancelled; cancelled
// batches abandon further retries
func (p *Pool) batchCancelled(ctx context.Context, batchID string) bool {
	batch, err := p.store.GetBatch(ctx, batchID)
	if err != nil || batch == nil {
		return false
	}
	return batch.Status == models.BatchStatusFailed &&
		batch.FailureCause != nil &&
		*batch.FailureCause == models.FailureCauseCancelled
}

func (p *Pool) reportDeadLettered(entry *models.DeadLetterEntry) {
	errMsg := "retry budget exhausted"
	p.reporter.ReportOutcome(p.ctx, models.JobOutcome{
		BatchID:     entry.BatchID,
		JobID:       entry.JobID,
		DocumentRef: entry.DocumentRef,
		Succeeded:   false,
		Error:       &errMsg,
	})
}
