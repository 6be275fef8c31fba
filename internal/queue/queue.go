// Package queue implements the durable priority queue set: three
// independently tuned tier queues (high/normal/low), each backed by a
// dead-letter queue, with at-least-once delivery through visibility
// windows.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kuhlman-labs/doc-analyzer/internal/config"
	"github.com/kuhlman-labs/doc-analyzer/internal/models"
	"github.com/kuhlman-labs/doc-analyzer/internal/storage"
)

// TierPolicy is the per-tier queue tuning. Higher priority gets lower
// latency and no batching delay; lower priority batches aggressively to
// reduce per-message overhead.
type TierPolicy struct {
	Tier             string
	MaxBatch         int
	BatchingDelay    time.Duration
	VisibilityWindow time.Duration
	MaxReceiveCount  int
}

// PolicyFromConfig builds a TierPolicy from the tier's configuration
func PolicyFromConfig(tier string, cfg config.TierConfig) TierPolicy {
	return TierPolicy{
		Tier:             tier,
		MaxBatch:         cfg.MaxBatch,
		BatchingDelay:    time.Duration(cfg.BatchingDelaySeconds) * time.Second,
		VisibilityWindow: time.Duration(cfg.VisibilityWindowSeconds) * time.Second,
		MaxReceiveCount:  cfg.MaxReceiveCount,
	}
}

// Queue is one tier's durable queue. A job is in exactly one tier queue
// at a time, or dead-lettered, or terminal-succeeded.
type Queue struct {
	policy       TierPolicy
	store        storage.MessageStore
	logger       *slog.Logger
	maxBytes     int
	pollInterval time.Duration
}

// QueueConfig holds configuration for one tier queue
type QueueConfig struct {
	Policy       TierPolicy
	Store        storage.MessageStore
	Logger       *slog.Logger
	MaxBytes     int
	PollInterval time.Duration
}

// NewQueue creates a tier queue
func NewQueue(cfg QueueConfig) (*Queue, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Policy.MaxBatch <= 0 {
		return nil, fmt.Errorf("policy max batch must be positive")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 256 * 1024
	}

	return &Queue{
		policy:       cfg.Policy,
		store:        cfg.Store,
		logger:       cfg.Logger,
		maxBytes:     cfg.MaxBytes,
		pollInterval: cfg.PollInterval,
	}, nil
}

// Policy returns the tier policy the queue runs under
func (q *Queue) Policy() TierPolicy {
	return q.policy
}

// Message is a dequeued message together with the handle needed to
// acknowledge or release it.
type Message struct {
	*models.QueueMessage
	claimToken string
}

// Handle identifies a claimed message for acknowledge/release
func (m *Message) Handle() (int64, string) {
	return m.ID, m.claimToken
}

// Enqueue durably accepts a job message onto the tier. Messages over the
// size limit fail permanently; storage faults are transient and the
// caller should retry.
func (q *Queue) Enqueue(ctx context.Context, job *models.Job, payload string) error {
	if len(payload) > q.maxBytes {
		return &PermanentQueueError{
			Op:     "enqueue",
			Reason: fmt.Sprintf("payload of %d bytes exceeds limit of %d", len(payload), q.maxBytes),
		}
	}

	msg := &models.QueueMessage{
		Tier:        q.policy.Tier,
		JobID:       job.ID,
		BatchID:     job.BatchID,
		DocumentRef: job.DocumentRef,
		Payload:     payload,
		EnqueuedAt:  time.Now().UTC(),
	}
	if err := q.store.EnqueueMessage(ctx, msg); err != nil {
		return &TransientQueueError{Op: "enqueue", Err: err}
	}

	q.logger.Debug("Message enqueued",
		"tier", q.policy.Tier,
		"job_id", job.ID,
		"batch_id", job.BatchID)

	return nil
}

// DequeueResult carries the claimed messages of one dequeue call plus any
// messages the claim pass dead-lettered because their redelivery budget
// was exhausted.
type DequeueResult struct {
	Messages     []*Message
	DeadLettered []*models.DeadLetterEntry
}

// Dequeue long-polls the tier for up to MaxBatch messages. The first
// available message opens the tier's batching window; the call returns
// once the batch is full, the window closes, or waitTimeout elapses with
// nothing claimed. Claimed messages are invisible to other consumers for
// the tier's visibility window.
func (q *Queue) Dequeue(ctx context.Context, waitTimeout time.Duration) (*DequeueResult, error) {
	deadline := time.Now().Add(waitTimeout)
	claimToken := uuid.NewString()
	res := &DequeueResult{}

	var batchDeadline time.Time

	for {
		claim, err := q.store.ClaimMessages(ctx, q.policy.Tier,
			q.policy.MaxBatch-len(res.Messages), q.policy.VisibilityWindow,
			q.policy.MaxReceiveCount, claimToken)
		if err != nil {
			return nil, &TransientQueueError{Op: "dequeue", Err: err}
		}

		for _, msg := range claim.Claimed {
			res.Messages = append(res.Messages, &Message{QueueMessage: msg, claimToken: claimToken})
		}
		res.DeadLettered = append(res.DeadLettered, claim.DeadLettered...)

		if len(res.Messages) >= q.policy.MaxBatch {
			return res, nil
		}
		if len(res.Messages) > 0 && batchDeadline.IsZero() {
			batchDeadline = time.Now().Add(q.policy.BatchingDelay)
		}
		if !batchDeadline.IsZero() && !time.Now().Before(batchDeadline) {
			return res, nil
		}
		if len(res.DeadLettered) > 0 && len(res.Messages) == 0 {
			// Surface dead-lettered jobs promptly so their outcomes are
			// reported without waiting out the long poll.
			return res, nil
		}
		if time.Now().After(deadline) {
			return res, nil
		}

		wait := q.pollInterval
		if !batchDeadline.IsZero() {
			if until := time.Until(batchDeadline); until < wait {
				wait = until
			}
		}
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Acknowledge permanently removes a message. Omitting acknowledgment
// before the visibility window expires causes automatic redelivery.
func (q *Queue) Acknowledge(ctx context.Context, msg *Message) error {
	acked, err := q.store.AckMessage(ctx, msg.ID, msg.claimToken)
	if err != nil {
		return &TransientQueueError{Op: "acknowledge", Err: err}
	}
	if !acked {
		q.logger.Warn("Acknowledge raced an expired claim; message will redeliver",
			"tier", q.policy.Tier,
			"job_id", msg.JobID)
	}
	return nil
}

// Release returns a failed message to the tier after an exponential
// backoff keyed to its delivery count, or dead-letters it when the
// receive budget is exhausted. The returned entry is non-nil in the
// dead-letter case.
func (q *Queue) Release(ctx context.Context, msg *Message, attemptErr string) (*models.DeadLetterEntry, error) {
	delay := RetryBackoff(msg.ReceiveCount)
	entry, err := q.store.ReleaseMessage(ctx, msg.ID, msg.claimToken, delay, attemptErr, q.policy.MaxReceiveCount)
	if err != nil {
		return nil, &TransientQueueError{Op: "release", Err: err}
	}

	if entry != nil {
		q.logger.Info("Message dead-lettered",
			"tier", q.policy.Tier,
			"job_id", msg.JobID,
			"receive_count", entry.ReceiveCount)
	} else {
		q.logger.Debug("Message released for retry",
			"tier", q.policy.Tier,
			"job_id", msg.JobID,
			"delay", delay)
	}

	return entry, nil
}

// Depth returns the number of messages currently on the tier
func (q *Queue) Depth(ctx context.Context) (int, error) {
	return q.store.CountMessages(ctx, q.policy.Tier)
}
