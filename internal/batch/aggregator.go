package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kuhlman-labs/doc-analyzer/internal/models"
	"github.com/kuhlman-labs/doc-analyzer/internal/storage"
)

// AggregatorStore is the persistence surface the aggregator writes through
type AggregatorStore interface {
	storage.OutcomeStore
	storage.JobStore
}

// Aggregator accumulates per-job outcomes into the batch-level aggregate
// and applies the terminal decision policy.
type Aggregator struct {
	store  AggregatorStore
	logger *slog.Logger
}

// NewAggregator creates a new aggregator
func NewAggregator(store AggregatorStore, logger *slog.Logger) (*Aggregator, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Aggregator{store: store, logger: logger}, nil
}

// Record applies one job outcome to the aggregate. Duplicate deliveries
// of the same job outcome are ignored after the first; the bool reports
// whether this call counted.
func (a *Aggregator) Record(ctx context.Context, outcome models.JobOutcome) (bool, error) {
	first, err := a.store.RecordOutcome(ctx, &models.DocumentOutcome{
		BatchID:         outcome.BatchID,
		JobID:           outcome.JobID,
		DocumentRef:     outcome.DocumentRef,
		Succeeded:       outcome.Succeeded,
		Verdict:         outcome.Verdict,
		ConfidenceScore: outcome.ConfidenceScore,
		Error:           outcome.Error,
		RecordedAt:      time.Now().UTC(),
	})
	if err != nil {
		return false, err
	}

	status := models.JobStatusSucceeded
	if !outcome.Succeeded {
		status = models.JobStatusFailedTerminal
	}
	if err := a.store.SetJobStatus(ctx, outcome.JobID, status, outcome.Error); err != nil {
		a.logger.Error("Failed to update job status from outcome",
			"batch_id", outcome.BatchID,
			"job_id", outcome.JobID,
			"error", err)
	}

	if !first {
		a.logger.Debug("Ignoring duplicate outcome",
			"batch_id", outcome.BatchID,
			"job_id", outcome.JobID)
	}
	return first, nil
}

// Finalize computes the terminal aggregate for a batch. Safe to re-apply
// after a crash; the result is derived entirely from recorded outcomes.
func (a *Aggregator) Finalize(ctx context.Context, batchID string, timedOut bool) (*models.AggregateResult, error) {
	agg, err := a.store.GetAggregate(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize batch %s: %w", batchID, err)
	}
	agg.Status = decideStatus(agg, timedOut)
	return agg, nil
}

// decideStatus applies the decision policy: zero failures succeed, all
// failures fail, anything between is a partial failure. A batch deadline
// overrides the counts.
func decideStatus(agg *models.AggregateResult, timedOut bool) string {
	if timedOut {
		return models.BatchStatusTimedOut
	}
	switch {
	case agg.Failed == 0:
		return models.BatchStatusSucceeded
	case agg.Failed == agg.Total:
		return models.BatchStatusFailed
	default:
		return models.BatchStatusPartiallyFailed
	}
}
