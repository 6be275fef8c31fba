package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kuhlman-labs/doc-analyzer/internal/models"
	"gorm.io/gorm"
)

// RecordOutcome inserts a per-document outcome exactly once per job.
// Duplicate deliveries of the same job outcome are ignored; the bool
// reports whether this call was the first.
func (d *Database) RecordOutcome(ctx context.Context, outcome *models.DocumentOutcome) (bool, error) {
	err := d.db.WithContext(ctx).Create(outcome).Error
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to record outcome: %w", err)
	}
	return true, nil
}

// GetAggregate assembles the batch-level aggregate from recorded outcomes
func (d *Database) GetAggregate(ctx context.Context, batchID string) (*models.AggregateResult, error) {
	var outcomes []*models.DocumentOutcome
	err := d.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("recorded_at ASC").
		Find(&outcomes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}

	agg := &models.AggregateResult{
		BatchID:  batchID,
		Total:    len(outcomes),
		Outcomes: outcomes,
	}
	for _, o := range outcomes {
		if o.Succeeded {
			agg.Succeeded++
		} else {
			agg.Failed++
		}
	}
	return agg, nil
}

// isUniqueViolation detects duplicate-key errors across the supported
// dialects (sqlite, postgres, sqlserver).
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "duplicate key")
}
