package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/kuhlman-labs/doc-analyzer/internal/models"
	"gorm.io/gorm"
)

// GetBatch retrieves a batch by ID
func (d *Database) GetBatch(ctx context.Context, id string) (*models.Batch, error) {
	var batch models.Batch
	err := d.db.WithContext(ctx).Where("id = ?", id).First(&batch).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}

	return &batch, nil
}

// CreateBatch creates a new batch
func (d *Database) CreateBatch(ctx context.Context, batch *models.Batch) error {
	result := d.db.WithContext(ctx).Create(batch)
	if result.Error != nil {
		return fmt.Errorf("failed to create batch: %w", result.Error)
	}
	return nil
}

// UpdateBatch updates a batch
func (d *Database) UpdateBatch(ctx context.Context, batch *models.Batch) error {
	result := d.db.WithContext(ctx).Save(batch)
	return result.Error
}

// ListBatches retrieves all batches, newest first
func (d *Database) ListBatches(ctx context.Context) ([]*models.Batch, error) {
	var batches []*models.Batch
	err := d.db.WithContext(ctx).Order("created_at DESC").Find(&batches).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	return batches, nil
}

// TransitionBatch moves a batch from one status to another, guarded by the
// current status and version. Batch status transitions are monotonic; the
// version check serializes concurrent writers (compare-and-swap).
func (d *Database) TransitionBatch(ctx context.Context, batchID, from, to string, version int64) error {
	updates := map[string]any{
		"status":  to,
		"version": version + 1,
	}
	now := time.Now().UTC()
	if to == models.BatchStatusRunning {
		updates["started_at"] = &now
	}
	if models.IsTerminalBatchStatus(to) {
		updates["completed_at"] = &now
	}

	result := d.db.WithContext(ctx).Model(&models.Batch{}).
		Where("id = ? AND status = ? AND version = ?", batchID, from, version).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to transition batch: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("batch %s is not in status %q at version %d", batchID, from, version)
	}
	return nil
}

// ForceBatchFailed moves a batch to failed from any non-terminal state,
// recording the cause. Terminal batches are left untouched so the global
// error handler and cancellation stay idempotent.
func (d *Database) ForceBatchFailed(ctx context.Context, batchID, cause string) (bool, error) {
	now := time.Now().UTC()
	result := d.db.WithContext(ctx).Model(&models.Batch{}).
		Where("id = ? AND status NOT IN ?", batchID, []string{
			models.BatchStatusSucceeded,
			models.BatchStatusPartiallyFailed,
			models.BatchStatusFailed,
			models.BatchStatusTimedOut,
		}).
		Updates(map[string]any{
			"status":        models.BatchStatusFailed,
			"failure_cause": cause,
			"completed_at":  &now,
			"version":       gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to force batch failed: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListActiveBatches returns batches that have not reached a terminal
// state, oldest first. Used to resume tracking after a restart.
func (d *Database) ListActiveBatches(ctx context.Context) ([]*models.Batch, error) {
	var batches []*models.Batch
	err := d.db.WithContext(ctx).
		Where("status NOT IN ?", []string{
			models.BatchStatusSucceeded,
			models.BatchStatusPartiallyFailed,
			models.BatchStatusFailed,
			models.BatchStatusTimedOut,
		}).
		Order("created_at ASC").
		Find(&batches).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active batches: %w", err)
	}
	return batches, nil
}

// SetBatchFailureCause records why a batch was forced to a failed state
func (d *Database) SetBatchFailureCause(ctx context.Context, batchID, cause string) error {
	result := d.db.WithContext(ctx).Model(&models.Batch{}).
		Where("id = ?", batchID).
		Update("failure_cause", cause)
	return result.Error
}

// SetBatchExpectedJobCount records the job set size fixed at preparation time
func (d *Database) SetBatchExpectedJobCount(ctx context.Context, batchID string, count int) error {
	result := d.db.WithContext(ctx).Model(&models.Batch{}).
		Where("id = ?", batchID).
		Update("expected_job_count", count)
	return result.Error
}

// DeleteBatchesCompletedBefore removes terminal batches older than the
// cutoff together with their jobs and outcomes. Dead-letter entries are
// kept for diagnostics.
func (d *Database) DeleteBatchesCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&models.Batch{}).
			Where("completed_at IS NOT NULL AND completed_at < ?", cutoff).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("failed to find expired batches: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Where("batch_id IN ?", ids).Delete(&models.Job{}).Error; err != nil {
			return fmt.Errorf("failed to delete expired jobs: %w", err)
		}
		if err := tx.Where("batch_id IN ?", ids).Delete(&models.DocumentOutcome{}).Error; err != nil {
			return fmt.Errorf("failed to delete expired outcomes: %w", err)
		}

		result := tx.Where("id IN ?", ids).Delete(&models.Batch{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete expired batches: %w", result.Error)
		}
		deleted = result.RowsAffected
		return nil
	})
	return deleted, err
}
