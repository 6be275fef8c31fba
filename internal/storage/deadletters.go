package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/kuhlman-labs/doc-analyzer/internal/models"
	"gorm.io/gorm"
)

// ListDeadLetters returns dead-letter entries, optionally filtered by tier
func (d *Database) ListDeadLetters(ctx context.Context, tier string) ([]*models.DeadLetterEntry, error) {
	query := d.db.WithContext(ctx).Order("dead_lettered_at DESC")
	if tier != "" {
		query = query.Where("tier = ?", tier)
	}

	var entries []*models.DeadLetterEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	return entries, nil
}

// GetDeadLetter retrieves a dead-letter entry by ID
func (d *Database) GetDeadLetter(ctx context.Context, id int64) (*models.DeadLetterEntry, error) {
	var entry models.DeadLetterEntry
	err := d.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}

	return &entry, nil
}

// ReplayDeadLetter re-enqueues a dead-lettered job on its original tier
// with a fresh receive budget and requeues the job row. The entry carries
// the full originating document reference and batch identifier, so nothing
// beyond the entry itself is needed.
func (d *Database) ReplayDeadLetter(ctx context.Context, id int64) (*models.QueueMessage, error) {
	var msg *models.QueueMessage

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.DeadLetterEntry
		err := tx.Where("id = ?", id).First(&entry).Error
		if err == gorm.ErrRecordNotFound {
			return fmt.Errorf("dead letter %d not found", id)
		}
		if err != nil {
			return fmt.Errorf("failed to load dead letter: %w", err)
		}

		msg = &models.QueueMessage{
			Tier:        entry.Tier,
			JobID:       entry.JobID,
			BatchID:     entry.BatchID,
			DocumentRef: entry.DocumentRef,
			Payload:     entry.Payload,
			EnqueuedAt:  time.Now().UTC(),
		}
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("failed to re-enqueue message: %w", err)
		}

		if err := tx.Where("id = ?", id).Delete(&models.DeadLetterEntry{}).Error; err != nil {
			return fmt.Errorf("failed to remove dead letter: %w", err)
		}

		// Replay force-resets the job past its terminal state; the attempt
		// count is kept for diagnostics.
		result := tx.Model(&models.Job{}).
			Where("id = ?", entry.JobID).
			Updates(map[string]any{
				"status":     models.JobStatusQueued,
				"last_error": nil,
			})
		return result.Error
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}
