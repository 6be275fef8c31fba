package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/kuhlman-labs/doc-analyzer/internal/models"
	"gorm.io/gorm"
)

// CreateJobs inserts the full job set for a batch in one statement.
// A batch's job set is fixed at preparation time.
func (d *Database) CreateJobs(ctx context.Context, jobs []*models.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	result := d.db.WithContext(ctx).Create(jobs)
	if result.Error != nil {
		return fmt.Errorf("failed to create jobs: %w", result.Error)
	}
	return nil
}

// GetJob retrieves a job by ID
func (d *Database) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := d.db.WithContext(ctx).Where("id = ?", id).First(&job).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// ListJobs returns all jobs belonging to a batch
func (d *Database) ListJobs(ctx context.Context, batchID string) ([]*models.Job, error) {
	var jobs []*models.Job
	err := d.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("enqueued_at ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// MarkJobDequeued records a delivery attempt on the job row
func (d *Database) MarkJobDequeued(ctx context.Context, jobID string, attempts int) error {
	now := time.Now().UTC()
	result := d.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"status":          models.JobStatusInFlight,
			"attempts":        attempts,
			"last_dequeue_at": &now,
		})
	return result.Error
}

// SetJobStatus updates a job's status and last error. Terminal job rows are
// never moved again, which keeps outcome recording idempotent per job ID.
func (d *Database) SetJobStatus(ctx context.Context, jobID, status string, lastError *string) error {
	result := d.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status NOT IN ?", jobID,
			[]string{models.JobStatusSucceeded, models.JobStatusFailedTerminal}).
		Updates(map[string]any{
			"status":     status,
			"last_error": lastError,
		})
	return result.Error
}

// CountTerminalJobs returns how many of a batch's jobs have reached a
// terminal per-job state
func (d *Database) CountTerminalJobs(ctx context.Context, batchID string) (int, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&models.Job{}).
		Where("batch_id = ? AND status IN ?", batchID,
			[]string{models.JobStatusSucceeded, models.JobStatusFailedTerminal}).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count terminal jobs: %w", err)
	}
	return int(count), nil
}

// ForceOutstandingJobsTerminal marks every non-terminal job of a batch
// failed_terminal with the given cause and returns the affected jobs.
// Used when the batch-level deadline elapses or the batch is cancelled.
func (d *Database) ForceOutstandingJobsTerminal(ctx context.Context, batchID, cause string) ([]*models.Job, error) {
	var outstanding []*models.Job
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("batch_id = ? AND status NOT IN ?", batchID,
				[]string{models.JobStatusSucceeded, models.JobStatusFailedTerminal}).
			Find(&outstanding).Error; err != nil {
			return fmt.Errorf("failed to list outstanding jobs: %w", err)
		}
		if len(outstanding) == 0 {
			return nil
		}

		ids := make([]string, len(outstanding))
		for i, job := range outstanding {
			ids[i] = job.ID
		}

		if err := tx.Model(&models.Job{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":     models.JobStatusFailedTerminal,
				"last_error": cause,
			}).Error; err != nil {
			return fmt.Errorf("failed to force jobs terminal: %w", err)
		}

		// Drop their queue messages so workers stop redelivering them
		if err := tx.Where("job_id IN ?", ids).Delete(&models.QueueMessage{}).Error; err != nil {
			return fmt.Errorf("failed to drop queue messages: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outstanding, nil
}
