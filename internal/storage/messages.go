package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kuhlman-labs/doc-analyzer/internal/models"
	"gorm.io/gorm"
)

// EnqueueMessage durably inserts a queue message on its tier
func (d *Database) EnqueueMessage(ctx context.Context, msg *models.QueueMessage) error {
	result := d.db.WithContext(ctx).Create(msg)
	if result.Error != nil {
		return fmt.Errorf("failed to enqueue message: %w", result.Error)
	}
	return nil
}

// ClaimResult is the outcome of one claim pass over a tier
type ClaimResult struct {
	Claimed []*models.QueueMessage
	// DeadLettered holds messages whose redelivery budget was already
	// exhausted when the claim found them (e.g. a crashed consumer let the
	// visibility window lapse on the final attempt).
	DeadLettered []*models.DeadLetterEntry
}

// ClaimMessages atomically claims up to max visible messages on a tier,
// making each invisible for the visibility window and counting the
// delivery. Messages found with an exhausted receive budget are moved to
// the tier's dead-letter queue in the same transaction.
func (d *Database) ClaimMessages(ctx context.Context, tier string, max int, visibility time.Duration, maxReceive int, claimToken string) (*ClaimResult, error) {
	res := &ClaimResult{}
	now := time.Now().UTC()

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Move aside every visible message whose budget is already spent so
		// exhausted candidates never occupy claim slots, however many of
		// them sit at the head of the tier.
		var exhausted []*models.QueueMessage
		if err := tx.
			Where("tier = ? AND (invisible_until IS NULL OR invisible_until <= ?) AND receive_count >= ?",
				tier, now, maxReceive).
			Order("enqueued_at ASC").
			Find(&exhausted).Error; err != nil {
			return fmt.Errorf("failed to find exhausted messages: %w", err)
		}
		for _, msg := range exhausted {
			entry, err := moveToDeadLetter(tx, msg, "visibility window elapsed without acknowledgment")
			if err != nil {
				return err
			}
			res.DeadLettered = append(res.DeadLettered, entry)
		}

		var candidates []*models.QueueMessage
		if err := tx.
			Where("tier = ? AND (invisible_until IS NULL OR invisible_until <= ?) AND receive_count < ?",
				tier, now, maxReceive).
			Order("enqueued_at ASC").
			Limit(max).
			Find(&candidates).Error; err != nil {
			return fmt.Errorf("failed to find claimable messages: %w", err)
		}

		for _, msg := range candidates {
			until := now.Add(visibility)
			// Guarded update; a concurrent claimer that won the race leaves
			// RowsAffected at zero and we skip the message.
			result := tx.Model(&models.QueueMessage{}).
				Where("id = ? AND (invisible_until IS NULL OR invisible_until <= ?)", msg.ID, now).
				Updates(map[string]any{
					"receive_count":   gorm.Expr("receive_count + 1"),
					"invisible_until": &until,
					"claim_token":     claimToken,
				})
			if result.Error != nil {
				return fmt.Errorf("failed to claim message: %w", result.Error)
			}
			if result.RowsAffected == 0 {
				continue
			}

			msg.ReceiveCount++
			msg.InvisibleUntil = &until
			msg.ClaimToken = &claimToken
			res.Claimed = append(res.Claimed, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// AckMessage permanently removes a claimed message. An expired claim does
// not acknowledge; the message has already returned to visibility.
func (d *Database) AckMessage(ctx context.Context, id int64, claimToken string) (bool, error) {
	result := d.db.WithContext(ctx).
		Where("id = ? AND claim_token = ?", id, claimToken).
		Delete(&models.QueueMessage{})
	if result.Error != nil {
		return false, fmt.Errorf("failed to ack message: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ReleaseMessage returns a failed message to visibility after the backoff
// delay, recording the attempt's error on both the message's failure
// history and the job row, which sits in failed_retryable for the backoff
// window until redelivery marks it in_flight again. If the receive budget
// is already exhausted the message is dead-lettered instead; the caller
// learns this from the returned entry.
func (d *Database) ReleaseMessage(ctx context.Context, id int64, claimToken string, delay time.Duration, attemptErr string, maxReceive int) (*models.DeadLetterEntry, error) {
	var entry *models.DeadLetterEntry

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg models.QueueMessage
		err := tx.Where("id = ? AND claim_token = ?", id, claimToken).First(&msg).Error
		if err == gorm.ErrRecordNotFound {
			// Claim expired; the message is visible again and another
			// consumer owns the retry.
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load message: %w", err)
		}

		msg.FailureHistory = appendFailure(msg.FailureHistory, msg.ReceiveCount, attemptErr)

		if msg.ReceiveCount >= maxReceive {
			entry, err = moveToDeadLetter(tx, &msg, attemptErr)
			return err
		}

		until := time.Now().UTC().Add(delay)
		result := tx.Model(&models.QueueMessage{}).
			Where("id = ?", msg.ID).
			Updates(map[string]any{
				"invisible_until": &until,
				"claim_token":     nil,
				"failure_history": msg.FailureHistory,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to release message: %w", result.Error)
		}

		jobResult := tx.Model(&models.Job{}).
			Where("id = ? AND status NOT IN ?", msg.JobID,
				[]string{models.JobStatusSucceeded, models.JobStatusFailedTerminal}).
			Updates(map[string]any{
				"status":     models.JobStatusFailedRetryable,
				"last_error": attemptErr,
			})
		if jobResult.Error != nil {
			return fmt.Errorf("failed to mark job retryable: %w", jobResult.Error)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// CountMessages returns how many messages are on a tier (visible or not)
func (d *Database) CountMessages(ctx context.Context, tier string) (int, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&models.QueueMessage{}).
		Where("tier = ?", tier).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return int(count), nil
}

// moveToDeadLetter converts a message to a dead-letter entry, removes it
// from its source queue, and marks the job failed_terminal, all inside the
// caller's transaction.
func moveToDeadLetter(tx *gorm.DB, msg *models.QueueMessage, cause string) (*models.DeadLetterEntry, error) {
	entry := &models.DeadLetterEntry{
		Tier:           msg.Tier,
		JobID:          msg.JobID,
		BatchID:        msg.BatchID,
		DocumentRef:    msg.DocumentRef,
		Payload:        msg.Payload,
		ReceiveCount:   msg.ReceiveCount,
		FailureHistory: appendFailure(msg.FailureHistory, msg.ReceiveCount, cause),
		DeadLetteredAt: time.Now().UTC(),
	}

	if err := tx.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to create dead letter: %w", err)
	}
	if err := tx.Where("id = ?", msg.ID).Delete(&models.QueueMessage{}).Error; err != nil {
		return nil, fmt.Errorf("failed to remove dead-lettered message: %w", err)
	}

	result := tx.Model(&models.Job{}).
		Where("id = ? AND status NOT IN ?", msg.JobID,
			[]string{models.JobStatusSucceeded, models.JobStatusFailedTerminal}).
		Updates(map[string]any{
			"status":     models.JobStatusFailedTerminal,
			"last_error": cause,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to mark job dead-lettered: %w", result.Error)
	}

	return entry, nil
}

// failureRecord is one element of a message's JSON failure history
type failureRecord struct {
	Attempt int       `json:"attempt"`
	Error   string    `json:"error"`
	At      time.Time `json:"at"`
}

func appendFailure(history string, attempt int, errMsg string) string {
	var records []failureRecord
	if history != "" {
		// A malformed history is replaced rather than propagated
		_ = json.Unmarshal([]byte(history), &records)
	}
	records = append(records, failureRecord{
		Attempt: attempt,
		Error:   errMsg,
		At:      time.Now().UTC(),
	})
	out, err := json.Marshal(records)
	if err != nil {
		return history
	}
	return string(out)
}
