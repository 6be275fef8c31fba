package models

import (
	"time"
)

// Batch represents a group of documents analyzed together
type Batch struct {
	ID               string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Owner            string     `json:"owner" gorm:"index"`
	Priority         string     `json:"priority"`
	Options          string     `json:"options,omitempty" gorm:"type:text"` // JSON-encoded analysis options
	Status           string     `json:"status" gorm:"index"`
	Version          int64      `json:"version"` // incremented on every status transition
	ExpectedJobCount int        `json:"expected_job_count"`
	FailureCause     *string    `json:"failure_cause,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// TableName specifies the table name for Batch
func (Batch) TableName() string { return "batches" }

// Job represents a single per-document unit of work within a batch
type Job struct {
	ID            string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	BatchID       string     `json:"batch_id" gorm:"index"`
	DocumentRef   string     `json:"document_ref"`
	Priority      string     `json:"priority"`
	Attempts      int        `json:"attempts"`
	Status        string     `json:"status" gorm:"index"`
	LastError     *string    `json:"last_error,omitempty" gorm:"type:text"`
	EnqueuedAt    time.Time  `json:"enqueued_at"`
	LastDequeueAt *time.Time `json:"last_dequeue_at,omitempty"`
}

// TableName specifies the table name for Job
func (Job) TableName() string { return "jobs" }

// QueueMessage is the wire representation of a Job held on a tier queue.
// A message stays invisible for the tier's visibility window after being
// dequeued and returns to visibility if not acknowledged in time.
type QueueMessage struct {
	ID             int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	Tier           string     `json:"tier" gorm:"index:idx_tier_visible"`
	JobID          string     `json:"job_id" gorm:"index"`
	BatchID        string     `json:"batch_id"`
	DocumentRef    string     `json:"document_ref"`
	Payload        string     `json:"payload,omitempty" gorm:"type:text"`
	ReceiveCount   int        `json:"receive_count"`
	InvisibleUntil *time.Time `json:"invisible_until,omitempty" gorm:"index:idx_tier_visible"`
	ClaimToken     *string    `json:"claim_token,omitempty"`
	FailureHistory string     `json:"failure_history,omitempty" gorm:"type:text"` // JSON array of per-attempt errors
	EnqueuedAt     time.Time  `json:"enqueued_at"`
}

// TableName specifies the table name for QueueMessage
func (QueueMessage) TableName() string { return "queue_messages" }

// DeadLetterEntry holds a job that exhausted its retry budget. Read-only
// once created; kept for diagnostics and manual replay.
type DeadLetterEntry struct {
	ID             int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Tier           string    `json:"tier" gorm:"index"`
	JobID          string    `json:"job_id" gorm:"index"`
	BatchID        string    `json:"batch_id" gorm:"index"`
	DocumentRef    string    `json:"document_ref"`
	Payload        string    `json:"payload,omitempty" gorm:"type:text"`
	ReceiveCount   int       `json:"receive_count"`
	FailureHistory string    `json:"failure_history,omitempty" gorm:"type:text"` // JSON array of per-attempt errors
	DeadLetteredAt time.Time `json:"dead_lettered_at"`
}

// TableName specifies the table name for DeadLetterEntry
func (DeadLetterEntry) TableName() string { return "dead_letter_entries" }

// DocumentOutcome records the terminal result of one job for the aggregate
type DocumentOutcome struct {
	ID              int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	BatchID         string    `json:"batch_id" gorm:"index:idx_outcome_batch_job,unique"`
	JobID           string    `json:"job_id" gorm:"index:idx_outcome_batch_job,unique"`
	DocumentRef     string    `json:"document_ref"`
	Succeeded       bool      `json:"succeeded"`
	Verdict         *string   `json:"verdict,omitempty"`
	ConfidenceScore *float64  `json:"confidence_score,omitempty"`
	Error           *string   `json:"error,omitempty" gorm:"type:text"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// TableName specifies the table name for DocumentOutcome
func (DocumentOutcome) TableName() string { return "document_outcomes" }

// AggregateResult is the batch-level summary built incrementally from job
// outcomes and finalized when the batch reaches a terminal state.
type AggregateResult struct {
	BatchID   string             `json:"batch_id"`
	Status    string             `json:"status"`
	Total     int                `json:"total"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Outcomes  []*DocumentOutcome `json:"outcomes,omitempty"`
}

// JobOutcome is the event a worker emits after each terminal job attempt
type JobOutcome struct {
	BatchID         string
	JobID           string
	DocumentRef     string
	Succeeded       bool
	Verdict         *string
	ConfidenceScore *float64
	Error           *string
}
