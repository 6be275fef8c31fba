// Package models provides domain types and constants for the document
// batch analyzer.
//
// This file consolidates all status and priority constants used throughout
// the application. Import these constants instead of defining local ones.
package models

// Priority tier constants for job scheduling.
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// ValidPriorities returns all valid priority values.
func ValidPriorities() []string {
	return []string{PriorityHigh, PriorityNormal, PriorityLow}
}

// IsValidPriority checks if a priority value is valid.
func IsValidPriority(priority string) bool {
	for _, p := range ValidPriorities() {
		if p == priority {
			return true
		}
	}
	return false
}

// Batch status constants for the batch lifecycle.
const (
	BatchStatusPending         = "pending"
	BatchStatusPreparing       = "preparing"
	BatchStatusRunning         = "running"
	BatchStatusAggregating     = "aggregating"
	BatchStatusSucceeded       = "succeeded"
	BatchStatusPartiallyFailed = "partially_failed"
	BatchStatusFailed          = "failed"
	BatchStatusTimedOut        = "timed_out"
)

// IsTerminalBatchStatus returns true if no further transition occurs for
// a batch in this status.
func IsTerminalBatchStatus(status string) bool {
	switch status {
	case BatchStatusSucceeded, BatchStatusPartiallyFailed, BatchStatusFailed, BatchStatusTimedOut:
		return true
	default:
		return false
	}
}

// Job status constants for per-document job tracking.
const (
	JobStatusQueued          = "queued"
	JobStatusInFlight        = "in_flight"
	JobStatusSucceeded       = "succeeded"
	JobStatusFailedRetryable = "failed_retryable"
	JobStatusFailedTerminal  = "failed_terminal"
)

// IsTerminalJobStatus returns true if a job in this status will not be
// attempted again.
func IsTerminalJobStatus(status string) bool {
	return status == JobStatusSucceeded || status == JobStatusFailedTerminal
}

// FailureCauseCancelled marks a batch failed by an explicit cancel request.
const FailureCauseCancelled = "cancelled"

// FailureCauseTimeout marks jobs forced terminal by the batch deadline.
const FailureCauseTimeout = "timeout"
