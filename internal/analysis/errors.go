package analysis

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an analysis failure for retry purposes
type ErrorKind string

const (
	// KindTimeout is a capability invocation that overran its deadline;
	// retryable.
	KindTimeout ErrorKind = "timeout"
	// KindRejected is an explicit rejection (malformed document, policy
	// refusal); terminal, never retried.
	KindRejected ErrorKind = "rejected"
	// KindTransient is an infrastructure fault on the capability side;
	// retryable.
	KindTransient ErrorKind = "transient"
)

// CapabilityError is the classified error contract of the analysis
// capability boundary
type CapabilityError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *CapabilityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analysis %s error: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("analysis %s error: %s", e.Kind, e.Message)
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

// NewTimeoutError builds a retryable timeout classification
func NewTimeoutError(message string, err error) *CapabilityError {
	return &CapabilityError{Kind: KindTimeout, Message: message, Err: err}
}

// NewRejectedError builds a terminal rejection classification
func NewRejectedError(message string, err error) *CapabilityError {
	return &CapabilityError{Kind: KindRejected, Message: message, Err: err}
}

// NewTransientError builds a retryable infrastructure classification
func NewTransientError(message string, err error) *CapabilityError {
	return &CapabilityError{Kind: KindTransient, Message: message, Err: err}
}

// IsRetryable reports whether a job failing with this error should be
// redelivered. Unclassified errors are treated as transient so an
// unexpected fault never permanently discards a document.
func IsRetryable(err error) bool {
	var capErr *CapabilityError
	if errors.As(err, &capErr) {
		return capErr.Kind != KindRejected
	}
	return true
}

// IsTerminal reports whether a job failing with this error must not be
// retried
func IsTerminal(err error) bool {
	return !IsRetryable(err)
}
