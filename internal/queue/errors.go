package queue

import (
	"errors"
	"fmt"
)

// TransientQueueError signals a retriable queue fault; the caller should
// retry the enqueue.
type TransientQueueError struct {
	Op  string
	Err error
}

func (e *TransientQueueError) Error() string {
	return fmt.Sprintf("transient queue error during %s: %v", e.Op, e.Err)
}

func (e *TransientQueueError) Unwrap() error {
	return e.Err
}

// PermanentQueueError signals a message that can never be accepted, such
// as one exceeding the size limit.
type PermanentQueueError struct {
	Op     string
	Reason string
}

func (e *PermanentQueueError) Error() string {
	return fmt.Sprintf("permanent queue error during %s: %s", e.Op, e.Reason)
}

// IsTransient reports whether an enqueue failure is worth retrying
func IsTransient(err error) bool {
	var transient *TransientQueueError
	return errors.As(err, &transient)
}
