package batch

import "fmt"

// ValidationError rejects a batch submission synchronously; the batch
// never starts
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid submission: %s %s", e.Field, e.Reason)
}

// IsValidationError reports whether an error is a submission validation
// failure
func IsValidationError(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}
