package queue

import "time"

// Retry backoff bounds for released messages
const (
	initialBackoff  = 5 * time.Second
	maxBackoff      = 5 * time.Minute
	backoffMultiple = 2
)

// RetryBackoff returns the redelivery delay for a message that has been
// delivered receiveCount times: exponential, capped.
func RetryBackoff(receiveCount int) time.Duration {
	if receiveCount < 1 {
		receiveCount = 1
	}
	backoff := initialBackoff
	for i := 1; i < receiveCount; i++ {
		backoff *= backoffMultiple
		if backoff >= maxBackoff {
			return maxBackoff
		}
	}
	return backoff
}
