package models

import "time"

// RetryContext describes one failed attempt of a retried operation.
type RetryContext struct {
	Label        string
	Attempt      int
	MaxAttempts  int
	Err          error
	ElapsedDelay time.Duration
	// Final is set on the attempt after which no more retries happen.
	Final bool
}

// Failure is what error listeners receive.
type Failure struct {
	Err     error
	Context RetryContext
}
