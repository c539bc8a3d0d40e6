package worker

import (
	"math"
	"time"

	"offlinesync/internal/models"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy configures how many times an operation runs and how long to wait in between.
// The schedule is linear unless BackoffFactor is above 1.
type RetryPolicy struct {
	MaxAttempts   int
	RetryDelay    time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Jitter randomizes exponential delays by +/- this fraction.
	Jitter float64
}

// DefaultRetryPolicy is three attempts, one second apart, growing linearly.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: models.DefaultMaxAttempts,
		RetryDelay:  models.DefaultRetryDelayMs * time.Millisecond,
	}
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = models.DefaultMaxAttempts
	}
	if r.RetryDelay < 0 {
		r.RetryDelay = 0
	}
	return r
}

// NextDelay returns the wait before the given 1-based attempt.
// Linear: RetryDelay * (attempt-1). Exponential: RetryDelay * factor^(attempt-2).
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	var d time.Duration
	if r.BackoffFactor > 1 {
		d = time.Duration(float64(r.RetryDelay) * math.Pow(r.BackoffFactor, float64(attempt-2)))
	} else {
		d = r.RetryDelay * time.Duration(attempt-1)
	}
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d < 0 {
		d = 0
	}
	return d
}

// backOff returns a fresh schedule for one Execute call.
func (r RetryPolicy) backOff() backoff.BackOff {
	if r.BackoffFactor > 1 {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = r.RetryDelay
		b.Multiplier = r.BackoffFactor
		b.RandomizationFactor = r.Jitter
		b.MaxInterval = r.MaxDelay
		if b.MaxInterval <= 0 {
			b.MaxInterval = time.Duration(math.MaxInt64)
		}
		b.Reset()
		return b
	}
	return &linearBackOff{policy: r}
}

type linearBackOff struct {
	policy  RetryPolicy
	retries int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.retries++
	return l.policy.NextDelay(l.retries + 1)
}

func (l *linearBackOff) Reset() {
	l.retries = 0
}
