package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"offlinesync/internal/domain"
	"offlinesync/internal/events"
	"offlinesync/internal/metrics"
	"offlinesync/internal/models"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// Operation is one attempt of retried work.
type Operation func(ctx context.Context) error

// Predicate decides whether a failed attempt may be retried.
type Predicate func(err error, attempt int) bool

// Retryable retries only errors whose kind allows it.
func Retryable(err error, _ int) bool {
	return domain.IsRetryable(err)
}

// Executor runs operations under a RetryPolicy and reports every failed attempt.
type Executor struct {
	policy   RetryPolicy
	failures *events.Emitter[models.Failure]
	logger   *zerolog.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	recent []models.Failure
}

// NewExecutor builds an executor publishing to failures. A nil emitter gets a private one.
func NewExecutor(policy RetryPolicy, failures *events.Emitter[models.Failure], logger *zerolog.Logger) *Executor {
	if failures == nil {
		failures = events.NewEmitter[models.Failure]()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Executor{
		policy:   policy.withDefaults(),
		failures: failures,
		logger:   logger,
		sleep:    sleepContext,
	}
}

func (e *Executor) Policy() RetryPolicy {
	return e.policy
}

// OnError registers a failure listener and returns its unsubscribe function.
func (e *Executor) OnError(handler func(models.Failure)) func() {
	return e.failures.Subscribe(handler)
}

// Execute retries every failure until MaxAttempts is reached.
func (e *Executor) Execute(ctx context.Context, label string, op Operation) error {
	return e.ExecuteWithPredicate(ctx, label, op, nil)
}

// ExecuteWithPredicate stops at the first failure shouldRetry rejects.
// The last error is returned unchanged unless ctx ends during a wait; then a
// Final failure wrapping both errors is published and returned.
func (e *Executor) ExecuteWithPredicate(ctx context.Context, label string, op Operation, shouldRetry Predicate) error {
	schedule := e.policy.backOff()
	var elapsed time.Duration

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				e.logger.Debug().Str("label", label).Int("attempt", attempt).Msg("Operation succeeded after retry")
			}
			return nil
		}

		retry := attempt < e.policy.MaxAttempts && (shouldRetry == nil || shouldRetry(err, attempt))
		var delay time.Duration
		if retry {
			delay = schedule.NextBackOff()
			retry = delay != backoff.Stop
		}

		metrics.IncRetryAttempt(domain.KindOf(err).String())
		e.record(models.Failure{
			Err: err,
			Context: models.RetryContext{
				Label:        label,
				Attempt:      attempt,
				MaxAttempts:  e.policy.MaxAttempts,
				Err:          err,
				ElapsedDelay: elapsed,
				Final:        !retry,
			},
		}, delay)

		if !retry {
			return err
		}

		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			interrupted := fmt.Errorf("%s: interrupted after attempt %d: %w", label, attempt, errors.Join(err, sleepErr))
			// Listeners still get the closing failure of the loop.
			e.record(models.Failure{
				Err: interrupted,
				Context: models.RetryContext{
					Label:        label,
					Attempt:      attempt,
					MaxAttempts:  e.policy.MaxAttempts,
					Err:          interrupted,
					ElapsedDelay: elapsed,
					Final:        true,
				},
			}, 0)
			return interrupted
		}
		elapsed += delay
	}
}

// RecentFailures returns the latest failures, oldest first.
func (e *Executor) RecentFailures() []models.Failure {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Failure(nil), e.recent...)
}

func (e *Executor) record(f models.Failure, delay time.Duration) {
	e.mu.Lock()
	e.recent = append(e.recent, f)
	if len(e.recent) > models.RecentFailuresLimit {
		e.recent = e.recent[len(e.recent)-models.RecentFailuresLimit:]
	}
	e.mu.Unlock()

	kind := domain.KindOf(f.Err)

	event := e.logger.Warn()
	if f.Context.Final {
		event = e.logger.Error()
	} else {
		event = event.Dur("next_delay", delay)
	}
	event.Err(f.Err).
		Str("label", f.Context.Label).
		Str("kind", kind.String()).
		Int("attempt", f.Context.Attempt).
		Int("max_attempts", f.Context.MaxAttempts).
		Bool("final", f.Context.Final).
		Msg("Attempt failed")

	e.failures.Publish(f)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
