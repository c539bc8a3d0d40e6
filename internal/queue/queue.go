package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"offlinesync/internal/domain"
	"offlinesync/internal/events"
	"offlinesync/internal/metrics"
	"offlinesync/internal/models"
	"offlinesync/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ProcessFunc delivers one action to the remote.
type ProcessFunc func(ctx context.Context, action models.PendingAction) error

// DrainResult summarizes one Drain call.
type DrainResult struct {
	Skipped   bool   `json:"skipped"`
	Reason    string `json:"reason,omitempty"`
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	Requeued  int    `json:"requeued"`
	Dropped   int    `json:"dropped"`
}

const (
	reasonBusy    = "drain in progress"
	reasonOffline = "offline"
	reasonEmpty   = "empty"
)

type Option func(*Queue)

func WithStorageKey(key string) Option {
	return func(q *Queue) { q.storageKey = key }
}

// WithMaxAttempts sets how many failed drains an action survives.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) { q.maxAttempts = n }
}

func WithReachability(r domain.Reachability) Option {
	return func(q *Queue) { q.reach = r }
}

func WithExecutor(e *worker.Executor) Option {
	return func(q *Queue) { q.executor = e }
}

func WithDeadLetters(sink domain.DeadLetterSink) Option {
	return func(q *Queue) { q.deadLetters = sink }
}

// WithFailures routes storage failures found while draining to the given emitter.
func WithFailures(e *events.Emitter[models.Failure]) Option {
	return func(q *Queue) { q.failures = e }
}

func WithLogger(logger *zerolog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

type alwaysOnline struct{}

func (alwaysOnline) Status() bool { return true }

// Queue is a durable FIFO of pending actions.
// Every mutation is written through to the store before it returns.
type Queue struct {
	store       domain.PersistentStore
	process     ProcessFunc
	reach       domain.Reachability
	executor    *worker.Executor
	deadLetters domain.DeadLetterSink
	failures    *events.Emitter[models.Failure]
	logger      *zerolog.Logger
	storageKey  string
	maxAttempts int

	mu sync.Mutex
	// live receives new actions. While a drain runs, inflight holds the
	// unresolved part of its snapshot and retained the actions that failed.
	live       *actionList
	inflight   []models.PendingAction
	retained   []models.PendingAction
	generation uint64

	draining atomic.Bool
}

func New(store domain.PersistentStore, process ProcessFunc, opts ...Option) *Queue {
	q := &Queue{
		store:       store,
		process:     process,
		reach:       alwaysOnline{},
		storageKey:  models.DefaultQueueStorageKey,
		maxAttempts: models.DefaultMaxAttempts,
		live:        newActionList(),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		nop := zerolog.Nop()
		q.logger = &nop
	}
	if q.failures == nil {
		q.failures = events.NewEmitter[models.Failure]()
	}
	if q.executor == nil {
		q.executor = worker.NewExecutor(worker.DefaultRetryPolicy(), q.failures, q.logger)
	}
	if q.maxAttempts < 1 {
		q.maxAttempts = 1
	}
	return q
}

// Open builds a queue and restores it from the store.
func Open(ctx context.Context, store domain.PersistentStore, process ProcessFunc, opts ...Option) (*Queue, error) {
	q := New(store, process, opts...)
	if err := q.Load(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

// Load replaces the in-memory list with the persisted one. A missing key is an empty queue.
func (q *Queue) Load(ctx context.Context) error {
	var actions []models.PendingAction
	if _, err := domain.GetJSON(ctx, q.store, q.storageKey, &actions); err != nil {
		return fmt.Errorf("failed to load pending actions: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.live = newActionList()
	for _, a := range actions {
		if !q.live.PushBack(a) {
			q.logger.Warn().Str("action_id", a.ID).Msg("Skipping duplicate persisted action")
		}
	}
	metrics.SetQueueDepth(q.lenLocked())
	q.logger.Info().Int("count", q.live.Len()).Str("key", q.storageKey).Msg("Pending actions loaded")
	return nil
}

// Enqueue appends action and persists the queue. On a storage error the
// append is undone and the error returned.
func (q *Queue) Enqueue(ctx context.Context, action models.PendingAction) (models.PendingAction, error) {
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.Type == "" {
		action.Type = models.ActionUpdate
	}
	if action.Timestamp == 0 {
		action.Timestamp = time.Now().UnixMilli()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.containsLocked(action.ID) {
		return action, fmt.Errorf("enqueue %s: %w", action.ID, domain.ErrDuplicateAction)
	}

	q.live.PushBack(action)
	if err := q.persistLocked(ctx); err != nil {
		q.live.Remove(action.ID)
		return action, fmt.Errorf("failed to enqueue action: %w", err)
	}

	metrics.IncEnqueued()
	metrics.SetQueueDepth(q.lenLocked())
	q.logger.Debug().Str("action_id", action.ID).Str("key", action.Key).Str("type", action.Type).Msg("Action enqueued")
	return action, nil
}

// Drain replays queued actions in order. A call made while another drain
// runs, while offline, or on an empty queue returns at once with Skipped set.
func (q *Queue) Drain(ctx context.Context) (DrainResult, error) {
	if !q.draining.CompareAndSwap(false, true) {
		return DrainResult{Skipped: true, Reason: reasonBusy}, nil
	}
	defer q.draining.Store(false)

	if !q.reach.Status() {
		return DrainResult{Skipped: true, Reason: reasonOffline}, nil
	}

	q.mu.Lock()
	if q.live.Len() == 0 {
		q.mu.Unlock()
		return DrainResult{Skipped: true, Reason: reasonEmpty}, nil
	}
	q.inflight = q.live.Slice()
	q.live = newActionList()
	generation := q.generation
	count := len(q.inflight)
	q.mu.Unlock()

	q.logger.Info().Int("count", count).Msg("Draining pending actions")

	var result DrainResult
	for {
		action, ok := q.next(generation)
		if !ok {
			break
		}

		// Lost connectivity or shutdown: keep the rest without charging an attempt.
		if ctx.Err() != nil || !q.reach.Status() {
			q.holdRemaining(generation)
			break
		}

		q.logger.Debug().
			Str("action_id", action.ID).
			Str("state", string(models.ActionProcessing)).
			Int("attempts", action.Attempts).
			Msg("Processing action")

		err := q.executor.ExecuteWithPredicate(ctx, "drain:"+action.Key, func(ctx context.Context) error {
			return q.process(ctx, action)
		}, worker.Retryable)
		result.Processed++

		action, state, reason := q.resolve(generation, action, err, ctx.Err() != nil)
		switch state {
		case models.ActionSucceeded:
			result.Succeeded++
			metrics.IncProcessed("succeeded")
		case models.ActionDropped:
			result.Dropped++
			q.drop(ctx, action, reason)
		default:
			result.Requeued++
			metrics.IncProcessed("requeued")
		}
		q.logger.Debug().
			Str("action_id", action.ID).
			Str("state", string(state)).
			Msg("Action resolved")
	}

	if err := q.finish(ctx, generation); err != nil {
		q.failures.Publish(models.Failure{
			Err: err,
			Context: models.RetryContext{
				Label:       "queue:persist",
				Attempt:     1,
				MaxAttempts: 1,
				Err:         err,
				Final:       true,
			},
		})
		return result, err
	}

	q.logger.Info().
		Int("processed", result.Processed).
		Int("succeeded", result.Succeeded).
		Int("requeued", result.Requeued).
		Int("dropped", result.Dropped).
		Msg("Drain finished")
	return result, nil
}

// Clear empties the queue in memory and on disk. A running drain stops after its current action.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.live = newActionList()
	q.inflight = nil
	q.retained = nil
	q.generation++
	metrics.SetQueueDepth(0)

	if err := q.store.Remove(ctx, q.storageKey); err != nil {
		return fmt.Errorf("failed to clear pending actions: %w", err)
	}
	q.logger.Info().Msg("Pending actions cleared")
	return nil
}

// Len counts every action not yet delivered or dropped.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// Snapshot returns the queue in delivery order, as it is persisted.
func (q *Queue) Snapshot() []models.PendingAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.viewLocked()
}

// Draining reports whether a drain is running.
func (q *Queue) Draining() bool {
	return q.draining.Load()
}

func (q *Queue) next(generation uint64) (models.PendingAction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.generation != generation || len(q.inflight) == 0 {
		return models.PendingAction{}, false
	}
	return q.inflight[0], true
}

func (q *Queue) holdRemaining(generation uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.generation != generation {
		return
	}
	q.retained = append(q.retained, q.inflight...)
	q.inflight = nil
}

// resolve pops action from inflight and decides its fate. Every failure,
// retryable or not, costs one attempt; the action is dropped once its
// attempts reach the ceiling. A Clear during the drain discards the result.
func (q *Queue) resolve(generation uint64, action models.PendingAction, err error, interrupted bool) (models.PendingAction, models.ActionState, string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err == nil {
		if q.generation == generation {
			q.inflight = q.inflight[1:]
		}
		return action, models.ActionSucceeded, ""
	}
	if q.generation != generation {
		return action, models.ActionQueued, ""
	}
	q.inflight = q.inflight[1:]

	if interrupted {
		q.retained = append(q.retained, action)
		return action, models.ActionQueued, ""
	}

	action.Attempts++
	if action.Attempts >= q.maxAttempts {
		return action, models.ActionDropped, fmt.Sprintf("attempts exhausted (%d), last error %s: %v",
			action.Attempts, domain.KindOf(err), err)
	}
	q.retained = append(q.retained, action)
	return action, models.ActionQueued, ""
}

// finish puts failed actions ahead of those enqueued during the drain and persists once.
func (q *Queue) finish(ctx context.Context, generation uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.generation != generation {
		return nil
	}

	q.live.PushFrontAll(q.retained)
	q.retained = nil
	q.inflight = nil
	metrics.SetQueueDepth(q.live.Len())

	if err := q.persistLocked(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to persist queue after drain: %w", err)
	}
	return nil
}

func (q *Queue) drop(ctx context.Context, action models.PendingAction, reason string) {
	metrics.IncProcessed("dropped")
	q.logger.Error().
		Str("action_id", action.ID).
		Str("state", string(models.ActionDropped)).
		Str("key", action.Key).
		Str("type", action.Type).
		Int("attempts", action.Attempts).
		Str("reason", reason).
		Msg("Dropping pending action")

	if q.deadLetters == nil {
		return
	}
	if err := q.deadLetters.RecordDeadLetter(context.WithoutCancel(ctx), action, reason); err != nil {
		q.logger.Error().Err(err).Str("action_id", action.ID).Msg("Failed to record dead letter")
	}
}

func (q *Queue) persistLocked(ctx context.Context) error {
	return domain.SetJSON(ctx, q.store, q.storageKey, q.viewLocked())
}

func (q *Queue) viewLocked() []models.PendingAction {
	out := make([]models.PendingAction, 0, q.lenLocked())
	out = append(out, q.retained...)
	out = append(out, q.inflight...)
	return append(out, q.live.Slice()...)
}

func (q *Queue) lenLocked() int {
	return len(q.retained) + len(q.inflight) + q.live.Len()
}

func (q *Queue) containsLocked(id string) bool {
	if q.live.Contains(id) {
		return true
	}
	for _, a := range q.inflight {
		if a.ID == id {
			return true
		}
	}
	for _, a := range q.retained {
		if a.ID == id {
			return true
		}
	}
	return false
}
