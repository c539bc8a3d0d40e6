package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"offlinesync/internal/domain"
	"offlinesync/internal/events"
	"offlinesync/internal/models"
	"offlinesync/internal/queue"
	"offlinesync/internal/worker"

	"github.com/rs/zerolog"
)

// Options tune a SyncCoordinator. A zero Retry means worker.DefaultRetryPolicy;
// a zero MaxActionAttempts follows Retry.MaxAttempts.
type Options struct {
	Retry             worker.RetryPolicy
	QueueKey          string
	MaxActionAttempts int
	DrainInterval     time.Duration
	DeadLetters       domain.DeadLetterSink
}

// SyncResult reports how far one SyncData call got.
type SyncResult struct {
	Persisted bool `json:"persisted"`
	Synced    bool `json:"synced"`
	Queued    bool `json:"queued"`
}

// SyncCoordinator is the entry point for local changes: it persists them,
// writes them to the remote when online and queues them otherwise.
type SyncCoordinator struct {
	store    domain.PersistentStore
	monitor  domain.NetworkMonitor
	remote   domain.RemoteSyncer
	executor *worker.Executor
	failures *events.Emitter[models.Failure]
	queue    *queue.Queue
	interval time.Duration
	logger   *zerolog.Logger

	unsubscribe func()
	wg          sync.WaitGroup
	mu          sync.Mutex
	closed      bool
	stop        chan struct{}
}

func NewSyncCoordinator(
	ctx context.Context,
	store domain.PersistentStore,
	monitor domain.NetworkMonitor,
	remote domain.RemoteSyncer,
	opts Options,
	logger *zerolog.Logger,
) (*SyncCoordinator, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if opts.Retry == (worker.RetryPolicy{}) {
		opts.Retry = worker.DefaultRetryPolicy()
	}
	failures := events.NewEmitter[models.Failure]()
	executor := worker.NewExecutor(opts.Retry, failures, logger)

	s := &SyncCoordinator{
		store:    store,
		monitor:  monitor,
		remote:   remote,
		executor: executor,
		failures: failures,
		interval: opts.DrainInterval,
		logger:   logger,
		stop:     make(chan struct{}),
	}

	queueOpts := []queue.Option{
		queue.WithReachability(monitor),
		queue.WithExecutor(executor),
		queue.WithFailures(failures),
		queue.WithLogger(logger),
	}
	if opts.QueueKey != "" {
		queueOpts = append(queueOpts, queue.WithStorageKey(opts.QueueKey))
	}
	if opts.MaxActionAttempts > 0 {
		queueOpts = append(queueOpts, queue.WithMaxAttempts(opts.MaxActionAttempts))
	} else {
		queueOpts = append(queueOpts, queue.WithMaxAttempts(executor.Policy().MaxAttempts))
	}
	if opts.DeadLetters != nil {
		queueOpts = append(queueOpts, queue.WithDeadLetters(opts.DeadLetters))
	}

	q, err := queue.Open(ctx, store, remote.Sync, queueOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open pending action queue: %w", err)
	}
	s.queue = q

	s.unsubscribe = monitor.Subscribe(domain.NetworkObserverFunc(s.onNetworkChange))
	return s, nil
}

// SyncData stores data under key and propagates it to the remote.
// An online remote failure is reported to error listeners only; the change
// stays local and is not queued.
func (s *SyncCoordinator) SyncData(ctx context.Context, key string, data any, actionType string) (SyncResult, error) {
	var result SyncResult
	if key == "" {
		return result, domain.NewError(domain.KindValidation, "sync data", fmt.Errorf("empty key"))
	}
	if actionType == "" {
		actionType = models.ActionUpdate
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return result, domain.NewError(domain.KindValidation, "encode "+key, err)
	}

	if err := s.persist(ctx, key, payload, actionType); err != nil {
		s.reportStorage("persist:"+key, err)
		return result, err
	}
	result.Persisted = true

	action := models.NewPendingAction(actionType, key, payload)

	if !s.monitor.Status() {
		if _, err := s.queue.Enqueue(ctx, action); err != nil {
			s.reportStorage("enqueue:"+key, err)
			return result, err
		}
		result.Queued = true
		s.logger.Info().Str("key", key).Str("type", actionType).Msg("Offline, change queued")
		return result, nil
	}

	err = s.executor.ExecuteWithPredicate(ctx, "sync:"+key, func(ctx context.Context) error {
		return s.remote.Sync(ctx, action)
	}, worker.Retryable)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Remote sync failed, change kept locally")
		return result, nil
	}

	result.Synced = true
	s.logger.Debug().Str("key", key).Str("type", actionType).Msg("Change synced")
	return result, nil
}

func (s *SyncCoordinator) persist(ctx context.Context, key string, payload json.RawMessage, actionType string) error {
	if actionType == models.ActionDelete {
		return s.store.Remove(ctx, key)
	}
	return s.store.Set(ctx, key, payload)
}

func (s *SyncCoordinator) reportStorage(label string, err error) {
	if domain.KindOf(err) != domain.KindStorage {
		err = domain.NewError(domain.KindStorage, label, err)
	}
	s.failures.Publish(models.Failure{
		Err: err,
		Context: models.RetryContext{
			Label:       label,
			Attempt:     1,
			MaxAttempts: 1,
			Err:         err,
			Final:       true,
		},
	})
}

func (s *SyncCoordinator) onNetworkChange(online bool) {
	if !online {
		return
	}
	s.logger.Info().Msg("Back online, draining pending actions")
	s.drainAsync("reconnect")
}

func (s *SyncCoordinator) drainAsync(trigger string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		res, err := s.queue.Drain(context.Background())
		if err != nil {
			s.logger.Error().Err(err).Str("trigger", trigger).Msg("Drain failed")
			return
		}
		if res.Skipped {
			s.logger.Debug().Str("trigger", trigger).Str("reason", res.Reason).Msg("Drain skipped")
		}
	}()
}

// Drain replays the queue synchronously.
func (s *SyncCoordinator) Drain(ctx context.Context) (queue.DrainResult, error) {
	return s.queue.Drain(ctx)
}

// Clear discards every pending action, e.g. on user logout.
func (s *SyncCoordinator) Clear(ctx context.Context) error {
	return s.queue.Clear(ctx)
}

// OnError registers a failure listener and returns its unsubscribe function.
func (s *SyncCoordinator) OnError(handler func(models.Failure)) func() {
	return s.failures.Subscribe(handler)
}

func (s *SyncCoordinator) Queue() *queue.Queue {
	return s.queue
}

// RecentFailures exposes the executor's failure history.
func (s *SyncCoordinator) RecentFailures() []models.Failure {
	return s.executor.RecentFailures()
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	Online         bool   `json:"online"`
	Pending        int    `json:"pending"`
	Draining       bool   `json:"draining"`
	RecentFailures int    `json:"recent_failures"`
	LastFailure    string `json:"last_failure,omitempty"`
}

func (s *SyncCoordinator) Status() Status {
	st := Status{
		Online:   s.monitor.Status(),
		Pending:  s.queue.Len(),
		Draining: s.queue.Draining(),
	}
	recent := s.executor.RecentFailures()
	st.RecentFailures = len(recent)
	if n := len(recent); n > 0 {
		st.LastFailure = recent[n-1].Err.Error()
	}
	return st
}

// Start drains whatever survived the last run, then drains every
// DrainInterval until ctx ends or Close is called.
func (s *SyncCoordinator) Start(ctx context.Context) {
	s.drainAsync("startup")
	if s.interval <= 0 {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				if s.queue.Len() > 0 {
					s.drainAsync("interval")
				}
			}
		}
	}()
}

// Close stops reacting to connectivity changes and waits for running drains.
func (s *SyncCoordinator) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.stop)
	s.mu.Unlock()

	s.unsubscribe()
	s.wg.Wait()
}
