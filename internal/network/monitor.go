package network

import (
	"context"
	"sync"
	"time"

	"offlinesync/internal/domain"
	"offlinesync/internal/events"
	"offlinesync/internal/metrics"
	"offlinesync/internal/models"

	"github.com/rs/zerolog"
)

// Source is a platform connectivity primitive. Both channels may be closed to end the feed.
type Source interface {
	Watch(ctx context.Context) (<-chan bool, <-chan error)
}

// Monitor caches reachability and notifies observers on transitions.
// Observers run on the goroutine that applied the transition and must not call Report.
type Monitor struct {
	mu    sync.RWMutex
	state models.NetworkState

	debounce     time.Duration
	pendingMu    sync.Mutex
	pending      bool
	pendingTimer *time.Timer

	notifyMu sync.Mutex
	emitter  *events.Emitter[bool]
	logger   *zerolog.Logger
}

// NewMonitor starts from initial; with debounce > 0 a signal takes effect only after
// the value has been stable for that long.
func NewMonitor(initial bool, debounce time.Duration, logger *zerolog.Logger) *Monitor {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	metrics.ObserveNetwork(initial)
	return &Monitor{
		state:    models.NetworkState{Online: initial},
		debounce: debounce,
		emitter:  events.NewEmitter[bool](),
		logger:   logger,
	}
}

// Status returns the cached reachability without blocking on I/O.
func (m *Monitor) Status() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Online
}

func (m *Monitor) State() models.NetworkState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Subscribe registers observer for transitions. The returned function is idempotent.
func (m *Monitor) Subscribe(observer domain.NetworkObserver) func() {
	return m.emitter.Subscribe(observer.OnNetworkChange)
}

// Report feeds a raw reachability signal.
func (m *Monitor) Report(online bool) {
	if m.debounce <= 0 {
		m.apply(online)
		return
	}

	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	if m.pendingTimer == nil {
		if online == m.Status() {
			return
		}
		m.pending = online
		m.pendingTimer = time.AfterFunc(m.debounce, m.flush)
		return
	}
	// Repeats of the pending value must not push the deadline out.
	if online == m.pending {
		return
	}
	m.pending = online
	m.pendingTimer.Reset(m.debounce)
}

// ReportError records a failure of the connectivity primitive. The last known state is kept.
func (m *Monitor) ReportError(err error) {
	if err == nil {
		return
	}
	m.logger.Warn().Err(err).Bool("online", m.Status()).Msg("Connectivity check failed, keeping last known state")
}

// Run consumes src until ctx ends or both channels close.
func (m *Monitor) Run(ctx context.Context, src Source) {
	updates, errs := src.Watch(ctx)
	for updates != nil || errs != nil {
		select {
		case <-ctx.Done():
			m.stopPending()
			return
		case online, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			m.Report(online)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			m.ReportError(err)
		}
	}
}

func (m *Monitor) flush() {
	m.pendingMu.Lock()
	online := m.pending
	m.pendingTimer = nil
	m.pendingMu.Unlock()

	m.apply(online)
}

func (m *Monitor) stopPending() {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	if m.pendingTimer != nil {
		m.pendingTimer.Stop()
		m.pendingTimer = nil
	}
}

func (m *Monitor) apply(online bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.state.Online == online {
		m.mu.Unlock()
		return
	}
	m.state.Online = online
	m.state.Transitions++
	transitions := m.state.Transitions
	m.mu.Unlock()

	metrics.ObserveNetwork(online)
	m.logger.Info().Bool("online", online).Uint64("transitions", transitions).Msg("Network state changed")
	m.emitter.Publish(online)
}
