package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"offlinesync/internal/domain"

	"github.com/rs/zerolog"
)

const defaultRecheckInterval = time.Minute

// FailoverStore serves from primary until it fails, then from fallback.
// The primary is retried once per recheck interval. Writes that landed in the
// fallback are replayed into the primary before it serves again, so the
// fallback only ever holds data the primary has not seen yet.
type FailoverStore struct {
	primary   domain.PersistentStore
	fallback  domain.PersistentStore
	logger    *zerolog.Logger
	recheck   time.Duration
	isDown    atomic.Bool
	lastCheck atomic.Int64

	// mu guards the replay state below.
	mu sync.Mutex
	// dirty is set while the fallback may hold writes the primary lacks.
	// It starts set so leftovers from a previous run are replayed too.
	dirty   bool
	removed map[string]struct{}
	cleared bool
}

func NewFailoverStore(primary, fallback domain.PersistentStore, logger *zerolog.Logger) *FailoverStore {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		recheck:  defaultRecheckInterval,
		dirty:    true,
		removed:  make(map[string]struct{}),
	}
}

// Degraded reports whether requests currently go to the fallback.
func (s *FailoverStore) Degraded() bool {
	return s.isDown.Load()
}

func (s *FailoverStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var out json.RawMessage
	err := s.route(ctx, "get", func(store domain.PersistentStore) error {
		var err error
		out, err = store.Get(ctx, key)
		return err
	}, nil)
	return out, err
}

func (s *FailoverStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	return s.route(ctx, "set", func(store domain.PersistentStore) error {
		return store.Set(ctx, key, value)
	}, func() {})
}

func (s *FailoverStore) Remove(ctx context.Context, key string) error {
	return s.route(ctx, "remove", func(store domain.PersistentStore) error {
		return store.Remove(ctx, key)
	}, func() {
		s.removed[key] = struct{}{}
	})
}

// Clear resets both stores so stale fallback data cannot resurface later.
func (s *FailoverStore) Clear(ctx context.Context) error {
	primaryErr := s.route(ctx, "clear", func(store domain.PersistentStore) error {
		return store.Clear(ctx)
	}, func() {
		s.cleared = true
		s.removed = make(map[string]struct{})
	})
	if s.isDown.Load() {
		return primaryErr
	}
	if err := s.fallback.Clear(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to clear fallback store")
	}
	return primaryErr
}

func (s *FailoverStore) ListKeys(ctx context.Context) ([]string, error) {
	var out []string
	err := s.route(ctx, "list", func(store domain.PersistentStore) error {
		var err error
		out, err = store.ListKeys(ctx)
		return err
	}, nil)
	return out, err
}

// route runs call against the primary when it is usable and otherwise against
// the fallback. track is non-nil for writes; it runs under mu after a write
// succeeded on the fallback and records what the replay must undo.
func (s *FailoverStore) route(ctx context.Context, op string, call func(domain.PersistentStore) error, track func()) error {
	if s.shouldTryPrimary() {
		err := s.replay(ctx)
		if err != nil {
			err = domain.NewError(domain.KindStorage, "failover replay", err)
		} else {
			err = call(s.primary)
		}
		if !isBackendFailure(err) {
			if s.isDown.CompareAndSwap(true, false) {
				s.logger.Info().Str("op", op).Msg("Primary store recovered")
			}
			return err
		}
		if !s.isDown.Swap(true) {
			s.logger.Error().Err(err).Str("op", op).Msg("Primary store failed, falling back")
		}
		s.lastCheck.Store(time.Now().UnixNano())
	}

	err := call(s.fallback)
	if err == nil && track != nil {
		s.mu.Lock()
		s.dirty = true
		track()
		s.mu.Unlock()
	}
	return err
}

// replay moves everything written to the fallback during an outage into the
// primary: a Clear first, then removals, then the fallback's keys. Keys are
// removed from the fallback only after the primary accepted them.
func (s *FailoverStore) replay(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}

	if s.cleared {
		if err := s.primary.Clear(ctx); err != nil {
			return err
		}
		s.cleared = false
	}
	for key := range s.removed {
		if err := s.primary.Remove(ctx, key); err != nil {
			return err
		}
		delete(s.removed, key)
	}

	keys, err := s.fallback.ListKeys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		value, err := s.fallback.Get(ctx, key)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := s.primary.Set(ctx, key, value); err != nil {
			return err
		}
		if err := s.fallback.Remove(ctx, key); err != nil {
			return err
		}
	}

	s.dirty = false
	if len(keys) > 0 {
		s.logger.Info().Int("keys", len(keys)).Msg("Replayed fallback writes into primary store")
	}
	return nil
}

func (s *FailoverStore) shouldTryPrimary() bool {
	if !s.isDown.Load() {
		return true
	}
	return time.Since(time.Unix(0, s.lastCheck.Load())) > s.recheck
}

// isBackendFailure separates outages from answers the primary gave correctly.
func isBackendFailure(err error) bool {
	if err == nil || errors.Is(err, domain.ErrNotFound) {
		return false
	}
	return domain.KindOf(err) != domain.KindValidation
}
