package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"offlinesync/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func (m *mockStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	return m.Called(ctx, key, value).Error(0)
}

func (m *mockStore) Remove(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *mockStore) Clear(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) ListKeys(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func TestFailoverStore(t *testing.T) {
	primary := new(mockStore)
	fallback := new(mockStore)
	logger := zerolog.New(io.Discard)
	store := NewFailoverStore(primary, fallback, &logger)
	ctx := context.Background()
	outage := domain.NewError(domain.KindStorage, "redis get", errors.New("connection refused"))

	t.Run("PrimarySuccess", func(t *testing.T) {
		fallback.On("ListKeys", ctx).Return([]string{}, nil).Once()
		primary.On("Get", ctx, "a").Return(json.RawMessage(`1`), nil).Once()

		got, err := store.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, json.RawMessage(`1`), got)
		assert.False(t, store.Degraded())
		primary.AssertExpectations(t)
	})

	t.Run("NotFoundIsNotAnOutage", func(t *testing.T) {
		primary.On("Get", ctx, "missing").Return(nil, domain.ErrNotFound).Once()

		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.False(t, store.Degraded())
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("Set", ctx, "b", json.RawMessage(`2`)).Return(outage).Once()
		fallback.On("Set", ctx, "b", json.RawMessage(`2`)).Return(nil).Once()

		require.NoError(t, store.Set(ctx, "b", json.RawMessage(`2`)))
		assert.True(t, store.Degraded())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("AlreadyDownSkipsPrimary", func(t *testing.T) {
		fallback.On("Remove", ctx, "b").Return(nil).Once()

		require.NoError(t, store.Remove(ctx, "b"))
		primary.AssertNotCalled(t, "Remove", ctx, "b")
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttemptFail", func(t *testing.T) {
		store.lastCheck.Store(time.Now().Add(-2 * time.Minute).UnixNano())
		primary.On("Remove", ctx, "b").Return(outage).Once()
		fallback.On("ListKeys", ctx).Return([]string{"x"}, nil).Once()

		keys, err := store.ListKeys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"x"}, keys)
		assert.True(t, store.Degraded())
		primary.AssertNotCalled(t, "ListKeys", ctx)
	})

	t.Run("RecoveryReplaysFallback", func(t *testing.T) {
		store.lastCheck.Store(time.Now().Add(-2 * time.Minute).UnixNano())
		primary.On("Remove", ctx, "b").Return(nil).Once()
		fallback.On("ListKeys", ctx).Return([]string{"x"}, nil).Once()
		fallback.On("Get", ctx, "x").Return(json.RawMessage(`9`), nil).Once()
		primary.On("Set", ctx, "x", json.RawMessage(`9`)).Return(nil).Once()
		fallback.On("Remove", ctx, "x").Return(nil).Once()
		primary.On("Get", ctx, "c").Return(json.RawMessage(`3`), nil).Once()

		got, err := store.Get(ctx, "c")
		require.NoError(t, err)
		assert.Equal(t, json.RawMessage(`3`), got)
		assert.False(t, store.Degraded())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("ClearResetsBoth", func(t *testing.T) {
		primary.On("Clear", ctx).Return(nil).Once()
		fallback.On("Clear", ctx).Return(nil).Once()

		require.NoError(t, store.Clear(ctx))
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("BothFail", func(t *testing.T) {
		primary.On("Set", ctx, "d", json.RawMessage(`4`)).Return(outage).Once()
		fallback.On("Set", ctx, "d", json.RawMessage(`4`)).Return(errors.New("disk full")).Once()

		err := store.Set(ctx, "d", json.RawMessage(`4`))
		assert.EqualError(t, err, "disk full")
	})
}

func TestFailoverStoreReplaysOutageWrites(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	fallback := NewMemoryStore()
	store := NewFailoverStore(NewRedisStore(client, "t:"), fallback, nil)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "pending_actions", json.RawMessage(`[]`)))
	require.NoError(t, store.Set(ctx, "stale", json.RawMessage(`1`)))

	s.Close()
	require.NoError(t, store.Set(ctx, "pending_actions", json.RawMessage(`[{"id":"A"}]`)))
	require.NoError(t, store.Remove(ctx, "stale"))
	assert.True(t, store.Degraded())

	got, err := store.Get(ctx, "pending_actions")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"A"}]`, string(got))

	require.NoError(t, s.Restart())
	store.lastCheck.Store(time.Now().Add(-2 * time.Minute).UnixNano())

	got, err = store.Get(ctx, "pending_actions")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"A"}]`, string(got), "writes made during the outage survive recovery")
	assert.False(t, store.Degraded())

	_, err = store.Get(ctx, "stale")
	assert.ErrorIs(t, err, domain.ErrNotFound, "removals made during the outage reach the primary")

	raw, err := s.Get("t:kv:pending_actions")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"A"}]`, raw)

	left, err := fallback.ListKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestFailoverStoreReplaysLeftoversFromPreviousRun(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore()
	fallback := NewMemoryStore()
	require.NoError(t, primary.Set(ctx, "pending_actions", json.RawMessage(`[]`)))
	require.NoError(t, fallback.Set(ctx, "pending_actions", json.RawMessage(`[{"id":"B"}]`)))

	store := NewFailoverStore(primary, fallback, nil)

	got, err := store.Get(ctx, "pending_actions")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"B"}]`, string(got))

	left, err := fallback.ListKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestFailoverStoreClearDuringOutage(t *testing.T) {
	primary := new(mockStore)
	fallback := NewMemoryStore()
	store := NewFailoverStore(primary, fallback, nil)
	ctx := context.Background()
	outage := domain.NewError(domain.KindStorage, "redis", errors.New("connection refused"))

	primary.On("Clear", ctx).Return(outage).Once()
	require.NoError(t, store.Clear(ctx))
	assert.True(t, store.Degraded())
	require.NoError(t, store.Set(ctx, "fresh", json.RawMessage(`1`)))

	store.lastCheck.Store(time.Now().Add(-2 * time.Minute).UnixNano())
	primary.On("Clear", ctx).Return(nil).Once()
	primary.On("Set", ctx, "fresh", json.RawMessage(`1`)).Return(nil).Once()
	primary.On("ListKeys", ctx).Return([]string{"fresh"}, nil).Once()

	keys, err := store.ListKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, keys)
	primary.AssertExpectations(t)
}
