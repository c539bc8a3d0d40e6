package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"offlinesync/internal/config"
	"offlinesync/internal/domain"
	"offlinesync/internal/models"
	"offlinesync/internal/queue"
	"offlinesync/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCoordinator struct {
	mock.Mock
}

func (m *mockCoordinator) SyncData(ctx context.Context, key string, data any, actionType string) (service.SyncResult, error) {
	args := m.Called(ctx, key, data, actionType)
	return args.Get(0).(service.SyncResult), args.Error(1)
}

func (m *mockCoordinator) Drain(ctx context.Context) (queue.DrainResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(queue.DrainResult), args.Error(1)
}

func (m *mockCoordinator) Clear(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockCoordinator) Status() service.Status {
	return m.Called().Get(0).(service.Status)
}

type staticDeadLetters []models.DeadLetter

func (s staticDeadLetters) RecordDeadLetter(context.Context, models.PendingAction, string) error {
	return nil
}

func (s staticDeadLetters) ListDeadLetters(_ context.Context, limit int) ([]models.DeadLetter, error) {
	if limit < len(s) {
		return s[:limit], nil
	}
	return s, nil
}

func newTestServer(t *testing.T, cfg config.APIConfig, coord Coordinator, opts ...ServerOption) *httptest.Server {
	t.Helper()
	logger := zerolog.Nop()
	srv := NewStatusServer(cfg, coord, &logger, opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStatusServer_HealthAndStatus(t *testing.T) {
	coord := new(mockCoordinator)
	coord.On("Status").Return(service.Status{Online: true, Pending: 3}).Once()
	ts := newTestServer(t, config.APIConfig{}, coord)

	resp := do(t, http.MethodGet, ts.URL+"/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))

	resp = do(t, http.MethodGet, ts.URL+"/status", "", map[string]string{requestIDHeader: "req-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-1", resp.Header.Get(requestIDHeader))

	var st service.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, service.Status{Online: true, Pending: 3}, st)
	coord.AssertExpectations(t)
}

func TestStatusServer_Changes(t *testing.T) {
	coord := new(mockCoordinator)
	coord.On("SyncData", mock.Anything, "budget", json.RawMessage(`{"amount":50}`), models.ActionUpdate).
		Return(service.SyncResult{Persisted: true, Queued: true}, nil).Once()
	coord.On("SyncData", mock.Anything, "budget", nil, models.ActionDelete).
		Return(service.SyncResult{Persisted: true, Synced: true}, nil).Once()
	coord.On("SyncData", mock.Anything, "broken", mock.Anything, models.ActionUpdate).
		Return(service.SyncResult{}, domain.NewError(domain.KindStorage, "set", errors.New("disk full"))).Once()
	ts := newTestServer(t, config.APIConfig{}, coord)

	resp := do(t, http.MethodPost, ts.URL+"/v1/changes/budget", `{"amount":50}`, nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	var res service.SyncResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.True(t, res.Queued)

	resp = do(t, http.MethodDelete, ts.URL+"/v1/changes/budget", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+"/v1/changes/broken", `1`, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+"/v1/changes/budget", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/v1/changes/budget", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	oversized := strings.Repeat("1", maxBodyBytes+1)
	resp = do(t, http.MethodPost, ts.URL+"/v1/changes/budget", oversized, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	coord.AssertExpectations(t)
}

func TestStatusServer_DrainAndClear(t *testing.T) {
	coord := new(mockCoordinator)
	coord.On("Drain", mock.Anything).Return(queue.DrainResult{Processed: 2, Succeeded: 2}, nil).Once()
	coord.On("Clear", mock.Anything).Return(nil).Once()
	ts := newTestServer(t, config.APIConfig{}, coord)

	resp := do(t, http.MethodPost, ts.URL+"/v1/drain", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res queue.DrainResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, 2, res.Succeeded)

	resp = do(t, http.MethodDelete, ts.URL+"/v1/queue", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	coord.AssertExpectations(t)
}

func TestStatusServer_DeadLettersAndMetrics(t *testing.T) {
	letters := staticDeadLetters{
		{ID: 2, Action: models.PendingAction{ID: "b", Key: "k2"}, Reason: "validation"},
		{ID: 1, Action: models.PendingAction{ID: "a", Key: "k1"}, Reason: "attempts exhausted"},
	}
	ts := newTestServer(t, config.APIConfig{}, new(mockCoordinator), WithDeadLetters(letters), WithMetrics())

	resp := do(t, http.MethodGet, ts.URL+"/v1/dead-letters?limit=1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		DeadLetters []models.DeadLetter `json:"dead_letters"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.DeadLetters, 1)
	assert.Equal(t, "k2", body.DeadLetters[0].Action.Key)

	resp = do(t, http.MethodGet, ts.URL+"/v1/dead-letters?limit=zero", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusServer_WithoutOptionalRoutes(t *testing.T) {
	ts := newTestServer(t, config.APIConfig{}, new(mockCoordinator))

	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, ts.URL+"/v1/dead-letters", "", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, ts.URL+"/metrics", "", nil).StatusCode)
}

func TestStatusServer_Auth(t *testing.T) {
	coord := new(mockCoordinator)
	coord.On("Status").Return(service.Status{}).Once()
	ts := newTestServer(t, config.APIConfig{APIKey: "secret"}, coord)

	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/healthz", "", nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodGet, ts.URL+"/status", "", nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized,
		do(t, http.MethodGet, ts.URL+"/status", "", map[string]string{"x-api-key": "wrong"}).StatusCode)
	assert.Equal(t, http.StatusOK,
		do(t, http.MethodGet, ts.URL+"/status", "", map[string]string{"x-api-key": "secret"}).StatusCode)
	coord.AssertExpectations(t)
}

func TestStatusServer_RateLimit(t *testing.T) {
	cfg := config.APIConfig{RateLimit: config.RateLimitConfig{RPS: 0.001, Burst: 2}}
	ts := newTestServer(t, cfg, new(mockCoordinator))

	headers := map[string]string{"x-api-key": "client-a"}
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/healthz", "", headers).StatusCode)
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/healthz", "", headers).StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, do(t, http.MethodGet, ts.URL+"/healthz", "", headers).StatusCode)

	other := map[string]string{"x-api-key": "client-b"}
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/healthz", "", other).StatusCode)
}

func TestRateLimiterSharesBuckets(t *testing.T) {
	l := newRateLimiter(config.RateLimitConfig{RPS: 1})
	assert.Same(t, l.getLimiter("a"), l.getLimiter("a"))
	assert.NotSame(t, l.getLimiter("a"), l.getLimiter("b"))
	assert.Equal(t, defaultBurst, l.getLimiter("a").Burst())
}
