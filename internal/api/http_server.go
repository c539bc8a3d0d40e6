package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"offlinesync/internal/config"
	"offlinesync/internal/domain"
	"offlinesync/internal/metrics"
	"offlinesync/internal/models"
	"offlinesync/internal/queue"
	"offlinesync/internal/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	maxBodyBytes      = 1 << 20
	defaultLetterList = 100
)

// Coordinator is what the status server drives.
type Coordinator interface {
	SyncData(ctx context.Context, key string, data any, actionType string) (service.SyncResult, error)
	Drain(ctx context.Context) (queue.DrainResult, error)
	Clear(ctx context.Context) error
	Status() service.Status
}

type ServerOption func(*StatusServer)

// WithDeadLetters exposes dropped actions at GET /v1/dead-letters.
func WithDeadLetters(sink domain.DeadLetterSink) ServerOption {
	return func(s *StatusServer) { s.deadLetters = sink }
}

// WithMetrics serves the Prometheus registry at /metrics.
func WithMetrics() ServerOption {
	return func(s *StatusServer) { s.metrics = true }
}

// StatusServer is the local control surface of the daemon.
type StatusServer struct {
	coord       Coordinator
	deadLetters domain.DeadLetterSink
	metrics     bool
	logger      *zerolog.Logger
	handler     http.Handler
	server      *http.Server
}

func NewStatusServer(cfg config.APIConfig, coord Coordinator, logger *zerolog.Logger, opts ...ServerOption) *StatusServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	srv := &StatusServer{coord: coord, logger: logger}
	for _, opt := range opts {
		opt(srv)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.HandleFunc("GET /status", srv.handleStatus)
	mux.HandleFunc("POST /v1/changes/{key}", srv.handleChange)
	mux.HandleFunc("DELETE /v1/changes/{key}", srv.handleChange)
	mux.HandleFunc("POST /v1/drain", srv.handleDrain)
	mux.HandleFunc("DELETE /v1/queue", srv.handleClear)
	if srv.deadLetters != nil {
		mux.HandleFunc("GET /v1/dead-letters", srv.handleDeadLetters)
	}
	if srv.metrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	auth := NewHTTPAuth(cfg, "/healthz", "/metrics")
	srv.handler = loggingMiddleware(logger, auth.Wrap(mux))
	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return srv
}

func (s *StatusServer) Handler() http.Handler {
	return s.handler
}

func (s *StatusServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Status server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	metrics.IncHTTP("healthz")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	metrics.IncHTTP("status")
	writeJSON(w, http.StatusOK, s.coord.Status())
}

func (s *StatusServer) handleChange(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("changes")

	key := strings.TrimSpace(r.PathValue("key"))
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	actionType := models.ActionUpdate
	var data any
	if r.Method == http.MethodDelete {
		actionType = models.ActionDelete
	} else {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit))
				return
			}
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		if !json.Valid(body) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		data = json.RawMessage(body)
	}

	res, err := s.coord.SyncData(r.Context(), key, data, actionType)
	if err != nil {
		writeError(w, statusForKind(domain.KindOf(err)), err.Error())
		return
	}

	status := http.StatusOK
	if res.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (s *StatusServer) handleDrain(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("drain")
	res, err := s.coord.Drain(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *StatusServer) handleClear(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("clear")
	if err := s.coord.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *StatusServer) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("dead_letters")

	limit := defaultLetterList
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	letters, err := s.deadLetters.ListDeadLetters(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": letters})
}

func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuth:
		return http.StatusUnauthorized
	case domain.KindPermission:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
