package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"offlinesync/internal/config"
	"offlinesync/internal/domain"
	"offlinesync/internal/metrics"
	"offlinesync/internal/models"

	"golang.org/x/time/rate"
)

const (
	syncPath          = "/api/v1/sync/"
	idempotencyHeader = "Idempotency-Key"
	maxErrorBody      = 1024
)

// Client writes pending actions to the backend over HTTP.
// The action ID is sent as an idempotency key so replays are safe.
type Client struct {
	baseURL string
	apiKey  string
	header  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient builds a client from cfg. A nil httpClient gets one with cfg's timeout.
func NewClient(cfg config.RemoteConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout()}
	}
	header := strings.TrimSpace(cfg.HeaderAPIKey)
	if header == "" {
		header = apiKeyHeaderDefault
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		header:  header,
		http:    httpClient,
		limiter: newLimiter(cfg.RateLimit),
	}
}

func (c *Client) Sync(ctx context.Context, action models.PendingAction) error {
	op := "sync " + action.Key

	if err := c.limiter.Wait(ctx); err != nil {
		return domain.NewError(domain.KindTimeout, op, err)
	}

	body, err := json.Marshal(action)
	if err != nil {
		return domain.NewError(domain.KindValidation, op, err)
	}

	endpoint := c.baseURL + syncPath + url.PathEscape(action.Key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.NewError(domain.KindValidation, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(idempotencyHeader, action.ID)
	if c.apiKey != "" {
		req.Header.Set(c.header, c.apiKey)
	}

	metrics.IncHTTP("remote_sync")
	resp, err := c.http.Do(req)
	if err != nil {
		kind := domain.KindOf(err)
		if kind == domain.KindUnknown {
			kind = domain.KindNetwork
		}
		return domain.NewError(kind, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return domain.NewError(kindForStatus(resp.StatusCode), op,
		fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
}

func kindForStatus(code int) domain.Kind {
	switch {
	case code == http.StatusBadRequest, code == http.StatusUnprocessableEntity, code == http.StatusConflict:
		return domain.KindValidation
	case code == http.StatusUnauthorized:
		return domain.KindAuth
	case code == http.StatusForbidden:
		return domain.KindPermission
	case code == http.StatusRequestTimeout:
		return domain.KindTimeout
	case code == http.StatusTooManyRequests, code >= 500:
		return domain.KindServer
	default:
		return domain.KindUnknown
	}
}
