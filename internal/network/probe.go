package network

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPProbe is a Source that polls a URL. Any HTTP response means reachable;
// a transport failure means unreachable.
type HTTPProbe struct {
	url      string
	interval time.Duration
	client   *http.Client
}

func NewHTTPProbe(url string, interval, timeout time.Duration) *HTTPProbe {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProbe{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: timeout},
	}
}

// Check performs one probe. The error is reserved for probes that could not be built.
func (p *HTTPProbe) Check(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false, fmt.Errorf("build probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, nil
	}
	resp.Body.Close()
	return true, nil
}

func (p *HTTPProbe) Watch(ctx context.Context) (<-chan bool, <-chan error) {
	updates := make(chan bool, 1)
	errs := make(chan error, 1)

	go func() {
		defer close(updates)
		defer close(errs)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			online, err := p.Check(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				select {
				case errs <- err:
				case <-ctx.Done():
					return
				}
			} else {
				select {
				case updates <- online:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return updates, errs
}
