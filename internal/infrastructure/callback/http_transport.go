package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"medea/internal/core/domain"
	"medea/internal/core/ports"
	"medea/pkg/circuitbreaker"
	"medea/pkg/retry"

	"go.uber.org/zap"
)

// StatusError is a non-2xx answer of a callback endpoint.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("callback %s answered %d", e.URL, e.Status)
}

// HTTPTransport POSTs callback requests as JSON. Each host has its own
// circuit breaker so one dead endpoint does not slow the others down.
type HTTPTransport struct {
	client   *http.Client
	breakers *circuitbreaker.Group
	logger   *zap.SugaredLogger

	mu       sync.RWMutex
	observer func(host string, open bool)
}

var _ ports.CallbackTransport = (*HTTPTransport)(nil)

func NewHTTPTransport(client *http.Client, breaker circuitbreaker.Config, logger *zap.SugaredLogger) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	t := &HTTPTransport{
		client:   client,
		breakers: circuitbreaker.NewGroup(breaker),
		logger:   logger,
	}
	t.breakers.OnStateChange(func(host string, from, to circuitbreaker.State) {
		logger.Warnw("Callback circuit breaker state changed",
			"host", host,
			"from", from.String(),
			"to", to.String(),
		)
		t.mu.RLock()
		observer := t.observer
		t.mu.RUnlock()
		if observer != nil {
			observer(host, to == circuitbreaker.StateOpen)
		}
	})
	return t
}

// ObserveBreakers registers fn to be told when a host breaker opens or closes.
func (t *HTTPTransport) ObserveBreakers(fn func(host string, open bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observer = fn
}

// Deliver sends req to rawURL. 5xx and network errors are retryable and
// count against the host breaker; other non-2xx answers are permanent.
func (t *HTTPTransport) Deliver(ctx context.Context, rawURL string, req domain.CallbackRequest) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return retry.Permanent(fmt.Errorf("parse callback url: %w", err))
	}
	body, err := json.Marshal(req)
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal callback: %w", err))
	}

	var permanent error
	err = t.breakers.Execute(ctx, u.Host, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := t.client.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500:
			return &StatusError{URL: rawURL, Status: resp.StatusCode}
		default:
			// The endpoint is alive; do not trip the breaker.
			permanent = &StatusError{URL: rawURL, Status: resp.StatusCode}
			return nil
		}
	})
	if err != nil {
		return err
	}
	if permanent != nil {
		return retry.Permanent(permanent)
	}
	return nil
}

// States reports breaker states per callback host.
func (t *HTTPTransport) States() map[string]circuitbreaker.State {
	return t.breakers.States()
}
