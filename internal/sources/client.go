// Package sources holds the HTTP plumbing shared by the upstream content
// clients: JSON round trips behind a per-upstream circuit breaker.
package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/sirupsen/logrus"

	"github.com/mohammad-safakhou/yurei/config"
)

// ErrUnavailable is returned without touching the network while the
// upstream's breaker is open.
var ErrUnavailable = errors.New("upstream temporarily unavailable")

// StatusError is a non-2xx upstream answer.
type StatusError struct {
	Upstream   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Upstream, e.StatusCode, e.Body)
}

// Breaker guards one upstream. Client errors (4xx) and caller cancellation
// do not count as failures.
type Breaker struct {
	name string
	cb   circuitbreaker.CircuitBreaker[any]
}

func NewBreaker(name string, cfg config.BreakerConfig, logger logrus.FieldLogger) *Breaker {
	minRequests := cfg.MinRequests
	if minRequests == 0 {
		minRequests = 10
	}
	ratio := cfg.FailureRatio
	if ratio == 0 {
		ratio = 0.5
	}
	delay := cfg.OpenTimeout
	if delay <= 0 {
		delay = 15 * time.Second
	}
	threshold := uint(float64(minRequests) * ratio)
	if threshold < 1 {
		threshold = 1
	}

	builder := circuitbreaker.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool { return countsAsFailure(err) }).
		WithFailureThresholdRatio(threshold, uint(minRequests)).
		WithDelay(delay).
		WithSuccessThreshold(1)
	if logger != nil {
		builder = builder.OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			logger.WithFields(logrus.Fields{
				"upstream":   name,
				"from_state": stateName(event.OldState),
				"to_state":   stateName(event.NewState),
			}).Warn("circuit breaker state change")
		})
	}
	return &Breaker{name: name, cb: builder.Build()}
}

// Run executes fn through the breaker.
func (b *Breaker) Run(fn func() error) error {
	_, err := failsafe.With(b.cb).Get(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return fmt.Errorf("%s: %w", b.name, ErrUnavailable)
	}
	return err
}

func (b *Breaker) IsOpen() bool { return b.cb.IsOpen() }

func stateName(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.ClosedState:
		return "closed"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	case circuitbreaker.OpenState:
		return "open"
	default:
		return "unknown"
	}
}

func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// Client performs JSON requests against one upstream. There are no hidden
// retries: a failed call is reported once and the caller decides.
type Client struct {
	name    string
	client  *http.Client
	breaker *Breaker
}

func NewClient(name string, timeout time.Duration, breaker *Breaker) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{name: name, client: &http.Client{Timeout: timeout}, breaker: breaker}
}

func (c *Client) DoJSON(ctx context.Context, method, url string, headers map[string]string, body any, out any) error {
	call := func() error { return c.do(ctx, method, url, headers, body, out) }
	if c.breaker == nil {
		return call()
	}
	return c.breaker.Run(call)
}

func (c *Client) do(ctx context.Context, method, url string, headers map[string]string, body any, out any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", c.name, err)
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.name, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Upstream: c.name, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.name, err)
	}
	return nil
}
