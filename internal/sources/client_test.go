package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammad-safakhou/yurei/config"
)

func TestDoJSONDecodesAndSendsHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "k" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("missing content type")
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := NewClient("exa", time.Second, nil)
	var out struct{ OK bool }
	if err := c.DoJSON(context.Background(), http.MethodPost, server.URL, map[string]string{"x-api-key": "k"}, map[string]string{"q": "x"}, &out); err != nil {
		t.Fatalf("DoJSON: %v", err)
	}
	if !out.OK {
		t.Fatalf("expected decoded body")
	}
}

func TestDoJSONDoesNotRetry(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewClient("hn", time.Second, nil)
	err := c.DoJSON(context.Background(), http.MethodGet, server.URL, nil, nil, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected StatusError 502, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected exactly one attempt, got %d", hits.Load())
	}
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	breaker := NewBreaker("exa", config.BreakerConfig{FailureRatio: 1, MinRequests: 2, OpenTimeout: time.Minute}, nil)
	c := NewClient("exa", time.Second, breaker)
	for i := 0; i < 2; i++ {
		_ = c.DoJSON(context.Background(), http.MethodGet, server.URL, nil, nil, nil)
	}
	err := c.DoJSON(context.Background(), http.MethodGet, server.URL, nil, nil, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected open breaker to skip the network, got %d hits", hits.Load())
	}
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	breaker := NewBreaker("yt", config.BreakerConfig{FailureRatio: 1, MinRequests: 1, OpenTimeout: time.Minute}, nil)
	c := NewClient("yt", time.Second, breaker)
	for i := 0; i < 3; i++ {
		err := c.DoJSON(context.Background(), http.MethodGet, server.URL, nil, nil, nil)
		var se *StatusError
		if !errors.As(err, &se) {
			t.Fatalf("attempt %d: expected StatusError, got %v", i, err)
		}
	}
	if breaker.IsOpen() {
		t.Fatalf("4xx answers must not open the breaker")
	}
}
