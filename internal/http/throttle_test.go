package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewThrottleValidation(t *testing.T) {
	tests := []struct {
		name    string
		rps     float64
		burst   int
		wantErr bool
	}{
		{"zero rate", 0, 1, true},
		{"negative burst", 1, -1, true},
		{"valid", 5, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, err := NewThrottle(tt.rps, tt.burst, nil, http.DefaultTransport)
			if tt.wantErr {
				if !errors.Is(err, ErrMustBePositive) {
					t.Errorf("expected ErrMustBePositive, got %v", err)
				}
				return
			}
			if err != nil || rt == nil {
				t.Errorf("expected round tripper, got %v", err)
			}
		})
	}
}

func TestThrottleLimitsGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	opts := testOptions()
	opts.RateLimit = 10 // one token per 100ms, burst 1

	client := newTestClient(t, opts)

	start := time.Now()
	for range 3 {
		body, err := client.Get(context.Background(), server.URL)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		body.Close()
	}

	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("expected throttling to delay requests, took %v", elapsed)
	}
}

func TestThrottleHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	opts := testOptions()
	opts.RateLimit = 0.1
	opts.RetryAttempts = 0
	client := newTestClient(t, opts)

	body, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := client.Get(ctx, server.URL); err == nil {
		t.Error("expected rate limiter to fail on short deadline")
	}
}
