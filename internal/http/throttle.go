package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrMustBePositive = errors.New("http: rate and burst must be greater than zero")
	ErrThrottleWait   = errors.New("http: rate limiter wait failed")
)

// throttle is an http.RoundTripper, using the time/rate token
// bucket limiter to restrict outbound calls.
type throttle struct {
	limiter *rate.Limiter
	next    http.RoundTripper
	logger  *slog.Logger
}

// NewThrottle wraps next so that at most rps requests per second, with the
// given burst, reach it. A nil logger disables wait logging.
func NewThrottle(rps float64, burst int, logger *slog.Logger, next http.RoundTripper) (http.RoundTripper, error) {
	if rps <= 0 || burst <= 0 {
		return nil, fmt.Errorf("rate[%g] burst[%d]: %w", rps, burst, ErrMustBePositive)
	}

	return &throttle{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		next:    next,
		logger:  logger,
	}, nil
}

func (t *throttle) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()

	start := time.Now()
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrThrottleWait, err)
	}

	if waited := time.Since(start); t.logger != nil && waited > 10*time.Millisecond {
		t.logger.Debug("throttled request", "waited", waited.Round(time.Millisecond), "path", r.URL.Path)
	}

	return t.next.RoundTrip(r)
}
