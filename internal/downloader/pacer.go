package downloader

import (
	"context"
	"math/rand/v2"
	"time"
)

// Default pacing bounds between requests to the order service.
const (
	DefaultPacingMin = 5 * time.Second
	DefaultPacingMax = 30 * time.Second
)

// Pacer chooses how long to wait between two requests for the same asset.
type Pacer interface {
	Delay() time.Duration
}

// RandomPacer picks a delay uniformly within [Min, Max].
type RandomPacer struct {
	Min time.Duration
	Max time.Duration
}

// Delay implements Pacer.
func (p RandomPacer) Delay() time.Duration {
	if p.Max <= p.Min {
		return p.Min
	}
	return p.Min + rand.N(p.Max-p.Min+1)
}

// FixedPacer always waits the same duration. The zero value never waits.
type FixedPacer time.Duration

// Delay implements Pacer.
func (p FixedPacer) Delay() time.Duration {
	return time.Duration(p)
}

// NoDelay is a Pacer that never waits.
var NoDelay Pacer = FixedPacer(0)

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
