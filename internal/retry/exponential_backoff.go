// Package retry runs operations under a retry policy.
package retry

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/keilerkonzept/climate-telemetry-tui/internal/wallclock"
)

const (
	DefaultMinInterval = time.Second / 8
	DefaultMaxInterval = 30 * time.Second
)

// ExponentialBackoff implements a retry policy with exponential backoff and
// optional jitter.
type ExponentialBackoff struct {
	// MaxAttempts sets the maximum number of attempts. Zero means unlimited;
	// one disables retries.
	MaxAttempts uint64

	// MinInterval is the first interval between attempts (before jitter).
	// Defaults to DefaultMinInterval.
	MinInterval time.Duration

	// MaxInterval caps the interval between attempts (before jitter).
	// Defaults to DefaultMaxInterval.
	MaxInterval time.Duration

	// Timeout bounds all attempts together.
	Timeout time.Duration

	// NoJitter removes the default jitter of 95% to 105%.
	NoJitter bool

	Clock  wallclock.WallClock
	Logger *slog.Logger
}

// Start runs task until it succeeds, reports a non-retryable failure, runs
// out of attempts, or ctx ends. It returns the last error.
func (e *ExponentialBackoff) Start(ctx context.Context, name string, task Task) error {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	l := logger{e.Logger}
	if l.Logger == nil {
		l.Logger = slog.New(slog.DiscardHandler)
	}
	clock := wallclock.OrSystem(e.Clock)

	for attempt := uint64(1); ; attempt++ {
		l.attempt(ctx, name, attempt)
		retry, err := task(ctx)
		if err == nil {
			l.complete(ctx, name, attempt, nil)
			return nil
		}

		interval := e.shouldRetry(ctx, attempt, retry)
		if interval == 0 {
			l.complete(ctx, name, attempt, err)
			return err
		}
		l.wait(ctx, name, attempt, interval, err)

		if err := sleep(ctx, clock, interval); err != nil {
			l.complete(ctx, name, attempt, err)
			return err
		}
	}
}

// Interval returns the wait after the given failed attempt, before jitter.
func (e *ExponentialBackoff) Interval(attempt uint64) time.Duration {
	minInterval := e.MinInterval
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	maxInterval := e.MaxInterval
	if maxInterval <= 0 {
		maxInterval = DefaultMaxInterval
	}
	maxInterval = max(minInterval, maxInterval)

	d := minInterval
	for i := uint64(1); i < attempt && d < maxInterval; i++ {
		d *= 2
	}
	return min(d, maxInterval)
}

func (e *ExponentialBackoff) shouldRetry(ctx context.Context, attempt uint64, retry bool) time.Duration {
	switch {
	case !retry,
		attempt == e.MaxAttempts,
		ctx.Err() != nil:
		return 0
	}

	interval := e.Interval(attempt)
	if !e.NoJitter {
		// #nosec G404
		interval = time.Duration(float64(interval) * (.95 + .1*rand.Float64()))
	}
	return interval
}

func sleep(ctx context.Context, clock wallclock.WallClock, d time.Duration) error {
	done := make(chan struct{})
	t := clock.AfterFunc(d, func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}
