// Package retry runs operations with bounded exponential backoff.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/tournament-registry/internal/config"
	"github.com/tournament-registry/internal/domain"
)

// Options controls the attempt budget and backoff curve
type Options struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// IsRetryable decides whether a failed attempt may be repeated.
	// Defaults to domain.IsRetryable.
	IsRetryable func(error) bool

	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error

	Logger *slog.Logger
}

// DefaultOptions returns 3 attempts, 1s initial delay, 10s cap, x2 growth
func DefaultOptions() Options {
	return Options{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		IsRetryable:  domain.IsRetryable,
	}
}

// FromConfig builds options from the retry section of the configuration
func FromConfig(cfg config.RetryConfig, logger *slog.Logger) Options {
	opts := DefaultOptions()
	if cfg.MaxAttempts > 0 {
		opts.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialDelay > 0 {
		opts.InitialDelay = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		opts.MaxDelay = cfg.MaxDelay
	}
	if cfg.Multiplier > 0 {
		opts.Multiplier = cfg.Multiplier
	}
	opts.Logger = logger
	return opts
}

// Delay returns the wait before the next attempt after the given (1-based) failed attempt
func (o Options) Delay(attempt int) time.Duration {
	d := float64(o.InitialDelay) * math.Pow(o.Multiplier, float64(attempt-1))
	if d > float64(o.MaxDelay) {
		return o.MaxDelay
	}
	return time.Duration(d)
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = def.InitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = def.MaxDelay
	}
	if o.Multiplier <= 0 {
		o.Multiplier = def.Multiplier
	}
	if o.IsRetryable == nil {
		o.IsRetryable = def.IsRetryable
	}
	if o.Sleep == nil {
		o.Sleep = sleep
	}
	return o
}

// Do calls op until it succeeds, fails with a non-retryable error, or the
// attempt budget runs out. The last error is returned unchanged.
func Do[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	opts = opts.withDefaults()

	var zero T
	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		if attempt >= opts.MaxAttempts || !opts.IsRetryable(err) {
			return zero, err
		}

		delay := opts.Delay(attempt)
		if opts.Logger != nil {
			opts.Logger.Warn("attempt failed, retrying",
				"attempt", attempt,
				"max_attempts", opts.MaxAttempts,
				"delay", delay,
				"error", err,
			)
		}

		if err := opts.Sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("retry cancelled: %w", err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
