// Package resilience retries storage writes that lose a race against a
// concurrent writer, and trips a breaker when a dependency keeps failing.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// RetryConfig is a bounded exponential backoff policy.
type RetryConfig struct {
	// Total attempts including the first. Default: 5.
	MaxAttempts int
	// Delay before the first retry. Default: 20ms.
	InitialBackoff time.Duration
	// Upper bound on any single delay. Default: 500ms.
	MaxBackoff time.Duration
	// Growth per attempt. Default: 2.
	Multiplier float64
	// Random spread as a fraction of the delay, 0.25 meaning ±25%.
	JitterFraction float64

	// ShouldRetry classifies errors. Nil means IsConflict.
	ShouldRetry func(err error) bool
	// OnRetry runs before each wait with the 1-based retry number.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig is sized for row-level write contention.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 20 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		Multiplier:     2,
		JitterFraction: 0.25,
	}
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempts run out. Running out yields a TransientError wrapping
// ErrRetriesExhausted. Cancellation returns the last error as is.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for functions that return a value.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = applyDefaults(cfg)
	retryable := cfg.ShouldRetry
	if retryable == nil {
		retryable = IsConflict
	}

	var zero T
	var err error
	for attempt := 1; ; attempt++ {
		var val T
		val, err = fn(ctx)
		switch {
		case err == nil:
			return val, nil
		case ctx.Err() != nil, !retryable(err):
			return zero, err
		case attempt >= cfg.MaxAttempts:
			return zero, NewTransientError(eris.Wrapf(ErrRetriesExhausted,
				"after %d attempts: %v", cfg.MaxAttempts, err))
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		if !sleep(ctx, computeBackoff(attempt-1, cfg)) {
			return zero, err
		}
	}
}

// sleep waits d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	cfg.JitterFraction = math.Max(0, cfg.JitterFraction)
	return cfg
}

// computeBackoff returns the wait after the given zero-based attempt.
func computeBackoff(attempt int, cfg RetryConfig) time.Duration {
	d := math.Min(
		float64(cfg.InitialBackoff)*math.Pow(cfg.Multiplier, float64(attempt)),
		float64(cfg.MaxBackoff),
	)
	if cfg.JitterFraction > 0 {
		d += d * cfg.JitterFraction * (2*rand.Float64() - 1)
	}
	return time.Duration(math.Max(0, d))
}

// RetryLogger logs each retry of operation at warn level.
func RetryLogger(component, operation string) func(int, error) {
	log := zap.L().With(zap.String("component", component), zap.String("operation", operation))
	return func(attempt int, err error) {
		log.Warn("retrying conflicting write", zap.Int("attempt", attempt), zap.Error(err))
	}
}
