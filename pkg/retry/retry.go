// Package retry runs an operation several times with a backoff between
// attempts. Call sites compose it explicitly around slow external calls.
package retry

import (
	"context"
	"errors"
	"time"
)

// Backoff returns the wait after the given failed attempt (1-based).
type Backoff func(attempt int, base time.Duration) time.Duration

// Linear waits base*attempt: base, 2*base, 3*base...
func Linear(attempt int, base time.Duration) time.Duration {
	return base * time.Duration(attempt)
}

// Exponential doubles the wait after every attempt.
func Exponential(attempt int, base time.Duration) time.Duration {
	return base << (attempt - 1)
}

// Config controls the retry behaviour.
type Config struct {
	// MaxAttempts counts the first call. Values below 1 mean a single attempt.
	MaxAttempts int
	// Delay is the base wait handed to Backoff.
	Delay time.Duration
	// MaxDelay caps a single wait. Zero means no cap.
	MaxDelay time.Duration
	// AttemptTimeout bounds each call. Zero leaves the parent deadline alone.
	AttemptTimeout time.Duration
	// Backoff defaults to Linear.
	Backoff Backoff
	// ShouldRetry classifies errors. Nil retries everything.
	ShouldRetry func(err error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultConfig matches the generation client: three attempts, 1s then 2s.
var DefaultConfig = Config{
	MaxAttempts: 3,
	Delay:       time.Second,
	MaxDelay:    10 * time.Second,
	Backoff:     Linear,
}

// Do calls fn until it succeeds, a non-retryable error occurs, the attempts
// run out or ctx ends. The last error is returned.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	_, err := Value(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Backoff == nil {
		cfg.Backoff = Linear
	}

	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, errors.Join(lastErr, err)
		}

		result, err := callOnce(ctx, cfg.AttemptTimeout, fn)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if cfg.ShouldRetry != nil && !cfg.ShouldRetry(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		wait := cfg.Backoff(attempt, cfg.Delay)
		if cfg.MaxDelay > 0 && wait > cfg.MaxDelay {
			wait = cfg.MaxDelay
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
	}
	return zero, lastErr
}

func callOnce[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}
