// Package retry provides exponential backoff and retry helpers for
// operations against the hub, such as reconnecting a dropped MQTT session.
package retry

import (
	"context"
	"errors"
	"time"
)

var errNoAttempts = errors.New("retry: MaxAttempts must be > 0")

// Config controls the behavior of Do.
type Config struct {
	// MaxAttempts is the total number of calls to fn. Required, must be > 0.
	MaxAttempts int

	// BaseDelay is the initial backoff delay. Defaults to InitialDelay.
	BaseDelay time.Duration

	// MaxDelay caps the backoff delay. Defaults to MaxDelay.
	MaxDelay time.Duration

	// Jitter is the maximum jitter as a fraction of the base delay.
	// Zero means the default JitterFactor; negative means no jitter.
	Jitter float64

	// RetryIf decides whether an error is worth retrying.
	// A nil RetryIf retries every error.
	RetryIf func(error) bool
}

// Do calls fn up to cfg.MaxAttempts times with exponential backoff between
// attempts. It stops early if the context is cancelled or if cfg.RetryIf
// reports the error as non-retryable, and returns the last error seen.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		return errNoAttempts
	}

	backoff := NewBackoffWithConfig(BackoffConfig{
		Initial: cfg.BaseDelay,
		Max:     cfg.MaxDelay,
		Jitter:  cfg.Jitter,
	})

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		// Stop immediately on non-retryable errors.
		if cfg.RetryIf != nil && !cfg.RetryIf(lastErr) {
			return lastErr
		}

		// Don't sleep after the last attempt.
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		if err := Sleep(ctx, backoff.Next()); err != nil {
			return err
		}
	}
	return lastErr
}

// Sleep waits for the given duration or until the context is done,
// whichever comes first. Returns ctx.Err() if the context was cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
