// Package retry runs an operation with exponential backoff.
//
//	err := retry.Do(ctx, retry.Config{MaxAttempts: 5}, func() error {
//	    return broker.Connect()
//	})
//
// Wrap an error with Permanent to stop retrying immediately.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config controls the backoff schedule.
type Config struct {
	// MaxAttempts is the total number of attempts including the first.
	// Zero means 1. A negative value retries until ctx is done.
	MaxAttempts int
	// InitialDelay is the wait before the second attempt; each further wait
	// doubles up to MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Name labels the operation in debug logs.
	Name string
}

// DefaultConfig suits connection setup against a broker or homeserver that
// may still be starting.
var DefaultConfig = Config{
	MaxAttempts:  5,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, the attempt
// budget is spent, or ctx is done. The last error from fn is returned,
// joined with ctx.Err() when cancellation ended the loop.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultConfig.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig.MaxDelay
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; cfg.MaxAttempts < 0 || attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}

		if cfg.MaxAttempts > 0 && attempt == cfg.MaxAttempts {
			break
		}

		slog.Debug("retry: attempt failed",
			"op", cfg.Name, "attempt", attempt, "err", lastErr, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}

		delay = min(delay*2, cfg.MaxDelay)
	}

	return lastErr
}
