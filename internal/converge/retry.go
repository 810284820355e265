package converge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/juzibot/wechaty/internal/clock"
)

// RetryPolicy retries a call with capped exponential backoff: the wait before
// attempt n+1 is InitialDelay * 2^(n-1), never more than MaxDelay.
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Clock        clock.Clock
	Logger       *slog.Logger
}

// DefaultRetryPolicy returns 3 attempts with backoff from 1s up to 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:     3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
	}
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	wait := p.InitialDelay
	for i := 1; i < attempt; i++ {
		wait *= 2
		if p.MaxDelay > 0 && wait >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && wait > p.MaxDelay {
		return p.MaxDelay
	}
	return wait
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, the attempts are spent, or ctx is done.
// It returns the last error from fn.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.Real()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil || attempt == attempts {
			break
		}

		wait := p.Backoff(attempt)
		if p.Logger != nil {
			p.Logger.WarnContext(ctx, "retrying driver call",
				"attempt", attempt,
				"max_attempts", attempts,
				"backoff_ms", wait.Milliseconds(),
				"error", err)
		}
		select {
		case <-ctx.Done():
			return lastErr
		case <-clk.After(wait):
		}
	}
	return lastErr
}
