// Package converge waits for a lagging backend to reflect a mutation it has
// already acknowledged, and retries failing driver calls with backoff.
package converge

import (
	"context"
	"time"

	"github.com/juzibot/wechaty/internal/clock"
)

// Predicate reports whether the backend has converged.
type Predicate func(ctx context.Context) bool

// Checker polls a predicate on a clock.
type Checker struct {
	Clock clock.Clock
}

// NewChecker returns a Checker on clk, or on the real clock when clk is nil.
func NewChecker(clk clock.Clock) *Checker {
	if clk == nil {
		clk = clock.Real()
	}
	return &Checker{Clock: clk}
}

// Await evaluates pred immediately and then once per interval until it
// returns true or maxAttempts evaluations have happened. The first
// evaluation is attempt 1; a maxAttempts below 1 is treated as 1.
//
// Await never fails. Giving up, including on context cancellation, is
// signalled by returning false.
func (c *Checker) Await(ctx context.Context, interval time.Duration, maxAttempts int, pred Predicate) bool {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 1; ; attempt++ {
		if pred(ctx) {
			return true
		}
		if attempt >= maxAttempts {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-c.Clock.After(interval):
		}
	}
}

// AwaitConvergence is Await on the real clock.
func AwaitConvergence(ctx context.Context, interval time.Duration, maxAttempts int, pred Predicate) bool {
	return NewChecker(nil).Await(ctx, interval, maxAttempts, pred)
}
