// Package clock provides the time sources used by reconciliation.
//
// Clock is wall time for waits and timestamps; production code uses Real and
// tests use Fake so convergence waits and retry backoff run instantly.
// Seq is a logical counter used to order reconciliation passes.
package clock

import "time"

// Clock is the subset of time the engine depends on.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
