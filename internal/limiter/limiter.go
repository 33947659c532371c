// Package limiter enforces the global publish throughput cap shared by
// every worker in the pool.
package limiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces publish attempts so the fleet as a whole never exceeds the
// configured number of starts per rolling window.
type Limiter struct {
	rl *rate.Limiter
}

// New builds a limiter allowing limit starts per window. A burst of one
// keeps attempts evenly spaced instead of letting the pool drain the whole
// window's allowance at once.
func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		rl: rate.NewLimiter(rate.Limit(float64(limit)/window.Seconds()), 1),
	}
}

// Wait blocks until the caller may start a publish attempt, or until ctx is
// done. Each granted slot is consumed even if the attempt later fails.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.rl.Wait(ctx)
}

// Allow reports whether a slot is available right now without blocking.
func (l *Limiter) Allow() bool {
	return l.rl.Allow()
}
