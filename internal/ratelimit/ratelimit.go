// Package ratelimit provides the per-integration upload throttle: one
// upload event per minute, a floor for the service's ingestion that the
// upload worker must wait on rather than drop work for.
// Built on golang.org/x/time/rate, the idiomatic token-bucket limiter for
// this shape in the Go ecosystem (an ecosystem import — see DESIGN.md).
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// PerMinute is the default quota: 1 event/minute, burst 1 (no bursting
// beyond the steady-state rate).
const PerMinute = time.Minute

// Limiter gates calls to at most one per period.
type Limiter struct {
	rl *rate.Limiter
}

// New creates a Limiter allowing one event per period.
func New(period time.Duration) *Limiter {
	return &Limiter{rl: rate.NewLimiter(rate.Every(period), 1)}
}

// Wait blocks until the limiter allows another event, or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.rl.Wait(ctx)
}

// Allow reports whether an event is permitted right now, without blocking.
func (l *Limiter) Allow() bool {
	return l.rl.Allow()
}
