package provider

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter caps the number of provider calls in flight across all sessions
type Limiter struct {
	sem    *semaphore.Weighted
	max    int
	active atomic.Int64
}

// NewLimiter creates a limiter allowing max concurrent calls (minimum 1)
func NewLimiter(max int) *Limiter {
	if max <= 0 {
		max = 1
	}
	return &Limiter{
		sem: semaphore.NewWeighted(int64(max)),
		max: max,
	}
}

// Acquire blocks until a slot is free or ctx is done
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.active.Add(1)
	return nil
}

// Release frees a slot taken by Acquire
func (l *Limiter) Release() {
	l.active.Add(-1)
	l.sem.Release(1)
}

// Active returns the number of calls currently holding a slot
func (l *Limiter) Active() int {
	return int(l.active.Load())
}

// Max returns the configured concurrency cap
func (l *Limiter) Max() int {
	return l.max
}
