package provider

import (
	"context"
	"time"
)

// Call runs one provider request for stage. timeout covers both the wait for
// a limiter slot and the request itself. The outcome is recorded in stats and
// any failure is returned as an *Error. fn may return an *Error itself to
// pick the kind.
func Call[T any](ctx context.Context, limiter *Limiter, stats *Stats, stage Stage, timeout time.Duration,
	fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := limiter.Acquire(callCtx); err != nil {
		perr := Classify(stage, err)
		stats.Record(time.Since(start), perr)
		return zero, perr
	}
	defer limiter.Release()

	result, err := fn(callCtx)
	if err != nil {
		perr := Classify(stage, err)
		stats.Record(time.Since(start), perr)
		return zero, perr
	}

	stats.Record(time.Since(start), nil)
	return result, nil
}
