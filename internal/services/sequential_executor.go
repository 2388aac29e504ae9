// internal/services/sequential_executor.go
package services

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SequentialExecutor runs submitted calls one at a time, with at least
// interval between the start of two calls. It is shared by every caller of a
// rate-limited vendor.
type SequentialExecutor struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewSequentialExecutor returns an executor; interval <= 0 disables pacing.
func NewSequentialExecutor(interval time.Duration) *SequentialExecutor {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &SequentialExecutor{limiter: rate.NewLimiter(limit, 1)}
}

// Do waits for its turn and runs fn. It returns ctx's error without running
// fn when ctx ends first.
func (e *SequentialExecutor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return fn(ctx)
}
