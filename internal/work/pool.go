// Package work provides the shared bounded worker pool that all model
// invocations run on. The pool is a counting semaphore over the configured
// parallelism: callers run their function inline under a slot, so per-caller
// ordering is preserved while global CPU use stays bounded.
package work

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of concurrently executing model calls.
// Safe for concurrent use.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// New creates a pool with the given parallelism. size <= 0 selects
// runtime.NumCPU().
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: size,
	}
}

// Size returns the pool's parallelism.
func (p *Pool) Size() int {
	return p.size
}

// Do runs fn inline under a pool slot, waiting for one if the pool is
// saturated. Returns the context error if ctx is cancelled before a slot
// frees; fn's own outcome travels through its closure.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("work: acquire slot: %w", err)
	}
	defer p.sem.Release(1)
	fn()
	return nil
}

// TryDo runs fn inline only if a slot is free right now and reports whether
// it ran. Used for work that is droppable under load, like partial
// transcriptions.
func (p *Pool) TryDo(fn func()) bool {
	if !p.sem.TryAcquire(1) {
		return false
	}
	defer p.sem.Release(1)
	fn()
	return true
}
