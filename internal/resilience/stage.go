// Package resilience provides the failure-containment primitives for the
// capability adapters: per-stage timeout execution and a three-state circuit
// breaker. A stage that times out loses its utterance but never its session;
// a capability that keeps failing is bypassed by its breaker until it
// recovers.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStageTimeout is wrapped into the error returned by [WithTimeout] when fn
// exceeds its budget. Callers match it with errors.Is to classify the failure
// as capability_timeout.
var ErrStageTimeout = errors.New("stage deadline exceeded")

// WithTimeout runs fn with a context bounded by d. When the deadline expires
// first, the returned error wraps [ErrStageTimeout]; the stage goroutine is
// expected to notice ctx and abandon its work.
func WithTimeout(ctx context.Context, d time.Duration, stage string, fn func(ctx context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := fn(ctx)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("resilience: %s: %w", stage, ErrStageTimeout)
	}
	return err
}

// IsTimeout reports whether err represents a stage deadline, either from
// [WithTimeout] or from a provider surfacing context.DeadlineExceeded itself.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrStageTimeout) || errors.Is(err, context.DeadlineExceeded)
}
