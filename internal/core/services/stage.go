package services

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var errStageTimeout = errors.New("stage deadline exceeded")

// runStage runs fn with its own deadline derived from parent. fn runs on a
// separate goroutine so a stage that ignores its context still cannot hold
// the request past the deadline; its late result is dropped.
func runStage[T any](parent context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := parent.Err(); err != nil {
		return zero, err
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{v, err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
			return zero, fmt.Errorf("%w after %s: %w", errStageTimeout, timeout, out.err)
		}
		return out.v, out.err
	case <-ctx.Done():
		if parent.Err() != nil {
			return zero, parent.Err()
		}
		return zero, fmt.Errorf("%w after %s", errStageTimeout, timeout)
	}
}
