package reliability

import (
	"context"
	"fmt"
	"time"
)

// TimeoutError reports that an operation exceeded its deadline.
type TimeoutError struct {
	Label   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %q timed out after %s", e.Label, e.Timeout)
}

type outcome[T any] struct {
	value T
	err   error
}

// WithTimeout races op against the given deadline. If the deadline elapses
// first, a *TimeoutError carrying label is returned and op is abandoned: it
// keeps running and its eventual result is discarded (the result channel is
// buffered, so the goroutine does not leak). True cancellation would require
// a cooperative signal threaded through every underlying call, which the
// wrapped operations do not support.
func WithTimeout[T any](ctx context.Context, timeout time.Duration, label string, op func(context.Context) (T, error)) (T, error) {
	var zero T

	if timeout <= 0 {
		return op(ctx)
	}

	results := make(chan outcome[T], 1)
	go func() {
		value, err := op(ctx)
		results <- outcome[T]{value: value, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-results:
		return result.value, result.err
	case <-timer.C:
		return zero, &TimeoutError{Label: label, Timeout: timeout}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
