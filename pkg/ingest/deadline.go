package ingest

import (
	"context"
	"fmt"
	"time"
)

type callResult[T any] struct {
	value T
	err   error
}

// RunWithDeadline runs fn on its own goroutine and waits at most timeout
// for it to return. On expiry it returns ErrTimeoutExceeded without
// waiting for fn; fn keeps running until it returns on its own. The
// context handed to fn carries the deadline so cooperative callees can
// stop early. A non-positive timeout waits only on ctx.
func RunWithDeadline[T any](
	ctx context.Context,
	timeout time.Duration,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	var zero T

	var (
		callCtx context.Context
		cancel  context.CancelFunc
		expired <-chan time.Time
	)

	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		expired = timer.C
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}

	defer cancel()

	// Buffered so an abandoned call can still deliver and exit.
	done := make(chan callResult[T], 1)

	go func() {
		v, err := fn(callCtx)
		done <- callResult[T]{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-expired:
		return zero, fmt.Errorf("%w after %s", ErrTimeoutExceeded, timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
