// Package attempt runs an operation with a bounded number of retries and a
// total time budget, reporting the outcome as a value instead of an error.
package attempt

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrTimeout is reported when the total time budget is exhausted.
var ErrTimeout = errors.New("Operation timed out")

// Options bounds an operation.
type Options struct {
	// Retries is the number of additional attempts after the first failure.
	Retries int

	// TotalTimeout caps all attempts together. Zero means no cap.
	TotalTimeout time.Duration

	// Delay is the pause between attempts.
	Delay time.Duration
}

// Result is the outcome of Go. Err is nil on success.
type Result[T any] struct {
	Data T
	Err  error
}

// Success reports whether the operation eventually succeeded.
func (r Result[T]) Success() bool {
	return r.Err == nil
}

// Go runs fn until it succeeds, the retries are spent or the total timeout
// elapses. The error of the last attempt is returned unchanged.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error), opts Options) Result[T] {
	if opts.TotalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, opts.TotalTimeout, ErrTimeout)
		defer cancel()
	}

	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}

	var policy backoff.BackOff = &backoff.ZeroBackOff{}
	if opts.Delay > 0 {
		policy = backoff.NewConstantBackOff(opts.Delay)
	}

	retryOpts := []backoff.RetryOption{
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(retries + 1)),
	}
	if opts.TotalTimeout > 0 {
		retryOpts = append(retryOpts, backoff.WithMaxElapsedTime(opts.TotalTimeout))
	}

	data, err := backoff.Retry(ctx, func() (T, error) {
		return race(ctx, fn)
	}, retryOpts...)

	// Retry stops on its try limit before unwrapping permanent errors.
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return Result[T]{Data: data, Err: err}
}

// race runs fn and gives up as soon as ctx is done, even if fn ignores ctx.
func race[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	type outcome struct {
		data T
		err  error
	}

	var zero T
	if err := context.Cause(ctx); err != nil {
		return zero, backoff.Permanent(err)
	}

	done := make(chan outcome, 1)
	go func() {
		data, err := fn(ctx)
		done <- outcome{data: data, err: err}
	}()

	select {
	case o := <-done:
		return o.data, o.err
	case <-ctx.Done():
		return zero, backoff.Permanent(context.Cause(ctx))
	}
}
