// Package task runs work under a time budget that nested tasks inherit
// through the context. A failed attempt is retried while budget remains.
package task

import (
	"context"
	"errors"
	"time"

	"github.com/api3dao/commons-go/pkg/attempt"
	"github.com/api3dao/commons-go/pkg/logger"
)

var (
	ErrRootTimeout = errors.New("Root task must have a timeout")
	ErrNoTimeLeft  = errors.New("No time left for task")
)

// Options configures Run.
type Options struct {
	Name string

	// Timeout is required for a root task. A nested task uses the smaller of
	// Timeout and what is left of its parent's budget.
	Timeout time.Duration

	Logger *logger.Logger
}

// budget is the deadline of the innermost running task.
type budget struct {
	deadline time.Time
}

type contextKey struct{}

func budgetFrom(ctx context.Context) (budget, bool) {
	b, ok := ctx.Value(contextKey{}).(budget)
	return b, ok
}

// Remaining returns the time left for the task running in ctx.
func Remaining(ctx context.Context) (time.Duration, bool) {
	b, ok := budgetFrom(ctx)
	if !ok {
		return 0, false
	}
	left := time.Until(b.deadline)
	if left < 0 {
		left = 0
	}
	return left, true
}

// Run calls fn until it succeeds or the task budget is spent. The error of
// the last failed attempt is joined with ErrNoTimeLeft.
func Run[T any](ctx context.Context, fn func(ctx context.Context) (T, error), opts Options) (T, error) {
	var zero T
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	name := opts.Name
	if name == "" {
		name = "unknown"
	}

	parent, nested := budgetFrom(ctx)
	if !nested && opts.Timeout <= 0 {
		return zero, ErrRootTimeout
	}

	deadline := time.Now().Add(opts.Timeout)
	if nested && (opts.Timeout <= 0 || parent.deadline.Before(deadline)) {
		deadline = parent.deadline
	}

	var lastErr error
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return zero, errors.Join(ErrNoTimeLeft, lastErr)
		}

		log.Info(ctx, "Executing task", logger.Fields{"task": name, "timeoutMs": left.Milliseconds()})
		taskCtx := context.WithValue(ctx, contextKey{}, budget{deadline: deadline})
		result := attempt.Go(taskCtx, fn, attempt.Options{TotalTimeout: left})
		if result.Success() {
			return result.Data, nil
		}
		lastErr = result.Err
		if err := ctx.Err(); err != nil {
			return zero, errors.Join(err, lastErr)
		}
		log.Warn(ctx, "Task attempt failed", logger.Fields{"task": name, "error": lastErr.Error()})
	}
}
