// Package runloop runs a function repeatedly with configurable pacing and
// timeouts, tagging every execution with an id in the log context.
package runloop

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/api3dao/commons-go/pkg/attempt"
	"github.com/api3dao/commons-go/pkg/logger"
)

// ErrStop can be returned by the loop function to end the loop.
var ErrStop = errors.New("stop loop")

// Options configures RunInLoop.
type Options struct {
	Logger *logger.Logger

	// Label is attached to the log context of every execution.
	Label string

	// Frequency is the minimum time between the starts of two executions.
	Frequency time.Duration

	// MinWait is the minimum pause after an execution ends.
	MinWait time.Duration

	// MaxWait caps the pause after an execution. It takes precedence over
	// Frequency and MinWait. Zero means no cap.
	MaxWait time.Duration

	// SoftTimeout logs a warning when an execution takes longer. It
	// defaults to Frequency.
	SoftTimeout time.Duration

	// HardTimeout abandons an execution that takes longer. Zero means none.
	HardTimeout time.Duration

	// Disabled keeps the loop running without calling the function.
	Disabled bool

	// InitialDelay is waited once before the first execution.
	InitialDelay time.Duration
}

// Validate checks that the timeouts and wait bounds are consistent.
func (o Options) Validate() error {
	soft := o.SoftTimeout
	if soft == 0 {
		soft = o.Frequency
	}
	if o.HardTimeout > 0 && o.HardTimeout < soft {
		return errors.New("hardTimeoutMs must not be smaller than softTimeoutMs")
	}
	if o.MinWait > 0 && o.MaxWait > 0 && o.MaxWait < o.MinWait {
		return errors.New("maxWaitTimeMs must not be smaller than minWaitTimeMs")
	}
	return nil
}

// RunInLoop calls fn until it returns ErrStop or ctx is done. Other errors
// are logged and the loop continues. It returns nil after ErrStop and the
// context error after cancellation.
func RunInLoop(ctx context.Context, fn func(ctx context.Context) error, opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	softTimeout := opts.SoftTimeout
	if softTimeout == 0 {
		softTimeout = opts.Frequency
	}

	if err := sleep(ctx, opts.InitialDelay); err != nil {
		return err
	}

	for {
		start := time.Now()

		if opts.Disabled {
			log.Info(ctx, "Loop execution is disabled.")
		} else {
			fields := logger.Fields{"executionId": executionID()}
			if opts.Label != "" {
				fields["label"] = opts.Label
			}
			err := log.RunWithContext(ctx, fields, func(ctx context.Context) error {
				log.Info(ctx, "Starting execution")
				result := attempt.Go(ctx, func(ctx context.Context) (struct{}, error) {
					return struct{}{}, fn(ctx)
				}, attempt.Options{TotalTimeout: opts.HardTimeout})

				stop := errors.Is(result.Err, ErrStop)
				if result.Err != nil && !stop {
					log.Error(ctx, "Unexpected runInLoop error", result.Err)
				}

				elapsed := time.Since(start)
				if elapsed >= softTimeout {
					log.Warn(ctx, "Execution took longer than the interval", logger.Fields{"executionTimeMs": elapsed.Milliseconds()})
				} else {
					log.Info(ctx, "Execution finished", logger.Fields{"executionTimeMs": elapsed.Milliseconds()})
				}

				if stop {
					return ErrStop
				}
				return nil
			})
			if errors.Is(err, ErrStop) {
				return nil
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sleep(ctx, waitTime(opts, time.Since(start))); err != nil {
			return err
		}
	}
}

func waitTime(opts Options, elapsed time.Duration) time.Duration {
	remaining := opts.Frequency - elapsed
	if remaining < 0 {
		remaining = 0
	}
	wait := remaining
	if opts.MinWait > wait {
		wait = opts.MinWait
	}
	if opts.MaxWait > 0 && wait > opts.MaxWait {
		wait = opts.MaxWait
	}
	return wait
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// executionID returns a random 32 byte hex string.
func executionID() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return "0x" + hex.EncodeToString(buf)
}
