package runloop

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/api3dao/commons-go/pkg/logger"
)

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr string
	}{
		{"defaults", Options{}, ""},
		{"hard below soft", Options{SoftTimeout: time.Second, HardTimeout: time.Millisecond}, "hardTimeoutMs must not be smaller than softTimeoutMs"},
		{"hard below frequency", Options{Frequency: time.Second, HardTimeout: time.Millisecond}, "hardTimeoutMs must not be smaller than softTimeoutMs"},
		{"max below min", Options{MinWait: time.Second, MaxWait: time.Millisecond}, "maxWaitTimeMs must not be smaller than minWaitTimeMs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestRunInLoop_StopsOnErrStop(t *testing.T) {
	var calls atomic.Int32
	err := RunInLoop(context.Background(), func(ctx context.Context) error {
		if calls.Add(1) == 3 {
			return ErrStop
		}
		return nil
	}, Options{})

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRunInLoop_ContinuesAfterErrors(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.New(logger.Config{Enabled: true, Format: logger.FormatJSON, MinLevel: logger.LevelInfo, Output: &buf})
	require.NoError(t, err)

	var calls atomic.Int32
	err = RunInLoop(context.Background(), func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("flaky")
		}
		return ErrStop
	}, Options{Logger: log, Label: "updater"})

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "Unexpected runInLoop error"))
	assert.Contains(t, out, `"label":"updater"`)
	assert.Contains(t, out, `"executionId":"0x`)
}

func TestRunInLoop_Frequency(t *testing.T) {
	var calls atomic.Int32
	start := time.Now()
	err := RunInLoop(context.Background(), func(ctx context.Context) error {
		if calls.Add(1) == 3 {
			return ErrStop
		}
		return nil
	}, Options{Frequency: 30 * time.Millisecond})

	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestRunInLoop_HardTimeout(t *testing.T) {
	var calls atomic.Int32
	err := RunInLoop(context.Background(), func(ctx context.Context) error {
		if calls.Add(1) == 2 {
			return ErrStop
		}
		time.Sleep(time.Second)
		return nil
	}, Options{HardTimeout: 30 * time.Millisecond})

	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRunInLoop_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := RunInLoop(ctx, func(ctx context.Context) error { return nil }, Options{MinWait: 10 * time.Millisecond})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunInLoop_Disabled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	var calls atomic.Int32
	err := RunInLoop(ctx, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, Options{Disabled: true, MinWait: 5 * time.Millisecond})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, calls.Load())
}

func TestRunInLoop_InvalidOptions(t *testing.T) {
	err := RunInLoop(context.Background(), func(ctx context.Context) error { return ErrStop }, Options{MinWait: time.Second, MaxWait: time.Millisecond})
	assert.Error(t, err)
}

func TestWaitTime(t *testing.T) {
	assert.Equal(t, 70*time.Millisecond, waitTime(Options{Frequency: 100 * time.Millisecond}, 30*time.Millisecond))
	assert.Equal(t, 50*time.Millisecond, waitTime(Options{Frequency: 10 * time.Millisecond, MinWait: 50 * time.Millisecond}, 30*time.Millisecond))
	assert.Equal(t, 20*time.Millisecond, waitTime(Options{Frequency: 100 * time.Millisecond, MaxWait: 20 * time.Millisecond}, 0))
	assert.Zero(t, waitTime(Options{Frequency: 10 * time.Millisecond}, 30*time.Millisecond))
}
