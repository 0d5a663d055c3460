package attempt

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_Success(t *testing.T) {
	res := Go(context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	}, Options{TotalTimeout: time.Second})

	require.True(t, res.Success())
	assert.Equal(t, 42, res.Data)
}

func TestGo_PreservesOriginalError(t *testing.T) {
	original := errors.New("boom")

	res := Go(context.Background(), func(ctx context.Context) (string, error) {
		return "", original
	}, Options{})

	require.False(t, res.Success())
	assert.Same(t, original, res.Err)
}

func TestGo_Retries(t *testing.T) {
	var calls atomic.Int32

	res := Go(context.Background(), func(ctx context.Context) (int32, error) {
		n := calls.Add(1)
		if n < 3 {
			return 0, errors.New("not yet")
		}
		return n, nil
	}, Options{Retries: 2, Delay: time.Millisecond})

	require.True(t, res.Success())
	assert.Equal(t, int32(3), res.Data)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGo_NoRetriesByDefault(t *testing.T) {
	var calls atomic.Int32

	res := Go(context.Background(), func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, errors.New("fail")
	}, Options{})

	require.False(t, res.Success())
	assert.Equal(t, int32(1), calls.Load())
}

func TestGo_TotalTimeout(t *testing.T) {
	start := time.Now()

	res := Go(context.Background(), func(ctx context.Context) (int, error) {
		time.Sleep(time.Second)
		return 1, nil
	}, Options{TotalTimeout: 50 * time.Millisecond})

	require.False(t, res.Success())
	assert.ErrorIs(t, res.Err, ErrTimeout)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestGo_TotalTimeoutIsNotWrapped(t *testing.T) {
	for _, retries := range []int{0, 2} {
		res := Go(context.Background(), func(ctx context.Context) (int, error) {
			time.Sleep(500 * time.Millisecond)
			return 1, nil
		}, Options{Retries: retries, TotalTimeout: 50 * time.Millisecond})

		require.False(t, res.Success(), "retries=%d", retries)
		assert.Equal(t, ErrTimeout, res.Err, "retries=%d", retries)
	}
}

func TestGo_CancelledContextIsNotWrapped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Go(ctx, func(ctx context.Context) (int, error) {
		return 1, nil
	}, Options{})

	require.False(t, res.Success())
	assert.Equal(t, context.Canceled, res.Err)
}
