package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nojaja/gitvfs/retry"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.DefaultPolicy(), func(ctx context.Context) retry.Result {
		calls++
		return retry.Result{}
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestDoStopsOnTerminalError(t *testing.T) {
	calls := 0
	sentinel := errors.New("terminal")
	err := retry.Do(context.Background(), retry.DefaultPolicy(), func(ctx context.Context) retry.Result {
		calls++
		return retry.Result{Err: sentinel, Retryable: false}
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, calls)
}

func TestDoExhaustsRetriesAndReturnsLastError(t *testing.T) {
	policy := retry.Policy{Base: time.Millisecond, Cap: 5 * time.Millisecond, MaxRetries: 2, JitterPct: 0}
	calls := 0
	sentinel := errors.New("still failing")
	err := retry.Do(context.Background(), policy, func(ctx context.Context) retry.Result {
		calls++
		return retry.Result{Err: sentinel, Retryable: true}
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 3, calls) // initial attempt + 2 retries
}

func TestDoRecoversAfterTransientFailure(t *testing.T) {
	policy := retry.Policy{Base: time.Millisecond, Cap: 5 * time.Millisecond, MaxRetries: 5, JitterPct: 0}
	calls := 0
	err := retry.Do(context.Background(), policy, func(ctx context.Context) retry.Result {
		calls++
		if calls < 3 {
			return retry.Result{Err: errors.New("transient"), Retryable: true}
		}
		return retry.Result{}
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := retry.Policy{Base: time.Second, Cap: time.Second, MaxRetries: 3, JitterPct: 0}
	err := retry.Do(ctx, policy, func(ctx context.Context) retry.Result {
		return retry.Result{Err: errors.New("transient"), Retryable: true}
	})
	require.ErrorIs(t, err, context.Canceled)
}
