package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leap-ielts/leap-engagement/internal/domain/goal"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
)

func fastRunner(concurrency, attempts int) *Runner {
	return NewRunner(Config{Concurrency: concurrency, Attempts: attempts, Backoff: time.Millisecond}, nil)
}

func TestRun_AllSucceed(t *testing.T) {
	r := fastRunner(4, 3)

	var seen sync.Map
	keys := []string{"a", "b", "c", "d", "e"}
	report, err := r.Run(context.Background(), "noop", keys, func(_ context.Context, key string) error {
		seen.Store(key, true)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 5, report.Succeeded)
	assert.Zero(t, report.Failed())
	assert.NoError(t, report.Err())
	for _, k := range keys {
		_, ok := seen.Load(k)
		assert.True(t, ok, k)
	}
}

func TestRun_FailureDoesNotAbortBatch(t *testing.T) {
	r := fastRunner(2, 3)

	var calls sync.Map
	report, err := r.Run(context.Background(), "mixed", []string{"ok1", "bad", "ok2"}, func(_ context.Context, key string) error {
		n, _ := calls.LoadOrStore(key, new(int32))
		atomic.AddInt32(n.(*int32), 1)
		if key == "bad" {
			return goal.ErrNoEligibleActivity
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "bad", report.Failures[0].Key)
	assert.True(t, report.Failures[0].Permanent)
	assert.ErrorIs(t, report.Err(), shared.ErrNoEligibleActivity)

	n, _ := calls.Load("bad")
	assert.Equal(t, int32(1), atomic.LoadInt32(n.(*int32)), "permanent errors are not retried")
}

func TestRun_TransientErrorsAreRetried(t *testing.T) {
	r := fastRunner(1, 3)

	var attempts int32
	report, err := r.Run(context.Background(), "flaky", []string{"u1"}, func(context.Context, string) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return fmt.Errorf("write: %w", shared.ErrServiceUnavailable)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestRun_GivesUpAfterAttempts(t *testing.T) {
	r := fastRunner(1, 2)

	var attempts int32
	report, _ := r.Run(context.Background(), "down", []string{"u1"}, func(context.Context, string) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("connection reset")
	})

	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
	require.Len(t, report.Failures, 1)
	assert.False(t, report.Failures[0].Permanent)
}

func TestRun_RespectsConcurrencyLimit(t *testing.T) {
	r := fastRunner(3, 1)

	var active, peak int32
	keys := make([]string, 20)
	for i := range keys {
		keys[i] = fmt.Sprintf("u%02d", i)
	}
	_, err := r.Run(context.Background(), "limit", keys, func(context.Context, string) error {
		cur := atomic.AddInt32(&active, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return nil
	})

	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestRun_CancelledContext(t *testing.T) {
	r := fastRunner(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, "cancelled", []string{"a", "b"}, func(context.Context, string) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
