package queue_test

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
	"github.com/vrsandeep/repokeep/internal/hosting"
	"github.com/vrsandeep/repokeep/internal/logger"
	"github.com/vrsandeep/repokeep/internal/queue"
)

func newQueue(quota queue.QuotaFunc) *queue.Queue {
	return queue.New(queue.Options{
		MaxConcurrent: 8,
		QuotaDivisor:  3,
		MaxAttempts:   3,
		RetryDelay:    time.Millisecond,
		IdleDelay:     10 * time.Millisecond,
	}, quota, logger.Discard())
}

func fixedQuota(n int) queue.QuotaFunc {
	return func(context.Context) (int, error) { return n, nil }
}

func TestSameRepositoryNeverRunsConcurrently(t *testing.T) {
	q := newQueue(fixedQuota(5000))

	const repos = 4
	var (
		inFlight [repos]atomic.Int32
		overlaps atomic.Int32
		total    atomic.Int32
		mu       sync.Mutex
		order    = map[string][]int{}
	)
	for i := 0; i < 40; i++ {
		repo := i % repos
		id := fmt.Sprintf("repo-%d", repo)
		seq := i
		q.Add(id, queue.OpUpdate, func(context.Context) error {
			if inFlight[repo].Add(1) > 1 {
				overlaps.Add(1)
			}
			time.Sleep(time.Millisecond)
			mu.Lock()
			order[id] = append(order[id], seq)
			mu.Unlock()
			inFlight[repo].Add(-1)
			total.Add(1)
			return nil
		})
	}

	require.NoError(t, q.Execute(context.Background(), 8))
	assert.Equal(t, int32(0), overlaps.Load())
	assert.Equal(t, int32(40), total.Load())
	assert.Equal(t, 0, q.Pending())
	for id, seqs := range order {
		assert.IsIncreasing(t, seqs, "tasks for %s ran out of order", id)
	}
}

func TestConcurrencyIsBounded(t *testing.T) {
	q := newQueue(nil)
	var current, peak atomic.Int32
	for i := 0; i < 20; i++ {
		q.Add(fmt.Sprintf("repo-%d", i), queue.OpRegister, func(context.Context) error {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			current.Add(-1)
			return nil
		})
	}
	require.NoError(t, q.Execute(context.Background(), 3))
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Positive(t, peak.Load())
}

func TestExecuteIsNotReentrant(t *testing.T) {
	q := newQueue(nil)
	started := make(chan struct{})
	release := make(chan struct{})
	q.Add("repo-1", queue.OpInstall, func(context.Context) error {
		close(started)
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- q.Execute(context.Background(), 2) }()
	<-started

	assert.ErrorIs(t, q.Execute(context.Background(), 2), queue.ErrExecutionInProgress)
	assert.ErrorIs(t, q.Drain(context.Background(), 0), queue.ErrExecutionInProgress)
	assert.True(t, q.Running())

	close(release)
	require.NoError(t, <-done)
	assert.False(t, q.Running())
}

func TestTransientErrorsAreRetried(t *testing.T) {
	q := newQueue(nil)
	var attempts atomic.Int32
	q.Add("flaky", queue.OpUpdate, func(context.Context) error {
		if attempts.Add(1) < 3 {
			return &hosting.TransientError{StatusCode: 502, Err: errors.New("bad gateway")}
		}
		return nil
	})
	require.NoError(t, q.Execute(context.Background(), 1))
	assert.Equal(t, int32(3), attempts.Load())
	assert.Empty(t, q.Failures())
}

func TestPermanentFailuresDoNotStopTheBatch(t *testing.T) {
	q := newQueue(nil)
	var transientAttempts, structuralAttempts atomic.Int32
	var succeeded atomic.Bool

	q.Add("down", queue.OpUpdate, func(context.Context) error {
		transientAttempts.Add(1)
		return &hosting.TransientError{StatusCode: 503, Err: errors.New("unavailable")}
	})
	q.Add("broken", queue.OpUpdate, func(context.Context) error {
		structuralAttempts.Add(1)
		return errors.New("invalid manifest")
	})
	q.Add("fine", queue.OpUpdate, func(context.Context) error {
		succeeded.Store(true)
		return nil
	})

	require.NoError(t, q.Execute(context.Background(), 2))
	assert.Equal(t, int32(3), transientAttempts.Load())
	assert.Equal(t, int32(1), structuralAttempts.Load())
	assert.True(t, succeeded.Load())

	failures := q.Failures()
	require.Len(t, failures, 2)
	byRepo := map[string]queue.Failure{}
	for _, f := range failures {
		byRepo[f.RepositoryID] = f
	}
	assert.Equal(t, 3, byRepo["down"].Attempts)
	assert.Equal(t, 1, byRepo["broken"].Attempts)
	assert.EqualError(t, byRepo["broken"].Err, "invalid manifest")
}

func TestClearDropsPendingTasks(t *testing.T) {
	q := newQueue(nil)
	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		q.Add(fmt.Sprintf("repo-%d", i), queue.OpRegister, func(context.Context) error {
			ran.Add(1)
			return nil
		})
	}
	assert.Equal(t, 5, q.Pending())
	assert.Equal(t, 5, q.Clear())
	require.NoError(t, q.Execute(context.Background(), 2))
	assert.Equal(t, int32(0), ran.Load())
}

func TestConcurrencyFromQuota(t *testing.T) {
	tests := []struct {
		quota   int
		divisor int
		want    int
	}{
		{quota: 5000, divisor: 0, want: 8},
		{quota: 12, divisor: 0, want: 4},
		{quota: 12, divisor: 6, want: 2},
		{quota: 2, divisor: 0, want: 0},
	}
	for _, tt := range tests {
		q := newQueue(fixedQuota(tt.quota))
		assert.Equal(t, tt.want, q.Concurrency(context.Background(), tt.divisor), "quota %d divisor %d", tt.quota, tt.divisor)
	}

	failing := newQueue(func(context.Context) (int, error) { return 0, errors.New("rate limit endpoint down") })
	assert.Equal(t, 1, failing.Concurrency(context.Background(), 0))
}

func TestDrainWaitsForQuota(t *testing.T) {
	var calls atomic.Int32
	q := newQueue(func(context.Context) (int, error) {
		if calls.Add(1) == 1 {
			return 0, nil
		}
		return 30, nil
	})
	var ran atomic.Bool
	q.Add("repo-1", queue.OpUpdate, func(context.Context) error {
		ran.Store(true)
		return nil
	})

	require.NoError(t, q.Drain(context.Background(), 0))
	assert.True(t, ran.Load())
	assert.Equal(t, int32(2), calls.Load())
}

func TestCancelStopsLaunchingButFinishesRunningTasks(t *testing.T) {
	q := newQueue(nil)
	ctx, cancel := context.WithCancel(context.Background())
	var finished atomic.Bool
	var taskCtxErr atomic.Value

	q.Add("repo-1", queue.OpInstall, func(taskCtx context.Context) error {
		cancel()
		time.Sleep(5 * time.Millisecond)
		if taskCtx.Err() != nil {
			taskCtxErr.Store(taskCtx.Err())
		}
		finished.Store(true)
		return nil
	})
	q.Add("repo-1", queue.OpUpdate, func(context.Context) error {
		t.Error("task started after cancellation")
		return nil
	})

	err := q.Execute(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, finished.Load())
	assert.Nil(t, taskCtxErr.Load())
	assert.Equal(t, 1, q.Pending())
}
