package jobs_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vrsandeep/repokeep/internal/jobs"
	"github.com/vrsandeep/repokeep/internal/logger"
)

func TestManager_NewManager(t *testing.T) {
	mgr := jobs.NewManager(logger.Discard())
	assert.NotNil(t, mgr)
	assert.Empty(t, mgr.GetStatus())
}

func TestManager_RegisterAndGetStatus(t *testing.T) {
	mgr := jobs.NewManager(logger.Discard())
	mgr.Register("jobB", "Job B", func(context.Context) error { return nil })
	mgr.Register("jobA", "Job A", func(context.Context) error { return nil })
	statuses := mgr.GetStatus()
	require.Len(t, statuses, 2)
	assert.Equal(t, "jobA", statuses[0].ID)
	assert.Equal(t, "idle", statuses[1].Status)
}

func TestManager_RunJob_SuccessAndStatus(t *testing.T) {
	mgr := jobs.NewManager(logger.Discard())
	var called bool
	mgr.Register("jobX", "Job X", func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, mgr.RunJob(context.Background(), "jobX"))
	mgr.Wait()
	assert.True(t, called)
	statuses := mgr.GetStatus()
	assert.Equal(t, "success", statuses[0].Status)
	assert.False(t, statuses[0].EndTime.IsZero())
}

func TestManager_RunJob_Error(t *testing.T) {
	mgr := jobs.NewManager(logger.Discard())
	mgr.Register("jobE", "Job E", func(context.Context) error { return errors.New("quota exhausted") })
	require.NoError(t, mgr.RunJob(context.Background(), "jobE"))
	mgr.Wait()
	statuses := mgr.GetStatus()
	assert.Equal(t, "failed", statuses[0].Status)
	assert.Equal(t, "quota exhausted", statuses[0].Message)
}

func TestManager_RunJob_AlreadyRunning(t *testing.T) {
	mgr := jobs.NewManager(logger.Discard())
	block := make(chan struct{})
	mgr.Register("jobY", "Job Y", func(context.Context) error {
		<-block
		return nil
	})
	require.NoError(t, mgr.RunJob(context.Background(), "jobY"))
	assert.ErrorIs(t, mgr.RunJob(context.Background(), "jobY"), jobs.ErrJobRunning)
	close(block)
	mgr.Wait()
}

func TestManager_RunJob_NotFound(t *testing.T) {
	mgr := jobs.NewManager(logger.Discard())
	assert.ErrorIs(t, mgr.RunJob(context.Background(), "nojob"), jobs.ErrJobNotFound)
}

func TestManager_RunJob_Panic(t *testing.T) {
	mgr := jobs.NewManager(logger.Discard())
	mgr.Register("panicJob", "Panic Job", func(context.Context) error { panic("fail") })
	require.NoError(t, mgr.RunJob(context.Background(), "panicJob"))
	mgr.Wait()
	statuses := mgr.GetStatus()
	assert.Equal(t, "failed", statuses[0].Status)
	assert.Contains(t, statuses[0].Message, "panicked")
}

func TestManager_Concurrency(t *testing.T) {
	mgr := jobs.NewManager(logger.Discard())
	var mu sync.Mutex
	var count int
	release := make(chan struct{})
	mgr.Register("jobC", "Job C", func(context.Context) error {
		mu.Lock()
		count++
		mu.Unlock()
		<-release
		return nil
	})
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = mgr.RunJob(context.Background(), "jobC")
		}()
	}
	wg.Wait()
	close(release)
	mgr.Wait()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count, "job should only run once concurrently")
}
