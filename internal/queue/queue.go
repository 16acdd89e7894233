// Package queue runs deferred repository operations with bounded,
// quota-derived concurrency and per-repository serialization.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/vrsandeep/repokeep/internal/hosting"
	"github.com/vrsandeep/repokeep/internal/logger"
)

// ErrExecutionInProgress is returned when a drain is started while another
// one is still running on the same queue.
var ErrExecutionInProgress = errors.New("queue execution already in progress")

type Operation string

const (
	OpRegister  Operation = "register"
	OpUpdate    Operation = "update"
	OpInstall   Operation = "install"
	OpUninstall Operation = "uninstall"
)

// Task is one queued operation bound to a repository.
type Task struct {
	ID           string
	RepositoryID string
	Operation    Operation
	Attempts     int
	run          func(ctx context.Context) error
}

// Failure records a task that did not succeed within its retry budget.
type Failure struct {
	RepositoryID string
	Operation    Operation
	Attempts     int
	Err          error
}

// QuotaFunc reports the remaining remote request budget.
type QuotaFunc func(ctx context.Context) (int, error)

type Options struct {
	// MaxConcurrent caps the quota derived concurrency.
	MaxConcurrent int
	// QuotaDivisor turns the remaining quota into a worker count.
	QuotaDivisor int
	MaxAttempts  int
	RetryDelay   time.Duration
	// IdleDelay is how long a drain waits when the quota is exhausted.
	IdleDelay time.Duration
	// Retryable decides whether a failed attempt is retried. Defaults to
	// hosting.IsTransient.
	Retryable func(error) bool
}

func (o *Options) applyDefaults() {
	if o.MaxConcurrent < 1 {
		o.MaxConcurrent = 10
	}
	if o.QuotaDivisor < 1 {
		o.QuotaDivisor = 3
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 3
	}
	if o.IdleDelay <= 0 {
		o.IdleDelay = time.Minute
	}
	if o.Retryable == nil {
		o.Retryable = hosting.IsTransient
	}
}

// Queue holds pending tasks. Tasks for different repositories run in
// parallel; tasks for the same repository run one at a time in the order
// they were added.
type Queue struct {
	mu       sync.Mutex
	pending  []*Task
	active   map[string]bool
	running  bool
	failures []Failure

	opts  Options
	quota QuotaFunc
	log   *log.Logger
}

func New(opts Options, quota QuotaFunc, l *log.Logger) *Queue {
	opts.applyDefaults()
	return &Queue{
		active: make(map[string]bool),
		opts:   opts,
		quota:  quota,
		log:    logger.Component(l, "queue"),
	}
}

// Add enqueues an operation for a repository.
func (q *Queue) Add(repositoryID string, op Operation, run func(ctx context.Context) error) *Task {
	t := &Task{ID: uuid.NewString(), RepositoryID: repositoryID, Operation: op, run: run}
	q.mu.Lock()
	q.pending = append(q.pending, t)
	q.mu.Unlock()
	return t
}

// Clear drops every task that has not started yet and returns how many.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	q.pending = nil
	return n
}

func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Failures returns the tasks that failed permanently during the last
// execution.
func (q *Queue) Failures() []Failure {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Failure(nil), q.failures...)
}

// Execute runs pending tasks with at most maxConcurrent in flight until the
// queue is empty. Cancelling ctx stops new tasks from starting; tasks
// already running finish first.
func (q *Queue) Execute(ctx context.Context, maxConcurrent int) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return ErrExecutionInProgress
	}
	q.running = true
	q.failures = nil
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
	}()

	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	start := time.Now()
	q.log.Debug("Queue execution started", "pending", q.Pending(), "workers", maxConcurrent)

	var wg sync.WaitGroup
	slots := make(chan struct{}, maxConcurrent)
	wake := make(chan struct{}, 1)
	taskCtx := context.WithoutCancel(ctx)

	err := func() error {
		for {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			if err := ctx.Err(); err != nil {
				<-slots
				return err
			}

			q.mu.Lock()
			task := q.next()
			idle := len(q.pending) == 0 && len(q.active) == 0
			q.mu.Unlock()

			if task == nil {
				<-slots
				if idle {
					return nil
				}
				select {
				case <-wake:
				case <-ctx.Done():
					return ctx.Err()
				}
				continue
			}

			wg.Add(1)
			go func(t *Task) {
				defer wg.Done()
				q.run(ctx, taskCtx, t)
				q.mu.Lock()
				delete(q.active, t.RepositoryID)
				q.mu.Unlock()
				<-slots
				select {
				case wake <- struct{}{}:
				default:
				}
			}(task)
		}
	}()
	wg.Wait()

	q.log.Info("Queue execution finished", "duration", time.Since(start).Round(time.Millisecond),
		"failed", len(q.Failures()), "pending", q.Pending())
	return err
}

// next pops the first pending task whose repository is not busy. Callers
// hold q.mu.
func (q *Queue) next() *Task {
	for i, t := range q.pending {
		if q.active[t.RepositoryID] {
			continue
		}
		q.pending = append(q.pending[:i:i], q.pending[i+1:]...)
		q.active[t.RepositoryID] = true
		return t
	}
	return nil
}

// run retries transient failures with a fixed delay. The retry wait
// observes ctx; the task itself runs on taskCtx.
func (q *Queue) run(ctx, taskCtx context.Context, t *Task) {
	for {
		t.Attempts++
		err := t.run(taskCtx)
		if err == nil {
			return
		}
		if !q.opts.Retryable(err) || t.Attempts >= q.opts.MaxAttempts {
			q.fail(t, err)
			return
		}
		q.log.Warn("Task failed, retrying", "repository", t.RepositoryID, "operation", t.Operation,
			"attempt", t.Attempts, "err", err)
		select {
		case <-time.After(q.opts.RetryDelay):
		case <-ctx.Done():
			q.fail(t, err)
			return
		}
	}
}

func (q *Queue) fail(t *Task, err error) {
	q.log.Error("Task failed", "repository", t.RepositoryID, "operation", t.Operation,
		"attempts", t.Attempts, "err", err)
	q.mu.Lock()
	q.failures = append(q.failures, Failure{
		RepositoryID: t.RepositoryID,
		Operation:    t.Operation,
		Attempts:     t.Attempts,
		Err:          err,
	})
	q.mu.Unlock()
}

// Concurrency derives the worker count from the remaining quota, capped at
// MaxConcurrent. A divisor below 1 uses the configured one.
func (q *Queue) Concurrency(ctx context.Context, divisor int) int {
	if q.quota == nil {
		return q.opts.MaxConcurrent
	}
	if divisor < 1 {
		divisor = q.opts.QuotaDivisor
	}
	remaining, err := q.quota(ctx)
	if err != nil {
		q.log.Warn("Could not read remaining quota, running with one worker", "err", err)
		return 1
	}
	return min(remaining/divisor, q.opts.MaxConcurrent)
}

// Drain executes the queue until nothing is pending, recomputing the
// concurrency before each pass. With no quota left it waits IdleDelay and
// checks again.
func (q *Queue) Drain(ctx context.Context, divisor int) error {
	if q.Running() {
		return ErrExecutionInProgress
	}
	for q.Pending() > 0 {
		n := q.Concurrency(ctx, divisor)
		if n < 1 {
			q.log.Warn("Request quota exhausted, waiting", "delay", q.opts.IdleDelay)
			select {
			case <-time.After(q.opts.IdleDelay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := q.Execute(ctx, n); err != nil {
			return err
		}
	}
	return nil
}
