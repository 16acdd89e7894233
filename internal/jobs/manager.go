package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/vrsandeep/repokeep/internal/logger"
)

var (
	// ErrJobRunning is returned when any job is already running.
	ErrJobRunning  = errors.New("a job is already running")
	ErrJobNotFound = errors.New("job not found")
)

// Task is the body of a job.
type Task func(ctx context.Context) error

type JobStatus struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"` // "idle", "running", "success", "failed"
	Message   string    `json:"message"`
	StartTime time.Time `json:"start_time,omitzero"`
	EndTime   time.Time `json:"end_time,omitzero"`
}

type job struct {
	name string
	task Task
}

// JobManager runs named jobs one at a time in the background.
type JobManager struct {
	mu      sync.Mutex
	jobs    map[string]job
	status  map[string]*JobStatus
	running bool
	done    chan struct{}
	log     *log.Logger
}

func NewManager(l *log.Logger) *JobManager {
	return &JobManager{
		jobs:   make(map[string]job),
		status: make(map[string]*JobStatus),
		log:    logger.Component(l, "jobs"),
	}
}

func (jm *JobManager) Register(id, name string, task Task) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.jobs[id] = job{name: name, task: task}
	jm.status[id] = &JobStatus{ID: id, Name: name, Status: "idle"}
}

// RunJob starts a job in the background. The job keeps running after ctx
// is cancelled only until its task observes the cancellation.
func (jm *JobManager) RunJob(ctx context.Context, id string) error {
	jm.mu.Lock()
	if jm.running {
		jm.mu.Unlock()
		return ErrJobRunning
	}
	j, ok := jm.jobs[id]
	if !ok {
		jm.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	jm.running = true
	jm.done = make(chan struct{})
	status := jm.status[id]
	status.Status = "running"
	status.StartTime = time.Now()
	status.EndTime = time.Time{}
	status.Message = "Job started..."
	done := jm.done
	jm.mu.Unlock()

	jm.log.Info("Starting job", "job", id)
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
			}
			jm.mu.Lock()
			status.EndTime = time.Now()
			if err != nil {
				status.Status = "failed"
				status.Message = err.Error()
				jm.log.Error("Job failed", "job", id, "err", err)
			} else {
				status.Status = "success"
				status.Message = "Job completed successfully."
				jm.log.Info("Finished job", "job", id, "duration", status.EndTime.Sub(status.StartTime).Round(time.Millisecond))
			}
			jm.running = false
			close(done)
			jm.mu.Unlock()
		}()
		err = j.task(ctx)
	}()
	return nil
}

// Wait blocks until the running job, if any, has finished.
func (jm *JobManager) Wait() {
	jm.mu.Lock()
	done := jm.done
	jm.mu.Unlock()
	if done != nil {
		<-done
	}
}

// GetStatus returns a snapshot of every job ordered by id.
func (jm *JobManager) GetStatus() []JobStatus {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	statuses := make([]JobStatus, 0, len(jm.status))
	for _, s := range jm.status {
		statuses = append(statuses, *s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}
