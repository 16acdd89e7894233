package jobs

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
)

const (
	JobRefreshInstalled = "refresh-installed"
	JobRefreshAll       = "refresh-all"
)

// Refresher is the part of the manager the scheduled jobs drive.
type Refresher interface {
	RefreshAll(ctx context.Context, installedOnly, force bool) error
}

// RegisterRefreshJobs adds the periodic refresh jobs to jm.
func RegisterRefreshJobs(jm *JobManager, r Refresher) {
	jm.Register(JobRefreshInstalled, "Refresh installed repositories", func(ctx context.Context) error {
		return r.RefreshAll(ctx, true, false)
	})
	jm.Register(JobRefreshAll, "Refresh all repositories", func(ctx context.Context) error {
		return r.RefreshAll(ctx, false, false)
	})
}

// Schedule maps job ids to intervals in minutes. Zero disables a job.
type Schedule map[string]int

// StartJobs starts the background job scheduler.
func StartJobs(ctx context.Context, jm *JobManager, schedule Schedule) *gocron.Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	for id, interval := range schedule {
		scheduleJob(ctx, s, jm, id, interval)
	}

	jm.log.Info("Starting background job scheduler")
	s.StartAsync()
	return s
}

func scheduleJob(ctx context.Context, s *gocron.Scheduler, jm *JobManager, id string, interval int) {
	if interval <= 0 {
		jm.log.Info("Job interval is 0, scheduled run is disabled", "job", id)
		return
	}

	jm.log.Info("Scheduling job", "job", id, "every_minutes", interval)
	_, err := s.Every(interval).Minutes().WaitForSchedule().Do(func() {
		jm.log.Debug("Scheduler is triggering job", "job", id)
		// Go through the manager so scheduled runs never overlap manual ones.
		if err := jm.RunJob(ctx, id); err != nil {
			jm.log.Warn("Scheduled job could not start", "job", id, "err", err)
		}
	})
	if err != nil {
		jm.log.Error("Error scheduling job", "job", id, "err", err)
	}
}
