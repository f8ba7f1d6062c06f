// Package scheduler runs periodic maintenance jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/user/shopline/internal/gateway"
)

// Job is a named function fired on a cron schedule.
type Job struct {
	Name     string
	Schedule string
	Run      func()
}

// Scheduler fires registered jobs from a cron ticker.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus descriptors like
// "@every 1m".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a Scheduler. A panicking job is logged and does not stop the
// ticker; a job still running when it fires again is skipped.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	cl := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
	}
}

// Add registers job. An empty schedule disables it.
func (s *Scheduler) Add(job Job) error {
	if job.Schedule == "" {
		s.logger.Info("job disabled", "name", job.Name)
		return nil
	}
	_, err := s.cron.AddFunc(job.Schedule, func() {
		s.logger.Debug("cron firing job", "name", job.Name)
		job.Run()
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Schedule, err)
	}
	s.logger.Info("scheduled job", "name", job.Name, "schedule", job.Schedule)
	return nil
}

// Start starts the cron ticker.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the ticker; the returned context is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Maintainer is the part of the gateway maintenance jobs act on.
type Maintainer interface {
	PurgeCache() int
	Stats() gateway.Stats
}

// MaintenanceJobs returns the cache purge and stats logging jobs.
func MaintenanceJobs(m Maintainer, purgeSchedule, statsSchedule string, logger *slog.Logger) []Job {
	if logger == nil {
		logger = slog.Default()
	}
	return []Job{
		{
			Name:     "cache-purge",
			Schedule: purgeSchedule,
			Run: func() {
				if n := m.PurgeCache(); n > 0 {
					logger.Info("purged expired cache entries", "count", n)
				}
			},
		},
		{
			Name:     "gateway-stats",
			Schedule: statsSchedule,
			Run: func() {
				st := m.Stats()
				logger.Info("gateway stats",
					"breaker_state", st.Breaker.State,
					"breaker_failures", st.Breaker.Failures,
					"cache_size", st.Cache.Size,
					"cache_hits", st.Cache.Hits,
					"cache_misses", st.Cache.Misses,
					"in_flight", st.InFlight,
					"max_connections", st.MaxConnections,
				)
			},
		},
	}
}
