// Package scheduler runs the periodic background jobs: market cache
// refresh, crawler checks, incremental K-line sync, and portfolio
// snapshots. Jobs are skipped, not queued, when the previous run is
// still in flight.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one schedulable unit of background work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler wraps the cron runner with logging and graceful shutdown.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New creates a scheduler in the given timezone. An empty timezone
// falls back to Asia/Shanghai.
func New(timezone string, log zerolog.Logger) (*Scheduler, error) {
	if timezone == "" {
		timezone = "Asia/Shanghai"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler timezone %q: %w", timezone, err)
	}

	schedLog := log.With().Str("component", "scheduler").Logger()
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: schedLog})),
	)

	return &Scheduler{cron: c, log: schedLog}, nil
}

// Add registers a job on the given cron spec ("@every 5m" or standard
// five-field syntax).
func (s *Scheduler) Add(spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		started := time.Now()
		if err := job.Run(context.Background()); err != nil {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("Job failed")
			return
		}
		s.log.Debug().
			Str("job", job.Name()).
			Dur("duration", time.Since(started)).
			Msg("Job completed")
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%s): %w", job.Name(), spec, err)
	}
	return nil
}

// Start begins running jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("Scheduler started")
}

// Stop halts scheduling and waits for in-flight jobs to finish, bounded
// by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		s.log.Info().Msg("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

// cronLogger adapts zerolog to the cron logger interface so the
// skip-if-still-running chain reports through our logs.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
