// Package scheduler triggers the weekly pairing of every group.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultRunTimeout = 10 * time.Minute

// Scheduler runs the weekly job on its schedule
type Scheduler struct {
	cron     *cron.Cron
	schedule Schedule
	job      *WeeklyJob
	timeout  time.Duration
}

func New(schedule Schedule, job *WeeklyJob) *Scheduler {
	logger := cronLogger{log: log.Logger.With().Str("component", "cron").Logger()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.SkipIfStillRunning(logger), cron.Recover(logger)),
		),
		schedule: schedule,
		job:      job,
		timeout:  defaultRunTimeout,
	}
}

// Start registers the weekly job and starts the cron loop. ctx is the parent
// of every run.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule.Spec(), func() {
		runCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		_, _ = s.job.Run(runCtx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule weekly pairing: %w", err)
	}

	s.cron.Start()
	log.Info().Str("schedule", s.schedule.String()).Time("next", s.Next()).
		Msg("scheduler: Weekly pairing scheduled")
	return nil
}

// Stop stops the cron loop and waits for a running job
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info().Msg("scheduler: Stopped")
}

// Next returns the next pairing time
func (s *Scheduler) Next() time.Time {
	return s.schedule.Next(time.Now())
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
