// Package scheduler drives periodic update cycles on a cron.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"marketpulse/internal/domain"
)

// Job is a unit of periodic work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs jobs at fixed intervals. A tick that arrives while the
// previous run of the same job is still going is skipped.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	log  *slog.Logger
}

// New creates a Scheduler whose jobs run with ctx.
func New(ctx context.Context, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "scheduler")
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
		),
		ctx: ctx,
		log: log,
	}
}

// Every registers job to run once per interval. Intervals under a second are
// rounded up to one second.
func (s *Scheduler) Every(interval time.Duration, job Job) (cron.EntryID, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("register %s: interval must be positive, got %v", job.Name(), interval)
	}
	id, err := s.cron.AddFunc("@every "+interval.String(), func() { s.run(job) })
	if err != nil {
		return 0, fmt.Errorf("register %s: %w", job.Name(), err)
	}
	s.log.Info("job registered", "job", job.Name(), "every", interval)
	return id, nil
}

// RunNow executes job immediately on the calling goroutine, outside the
// cron schedule.
func (s *Scheduler) RunNow(job Job) {
	s.run(job)
}

// Next returns the next scheduled run of an entry.
func (s *Scheduler) Next(id cron.EntryID) time.Time {
	return s.cron.Entry(id).Next
}

// Start starts the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop stops scheduling and returns a context that is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	ctx := s.cron.Stop()
	s.log.Info("scheduler stopped")
	return ctx
}

func (s *Scheduler) run(job Job) {
	start := time.Now()
	err := job.Run(s.ctx)
	switch {
	case errors.Is(err, domain.ErrCycleInProgress):
		s.log.Info("job already running, skipped", "job", job.Name())
	case err != nil:
		s.log.Error("job failed", "job", job.Name(), "error", err, "elapsed", time.Since(start).Round(time.Millisecond))
	default:
		s.log.Debug("job finished", "job", job.Name(), "elapsed", time.Since(start).Round(time.Millisecond))
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
