// Package schedule runs catalog passes periodically on a cron schedule.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled run. Its error is logged; the schedule continues.
type Job func(ctx context.Context) error

type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New schedules job on a standard five-field cron spec (descriptors such as
// @daily are accepted). A run that is still going when the next one is due
// causes that one to be skipped, so passes never overlap.
func New(spec string, job Job, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLogger(cl),
		// Recover stays innermost: SkipIfStillRunning does not return its
		// token when the job panics.
		cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
	)

	// Runs finish even after Run's context is cancelled.
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: c, logger: logger, ctx: ctx, cancel: cancel}

	if _, err := c.AddFunc(spec, func() {
		logger.Info("scheduled run started")
		if err := job(s.ctx); err != nil {
			logger.Error("scheduled run failed", "err", err)
			return
		}
		logger.Info("scheduled run finished")
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	return s, nil
}

// Run starts the scheduler and blocks until ctx is done, then waits for a
// run in progress to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	if next := s.Next(); !next.IsZero() {
		s.logger.Info("scheduler started", "next", next)
	}

	<-ctx.Done()
	s.logger.Info("scheduler stopping")
	<-s.cron.Stop().Done()
	s.cancel()
	return nil
}

// Next is the time of the next scheduled run, or zero before Run.
func (s *Scheduler) Next() (next time.Time) {
	for _, e := range s.cron.Entries() {
		next = e.Next
	}
	return next
}

// cronLogger adapts slog to the cron library's logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"err", err}, keysAndValues...)...)
}
