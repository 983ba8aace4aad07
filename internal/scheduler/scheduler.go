// Package scheduler periodically removes retained staging directories.
//
// Staging directories outlive their jobs so an operator can inspect what the
// runner produced. When a sweep schedule and retention are configured, the
// scheduler deletes staging directories older than the retention on that
// schedule. Without configuration nothing is ever removed.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mattjoyce/docbatch/internal/workspace"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a standard five-field cron expression or a
// descriptor such as "@daily" or "@every 1h".
func ParseSchedule(expr string) (cron.Schedule, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// Scheduler runs staging sweeps on a cron schedule.
type Scheduler struct {
	cron      *cron.Cron
	schedule  cron.Schedule
	sweeper   Sweeper
	retention time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	started bool
}

// New creates a Scheduler. It does not run until Start.
func New(expr string, retention time.Duration, sw Sweeper, logger *slog.Logger) (*Scheduler, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("staging retention must be positive")
	}
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		schedule:  schedule,
		sweeper:   sw,
		retention: retention,
		logger:    logger.With("component", "scheduler"),
	}, nil
}

// Start schedules sweeps until Stop. Sweeps run under ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	s.cron.Schedule(s.schedule, cron.FuncJob(func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("staging sweep failed", "error", err)
		}
	}))
	s.cron.Start()
	s.logger.Info("staging sweep scheduled", "retention", s.retention, "next", s.Next(time.Now()))
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	<-s.cron.Stop().Done()
	s.logger.Info("staging sweep stopped")
}

// Next returns the first sweep time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// RunOnce performs a single sweep now.
func (s *Scheduler) RunOnce(ctx context.Context) (workspace.CleanupReport, error) {
	report, err := s.sweeper.Sweep(ctx, workspace.Staging, s.retention)
	if err != nil {
		return report, fmt.Errorf("sweep staging: %w", err)
	}
	s.logger.Info("staging sweep finished", "deleted_dirs", report.DeletedDirs)
	return report, nil
}
