package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/mattjoyce/docbatch/internal/log"
	"github.com/mattjoyce/docbatch/internal/metrics"
	"github.com/mattjoyce/docbatch/internal/queue"
)

// Source yields document ids to process.
type Source interface {
	Take(ctx context.Context) (string, error)
	Len() int
}

// JobRunner executes one document job.
type JobRunner interface {
	Run(ctx context.Context, id string) error
}

// Dispatcher is the single worker loop.
type Dispatcher struct {
	source       Source
	runner       JobRunner
	startupGrace time.Duration
	cooldown     time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// New creates a Dispatcher that waits startupGrace before its first job and
// cooldown after each job.
func New(src Source, runner JobRunner, startupGrace, cooldown time.Duration, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		source:       src,
		runner:       runner,
		startupGrace: startupGrace,
		cooldown:     cooldown,
		metrics:      m,
		logger:       log.WithComponent("dispatch"),
	}
}

// Start runs the worker loop until the source shuts down (returns nil) or ctx
// is cancelled (returns ctx.Err()). Jobs run one at a time; a job in progress
// is never interrupted.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("dispatch loop started", "startup_grace", d.startupGrace, "cooldown", d.cooldown)
	defer d.logger.Info("dispatch loop stopped")

	sleep(ctx, d.startupGrace)

	for {
		id, err := d.source.Take(ctx)
		if errors.Is(err, queue.ErrShutdown) {
			return nil
		}
		if err != nil {
			return err
		}
		d.metrics.QueueDepth(d.source.Len())

		d.runJob(context.WithoutCancel(ctx), id)

		sleep(ctx, d.cooldown)
	}
}

// runJob runs one job, containing any panic.
func (d *Dispatcher) runJob(ctx context.Context, id string) {
	started := time.Now()
	outcome := metrics.JobPanicked
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("job panicked", "document_id", id, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
		d.metrics.Job(outcome, time.Since(started))
	}()

	err := d.runner.Run(ctx, id)
	switch {
	case err == nil:
		outcome = metrics.JobCommitted
	case errors.Is(err, ErrNoStyle):
		outcome = metrics.JobRejected
		d.logger.Warn("job rejected", "document_id", id, "error", err)
	default:
		outcome = metrics.JobAborted
		d.logger.Error("job failed", "document_id", id, "error", err, "duration", time.Since(started))
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
