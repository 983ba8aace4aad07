package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mattjoyce/docbatch/internal/log"
	"github.com/mattjoyce/docbatch/internal/metrics"
	"github.com/mattjoyce/docbatch/internal/staging"
	"github.com/mattjoyce/docbatch/internal/store"
	"github.com/mattjoyce/docbatch/internal/workspace"
)

// ErrNoStyle rejects a job whose document matches no style template.
var ErrNoStyle = errors.New("no style matches document")

// ExecutorConfig holds the static parts of every runner invocation.
type ExecutorConfig struct {
	// Identity is the principal used for checkout, commit and release.
	Identity   string
	Command    []string
	ConfHost   string
	SingleCore bool
}

// Executor runs one document job end to end.
type Executor struct {
	store      store.Store
	styles     store.StyleMatcher
	workspaces workspace.Manager
	stager     *staging.Stager
	cfg        ExecutorConfig
	metrics    *metrics.Metrics
	newRunID   func() string
}

// NewExecutor creates an Executor.
func NewExecutor(st store.Store, styles store.StyleMatcher, ws workspace.Manager, stager *staging.Stager, cfg ExecutorConfig, m *metrics.Metrics) *Executor {
	return &Executor{
		store:      st,
		styles:     styles,
		workspaces: ws,
		stager:     stager,
		cfg:        cfg,
		metrics:    m,
		newRunID:   uuid.NewString,
	}
}

// Run processes document id. It returns an error wrapping ErrNoStyle when the
// job was rejected, any other error when it was abandoned, and nil once the
// result is committed and the document released.
func (e *Executor) Run(ctx context.Context, id string) error {
	logger := log.WithRun(id, e.newRunID()).With("component", "executor")
	logger.Info("job started")

	data, err := e.store.CheckoutDocumentAsData(ctx, e.cfg.Identity, id)
	if err != nil {
		return fmt.Errorf("checkout %q: %w", id, err)
	}

	released := false
	defer func() {
		if released {
			return
		}
		if rerr := e.store.ReleaseDocument(ctx, e.cfg.Identity, id); rerr != nil {
			logger.Error("release after failed job", "error", rerr)
		}
	}()

	style, ok := e.styles.StyleFor(&data.Document)
	if !ok {
		logger.Warn("no style matches, rejecting job")
		return fmt.Errorf("%w: %q", ErrNoStyle, id)
	}
	logger = logger.With("style", style.Name)

	cache, err := e.workspaces.Create(ctx, workspace.Cache, id)
	if err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	defer func() {
		if rerr := e.workspaces.Remove(ctx, workspace.Cache, id); rerr != nil {
			logger.Error("cache cleanup incomplete", "dir", cache.Dir, "error", rerr)
		}
	}()

	stage, err := e.workspaces.Create(ctx, workspace.Staging, id)
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}

	manifest, err := e.stager.StageIn(data, stage.Dir)
	if err != nil {
		return fmt.Errorf("stage in: %w", err)
	}
	logger.Info("staged in", "entries", len(manifest.Entries), "dir", stage.Dir)

	e.runRunner(Invocation{
		Command:    e.cfg.Command,
		DataDir:    stage.Dir,
		CacheDir:   cache.Dir,
		ConfHost:   e.cfg.ConfHost,
		ConfName:   style.ConfName,
		Tools:      style.Tools,
		SingleCore: e.cfg.SingleCore,
	}, logger)

	report, err := e.stager.StageOut(stage.Dir, data)
	if err != nil {
		return fmt.Errorf("stage out: %w", err)
	}
	logger.Info("staged out", "added", len(report.Added), "updated", len(report.Updated), "unchanged", len(report.Unchanged))
	if !report.Changed() {
		logger.Warn("runner left the document unchanged")
	}

	logf := func(msg string, args ...any) { logger.Info(msg, args...) }
	if err := e.store.UpdateDocumentFromData(ctx, e.cfg.Identity, e.cfg.Identity, data, logf); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	released = true
	if err := e.store.ReleaseDocument(ctx, e.cfg.Identity, id); err != nil {
		return fmt.Errorf("release: %w", err)
	}

	logger.Info("job committed")
	return nil
}

// runRunner spawns the runner. Neither a start failure nor a non-zero exit
// stops the job.
func (e *Executor) runRunner(inv Invocation, logger *slog.Logger) {
	code, err := spawn(inv, logger)
	if err != nil {
		logger.Error("runner failed", "error", err)
		return
	}
	e.metrics.Exit(code)
	if code != 0 {
		logger.Warn("runner exited non-zero", "exit_code", code)
		return
	}
	logger.Info("runner exited", "exit_code", code)
}
