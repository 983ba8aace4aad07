package scheduler

import (
	"context"
	"time"

	"github.com/mattjoyce/docbatch/internal/workspace"
)

//go:generate mockgen -destination=mocks/mock_sweeper.go -package=mocks github.com/mattjoyce/docbatch/internal/scheduler Sweeper

// Sweeper removes aged scratch directories.
type Sweeper interface {
	Sweep(ctx context.Context, kind workspace.Kind, olderThan time.Duration) (workspace.CleanupReport, error)
}
