package workspace

import (
	"context"
	"time"
)

// Kind selects one of the two per-document scratch trees.
type Kind string

const (
	// Cache holds runner intermediates and is removed after every job.
	Cache Kind = "cache"
	// Staging holds the files exchanged with the runner. It is retained after
	// the job for inspection.
	Staging Kind = "staging"
)

// Workspace describes a job-scoped scratch directory. Its path is derived only
// from the document id and kind, so a rerun for the same document lands in the
// same place.
type Workspace struct {
	DocumentID string
	Kind       Kind
	Dir        string
}

// CleanupReport summarizes a sweep.
type CleanupReport struct {
	DeletedDirs int
}

// Manager governs scratch directory lifecycle under one scratch root.
type Manager interface {
	// Create returns a fresh, empty directory for id, discarding leftovers
	// from an earlier run.
	Create(ctx context.Context, kind Kind, id string) (Workspace, error)

	// Open resolves an existing directory for id.
	Open(ctx context.Context, kind Kind, id string) (Workspace, error)

	// Remove deletes the directory for id depth-first, best effort.
	Remove(ctx context.Context, kind Kind, id string) error

	// Sweep removes directories of kind older than olderThan.
	Sweep(ctx context.Context, kind Kind, olderThan time.Duration) (CleanupReport, error)
}
