package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// removeEntry deletes one file or empty directory.
var removeEntry = os.Remove

// fsWorkspaceManager manages per-document scratch directories on local disk.
type fsWorkspaceManager struct {
	baseDir string
	now     func() time.Time
}

var _ Manager = (*fsWorkspaceManager)(nil)

// NewFSManager creates a filesystem-backed manager rooted at baseDir. Cache and
// staging trees live in baseDir/cache and baseDir/staging.
func NewFSManager(baseDir string) (*fsWorkspaceManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace base directory is empty")
	}

	return &fsWorkspaceManager{
		baseDir: filepath.Clean(trimmed),
		now:     time.Now,
	}, nil
}

// BaseDir returns the scratch root.
func (m *fsWorkspaceManager) BaseDir() string {
	return m.baseDir
}

// Create initializes an empty directory for id, removing any existing one.
func (m *fsWorkspaceManager) Create(ctx context.Context, kind Kind, id string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	path, err := m.workspacePath(kind, id)
	if err != nil {
		return Workspace{}, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create %s root: %w", kind, err)
	}

	if _, err := os.Lstat(path); err == nil {
		if err := RemoveTree(path); err != nil {
			return Workspace{}, fmt.Errorf("clear stale %s dir for %q: %w", kind, id, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Workspace{}, fmt.Errorf("stat %s dir for %q: %w", kind, id, err)
	}

	if err := os.Mkdir(path, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create %s dir for %q: %w", kind, id, err)
	}

	return Workspace{DocumentID: id, Kind: kind, Dir: path}, nil
}

// Open returns metadata for an existing directory.
func (m *fsWorkspaceManager) Open(ctx context.Context, kind Kind, id string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	path, err := m.workspacePath(kind, id)
	if err != nil {
		return Workspace{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return Workspace{}, fmt.Errorf("open %s dir for %q: %w", kind, id, err)
	}
	if !info.IsDir() {
		return Workspace{}, fmt.Errorf("%s path for %q is not a directory", kind, id)
	}

	return Workspace{DocumentID: id, Kind: kind, Dir: path}, nil
}

// Remove deletes the directory for id. A missing directory is not an error.
func (m *fsWorkspaceManager) Remove(ctx context.Context, kind Kind, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := m.workspacePath(kind, id)
	if err != nil {
		return err
	}
	return RemoveTree(path)
}

// Sweep removes directories of kind whose modification time is older than
// olderThan. Failures on one directory do not stop the sweep.
func (m *fsWorkspaceManager) Sweep(ctx context.Context, kind Kind, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}
	if err := validateKind(kind); err != nil {
		return CleanupReport{}, err
	}

	root := filepath.Join(m.baseDir, string(kind))
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read %s root: %w", kind, err)
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}
	var result *multierror.Error

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("stat %q: %w", entry.Name(), err))
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		if err := RemoveTree(filepath.Join(root, entry.Name())); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		report.DeletedDirs++
	}

	return report, result.ErrorOrNil()
}

func (m *fsWorkspaceManager) workspacePath(kind Kind, id string) (string, error) {
	if err := validateKind(kind); err != nil {
		return "", err
	}
	if err := validateDocumentID(id); err != nil {
		return "", err
	}
	return filepath.Join(m.baseDir, string(kind), id), nil
}

// RemoveTree deletes path depth-first: children before their parent. Symbolic
// links are removed, never followed. A failed deletion is collected and the
// remaining siblings are still attempted. A missing path is not an error.
func RemoveTree(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %q: %w", path, err)
	}
	return removeNode(path, info)
}

func removeNode(path string, info fs.FileInfo) error {
	var result *multierror.Error

	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("read dir %q: %w", path, err))
		}
		for _, entry := range entries {
			child := filepath.Join(path, entry.Name())
			childInfo, err := os.Lstat(child)
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					result = multierror.Append(result, fmt.Errorf("stat %q: %w", child, err))
				}
				continue
			}
			if err := removeNode(child, childInfo); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}

	if err := removeEntry(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		result = multierror.Append(result, fmt.Errorf("remove %q: %w", path, err))
	}

	return result.ErrorOrNil()
}

func validateKind(kind Kind) error {
	switch kind {
	case Cache, Staging:
		return nil
	default:
		return fmt.Errorf("unknown workspace kind %q", kind)
	}
}

func validateDocumentID(id string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return fmt.Errorf("document id is empty")
	}
	if trimmed != id {
		return fmt.Errorf("document id %q has surrounding whitespace", id)
	}
	if trimmed == "." || trimmed == ".." {
		return fmt.Errorf("document id %q is invalid", id)
	}
	if strings.Contains(trimmed, "/") || strings.Contains(trimmed, `\`) {
		return fmt.Errorf("document id %q must not contain path separators", id)
	}
	if filepath.Clean(trimmed) != trimmed {
		return fmt.Errorf("document id %q is invalid", id)
	}
	return nil
}
