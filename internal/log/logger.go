package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	slogmulti "github.com/samber/slog-multi"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Options controls the global logger. Zero values select INFO, JSON and stdout.
type Options struct {
	Level  string
	Format string // json | text
	// File, when set, receives a JSON copy of every record in addition to Output.
	File   string
	Output io.Writer
}

// Setup initializes the global logger at the given level with default options.
func Setup(level string) {
	_ = Configure(Options{Level: level})
}

// Configure initializes the global logger. Only the first call takes effect.
func Configure(opts Options) error {
	var setupErr error
	once.Do(func() {
		handlerOpts := &slog.HandlerOptions{Level: parseLevel(opts.Level)}

		out := opts.Output
		if out == nil {
			out = os.Stdout
		}

		var primary slog.Handler
		if strings.EqualFold(opts.Format, "text") {
			primary = slog.NewTextHandler(out, handlerOpts)
		} else {
			primary = slog.NewJSONHandler(out, handlerOpts)
		}

		handler := primary
		if opts.File != "" {
			f, err := openLogFile(opts.File)
			if err != nil {
				setupErr = err
			} else {
				handler = slogmulti.Fanout(primary, slog.NewJSONHandler(f, handlerOpts))
			}
		}

		logger = slog.New(handler)
		slog.SetDefault(logger)
	})
	return setupErr
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("INFO")
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithDocument returns a logger with the document_id field set.
func WithDocument(id string) *slog.Logger {
	return Get().With(slog.String("document_id", id))
}

// WithRun returns a logger scoped to a single job run of a document.
func WithRun(documentID, runID string) *slog.Logger {
	return Get().With(slog.String("document_id", documentID), slog.String("run_id", runID))
}

// Info logs at INFO level.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Warn logs at WARN level.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs at ERROR level.
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}
