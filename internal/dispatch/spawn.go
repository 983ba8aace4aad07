package dispatch

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/docbatch/internal/protocol"
)

// Invocation is one batch tool runner command line.
type Invocation struct {
	Command    []string
	DataDir    string
	CacheDir   string
	ConfHost   string
	ConfName   string
	Tools      []string
	SingleCore bool
}

// Args returns the full argv: the command prefix followed by KEY=value
// arguments. CONFHOST is omitted when unset; SINGLECORE is a bare flag.
func (inv Invocation) Args() []string {
	args := make([]string, 0, len(inv.Command)+6)
	args = append(args, inv.Command...)
	args = append(args, "DATA="+inv.DataDir, "CACHE="+inv.CacheDir)
	if inv.ConfHost != "" {
		args = append(args, "CONFHOST="+inv.ConfHost)
	}
	args = append(args, "CONFNAME="+inv.ConfName, "TOOLS="+strings.Join(inv.Tools, "+"))
	if inv.SingleCore {
		args = append(args, "SINGLECORE")
	}
	return args
}

// spawn starts the runner and blocks until it exits. stderr is drained to the
// log on its own goroutine while stdout is parsed here. A non-zero exit is
// reported through the exit code, not as an error.
func spawn(inv Invocation, logger *slog.Logger) (int, error) {
	argv := inv.Args()
	if len(argv) == 0 || len(inv.Command) == 0 {
		return -1, fmt.Errorf("runner command is empty")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("create stderr pipe: %w", err)
	}

	logger.Info("spawning runner", "argv", argv)
	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("start runner: %w", err)
	}

	var g errgroup.Group
	g.Go(func() error {
		return drainStderr(stderr, logger)
	})

	if err := protocol.Scan(stdout, func(msg protocol.Message) { handleMessage(msg, logger) }); err != nil {
		logger.Warn("runner stdout unreadable, discarding the rest", "error", err)
		_, _ = io.Copy(io.Discard, stdout)
	}
	if err := g.Wait(); err != nil {
		logger.Warn("runner stderr unreadable", "error", err)
	}

	err = cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), nil
	default:
		return -1, fmt.Errorf("wait for runner: %w", err)
	}
}

func drainStderr(r io.Reader, logger *slog.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), protocol.MaxLineSize)
	for scanner.Scan() {
		logger.Info(scanner.Text(), "stream", "stderr")
	}
	if err := scanner.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}

func handleMessage(msg protocol.Message, logger *slog.Logger) {
	if !msg.Kind.Structured() {
		logger.Info(msg.Payload, "stream", "stdout")
		return
	}
	if msg.Kind == protocol.Step {
		logger.Info("runner step", "step", msg.Payload, "stream", "stdout")
		return
	}
	logger.Debug("runner progress", "kind", msg.Kind.String(), "value", msg.Payload)
}
