package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mattjoyce/docbatch/internal/api"
	"github.com/mattjoyce/docbatch/internal/auth"
	"github.com/mattjoyce/docbatch/internal/config"
	"github.com/mattjoyce/docbatch/internal/dispatch"
	"github.com/mattjoyce/docbatch/internal/docstore"
	"github.com/mattjoyce/docbatch/internal/listener"
	"github.com/mattjoyce/docbatch/internal/lock"
	"github.com/mattjoyce/docbatch/internal/log"
	"github.com/mattjoyce/docbatch/internal/metrics"
	"github.com/mattjoyce/docbatch/internal/natsfeed"
	"github.com/mattjoyce/docbatch/internal/queue"
	"github.com/mattjoyce/docbatch/internal/scheduler"
	"github.com/mattjoyce/docbatch/internal/staging"
	"github.com/mattjoyce/docbatch/internal/storage"
	"github.com/mattjoyce/docbatch/internal/style"
	"github.com/mattjoyce/docbatch/internal/workspace"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "document":
		return runDocumentNoun(args)
	case "scratch":
		return runScratchNoun(args)
	case "config":
		return runConfigNoun(args)

	case "start":
		return runStart(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: docbatch version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("docbatch %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalized
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`docbatch - batch document processing worker

Usage:
  docbatch <noun> <action> [flags]

Core Resources (Nouns):
  system    Worker lifecycle and health
  document  Manual processing and import
  scratch   Cache and staging directories
  config    Configuration and integrity

System Commands:
  system start             Start the worker in foreground
  system status            Show queue depth and pending count of a running worker

Document Commands:
  document process <id>    Queue a document, bypassing eligibility
  document import <id>     Create or update a document from a directory
  document inspect <id>    Show stored state, style and staging of a document

Scratch Commands:
  scratch sweep            Remove staging directories older than a duration

Config Commands:
  config check             Validate syntax, styles and integrity
  config lock              Authorize current state (update integrity hashes)

General:
  version                  Show version information
  help                     Show this help message

Use 'docbatch <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: docbatch system <action>")
	fmt.Fprintln(w, "Actions: start, status")
}

func printSystemStartHelp() {
	fmt.Println("Usage: docbatch system start [--config PATH]")
	fmt.Println("Start the worker in the foreground.")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: docbatch system status [--config PATH] [--api-url URL] [--json]")
	fmt.Println("Query /healthz of a running worker.")
}

// resolveConfigPath falls back to discovery when no --config was given.
func resolveConfigPath(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	discovered, err := config.DiscoverConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to discover config: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", discovered)
	return discovered, nil
}

func loadConfig(configPath string) (*config.Config, string, error) {
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, path, nil
}

func configureLogging(cfg *config.Config) error {
	return log.Configure(log.Options{
		Level:  cfg.Service.LogLevel,
		Format: cfg.Service.LogFormat,
		File:   cfg.Service.LogFile,
	})
}

func apiConfig(cfg *config.Config) api.Config {
	tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{
			Token:  t.Token,
			Scopes: t.Scopes,
		})
	}
	return api.Config{
		Listen: cfg.API.Listen,
		APIKey: cfg.API.Auth.APIKey,
		Tokens: tokens,
	}
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if err := configureLogging(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure logging: %v\n", err)
		return 1
	}
	logger := log.WithComponent("main")
	logger.Info("docbatch starting", "version", version, "config", path, "identity", cfg.Service.Identity)

	pidLock, err := lock.Acquire(cfg.Executor.ScratchDir)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "scratch_dir", cfg.Executor.ScratchDir, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.Store.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.Store.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.Store.Path)

	styles, err := style.New(cfg.Styles)
	if err != nil {
		logger.Error("invalid style templates", "error", err)
		return 1
	}
	stager, err := staging.New(cfg.Executor.StageExtensions, cfg.Executor.ManifestName)
	if err != nil {
		logger.Error("invalid staging configuration", "error", err)
		return 1
	}
	wsManager, err := workspace.NewFSManager(cfg.Executor.ScratchDir)
	if err != nil {
		logger.Error("failed to initialize workspace manager", "base_dir", cfg.Executor.ScratchDir, "error", err)
		return 1
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	docs := docstore.New(db, cfg.Store.SourceID, cfg.Store.AnnotationPrefix)
	q := queue.New()
	pending := queue.NewPendingSet()

	lst := listener.New(listener.Config{
		SourceID:    docs.SourceID(),
		Identity:    cfg.Service.Identity,
		Styles:      styles,
		Annotations: docs,
		Pending:     pending,
		Queue:       q,
		Metrics:     m,
	})
	docs.Subscribe(lst)

	if cfg.Events.NatsURL != "" {
		nc, err := natsfeed.Connect(cfg.Events.NatsURL, cfg.Service.Name)
		if err != nil {
			logger.Error("failed to connect to event feed", "url", cfg.Events.NatsURL, "error", err)
			return 1
		}
		defer nc.Close()
		sub, err := natsfeed.Subscribe(nc, cfg.Events.Subject, lst)
		if err != nil {
			logger.Error("failed to subscribe to event feed", "subject", cfg.Events.Subject, "error", err)
			return 1
		}
		defer sub.Close()
		logger.Info("event feed subscribed", "url", cfg.Events.NatsURL, "subject", cfg.Events.Subject)
	}

	executor := dispatch.NewExecutor(docs, styles, wsManager, stager, dispatch.ExecutorConfig{
		Identity:   cfg.Service.Identity,
		Command:    cfg.Executor.Command,
		ConfHost:   cfg.Executor.ConfHost,
		SingleCore: cfg.Executor.SingleCoreEnabled(),
	}, m)
	disp := dispatch.New(q, executor, cfg.Worker.StartupGrace, cfg.Worker.Cooldown, m)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)
	dispDone := make(chan struct{})

	go func() {
		defer close(dispDone)
		if err := disp.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("dispatcher: %w", err)
		}
	}()

	if cfg.Executor.SweepSchedule != "" {
		sched, err := scheduler.New(cfg.Executor.SweepSchedule, cfg.Executor.StagingRetention, wsManager, log.WithComponent("scheduler"))
		if err != nil {
			logger.Error("failed to configure staging sweep", "error", err)
			return 1
		}
		sched.Start(ctx)
		defer sched.Stop()
		logger.Info("staging sweep enabled", "schedule", cfg.Executor.SweepSchedule, "retention", cfg.Executor.StagingRetention)
	}

	if cfg.API.Enabled {
		apiServer := api.New(apiConfig(cfg), lst, q, pending, reg, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("docbatch running (press Ctrl+C to stop)")

	code := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		code = 1
	}

	// Shutdown drops queued work and wakes the worker; a running job finishes.
	q.Shutdown()
	cancel()
	<-dispDone

	logger.Info("docbatch stopped")
	return code
}
