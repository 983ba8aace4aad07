package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/docbatch/internal/api"
	"github.com/mattjoyce/docbatch/internal/config"
	"github.com/mattjoyce/docbatch/internal/docstore"
	"github.com/mattjoyce/docbatch/internal/doctor"
	"github.com/mattjoyce/docbatch/internal/inspect"
	"github.com/mattjoyce/docbatch/internal/natsfeed"
	"github.com/mattjoyce/docbatch/internal/staging"
	"github.com/mattjoyce/docbatch/internal/storage"
	"github.com/mattjoyce/docbatch/internal/store"
	"github.com/mattjoyce/docbatch/internal/style"
	"github.com/mattjoyce/docbatch/internal/workspace"
)

const defaultImportIdentity = "docbatch-import"

// metaFlags collects repeated --meta key=value flags.
type metaFlags map[string]string

func (m metaFlags) String() string {
	parts := make([]string, 0, len(m))
	for k, v := range m {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (m metaFlags) Set(value string) error {
	k, v, ok := strings.Cut(value, "=")
	k = strings.TrimSpace(k)
	if !ok || k == "" {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	m[k] = v
	return nil
}

// --- system status ---

func apiBaseURL(listen string) string {
	if strings.HasPrefix(listen, ":") {
		listen = "127.0.0.1" + listen
	}
	return "http://" + listen
}

// apiTarget resolves URL and token from flags, falling back to config.
func apiTarget(configPath, apiURL, apiKey string) (string, string, error) {
	if apiURL != "" {
		return apiURL, apiKey, nil
	}
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return "", "", err
	}
	if apiKey == "" {
		apiKey = cfg.API.Auth.APIKey
	}
	return apiBaseURL(cfg.API.Listen), apiKey, nil
}

func runSystemStatus(args []string) int {
	var configPath, apiURL string
	var jsonOut bool
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file or directory")
	fs.StringVar(&apiURL, "api-url", "", "API base URL (default from config)")
	fs.BoolVar(&jsonOut, "json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	baseURL, _, err := apiTarget(configPath, apiURL, "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := api.NewClient(baseURL, "").Health(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to reach docbatch at %s: %v\n", baseURL, err)
		return 1
	}

	if jsonOut {
		data, _ := json.MarshalIndent(health, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	fmt.Printf("status: %s\n", health.Status)
	fmt.Printf("uptime: %s\n", time.Duration(health.UptimeSeconds)*time.Second)
	fmt.Printf("queue_depth: %d\n", health.QueueDepth)
	fmt.Printf("pending: %d\n", health.PendingCount)
	return 0
}

// --- document ---

func runDocumentNoun(args []string) int {
	if len(args) < 1 {
		printDocumentNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printDocumentNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "process":
		if hasHelpFlag(actionArgs) {
			printDocumentProcessHelp()
			return 0
		}
		return runDocumentProcess(actionArgs)
	case "import":
		if hasHelpFlag(actionArgs) {
			printDocumentImportHelp()
			return 0
		}
		return runDocumentImport(actionArgs)
	case "inspect":
		if hasHelpFlag(actionArgs) {
			printDocumentInspectHelp()
			return 0
		}
		return runDocumentInspect(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown document action: %s\n", action)
		return 1
	}
}

func printDocumentNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: docbatch document <action>")
	fmt.Fprintln(w, "Actions: process, import, inspect")
}

func printDocumentInspectHelp() {
	fmt.Println("Usage: docbatch document inspect <id> [--config PATH] [--json]")
	fmt.Println("Show the stored document, its matching style and what the last job left in staging.")
}

func printDocumentProcessHelp() {
	fmt.Println("Usage: docbatch document process <id> [--config PATH] [--api-url URL] [--api-key KEY]")
	fmt.Println("Queue a document on a running worker regardless of its eligibility.")
}

func printDocumentImportHelp() {
	fmt.Println("Usage: docbatch document import <id> --dir DIR [--name NAME] [--meta key=value]... [--as IDENTITY] [--config PATH]")
	fmt.Println("Create the document if missing, then replace its entries with the files in DIR.")
	fmt.Println("The update and release are published to the event feed when events.nats_url is set.")
}

// splitPositional separates a leading positional argument from flags, so
// both "process ID --flag" and "process --flag ID" work.
func splitPositional(args []string) (string, []string) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return args[0], args[1:]
	}
	return "", args
}

func runDocumentProcess(args []string) int {
	id, rest := splitPositional(args)

	var configPath, apiURL, apiKey string
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file or directory")
	fs.StringVar(&apiURL, "api-url", "", "API base URL (default from config)")
	fs.StringVar(&apiKey, "api-key", os.Getenv("DOCBATCH_API_KEY"), "Bearer token")
	if err := fs.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if id == "" && fs.NArg() == 1 {
		id = fs.Arg(0)
	}
	if id == "" {
		printDocumentProcessHelp()
		return 1
	}

	baseURL, token, err := apiTarget(configPath, apiURL, apiKey)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := api.NewClient(baseURL, token).Process(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Process request failed: %v\n", err)
		return 1
	}
	fmt.Printf("%s: %s\n", resp.DocumentID, resp.Status)
	return 0
}

func runDocumentImport(args []string) int {
	id, rest := splitPositional(args)

	meta := metaFlags{}
	var configPath, dir, name, identity string
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file or directory")
	fs.StringVar(&dir, "dir", "", "Directory whose files become the document's entries")
	fs.StringVar(&name, "name", "", "Document display name")
	fs.StringVar(&identity, "as", defaultImportIdentity, "Identity used for checkout and authorship")
	fs.Var(meta, "meta", "Metadata key=value (repeatable)")
	if err := fs.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if id == "" && fs.NArg() == 1 {
		id = fs.Arg(0)
	}
	if id == "" || dir == "" {
		printDocumentImportHelp()
		return 1
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if identity == cfg.Service.Identity {
		fmt.Fprintf(os.Stderr, "Refusing to import as %q: updates by the worker identity are never processed\n", identity)
		return 1
	}

	entries, err := readEntries(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", dir, err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	docs := docstore.New(db, cfg.Store.SourceID, cfg.Store.AnnotationPrefix)

	var pub *natsfeed.Publisher
	if cfg.Events.NatsURL != "" {
		nc, err := natsfeed.Connect(cfg.Events.NatsURL, cfg.Service.Name+"-import")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to connect to event feed: %v\n", err)
			return 1
		}
		defer nc.Close()
		pub = natsfeed.NewPublisher(nc, cfg.Events.Subject)
		docs.Subscribe(pub)
	}

	if err := importDocument(ctx, docs, identity, id, name, meta, entries); err != nil {
		fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
		return 1
	}

	if pub != nil {
		if err := pub.Flush(5 * time.Second); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to flush events: %v\n", err)
			return 1
		}
	}

	fmt.Printf("imported %s (%d entries)\n", id, len(entries))
	return 0
}

// importDocument creates id when missing, then checks it out, replaces its
// entries and metadata, and releases it.
func importDocument(ctx context.Context, docs *docstore.Store, identity, id, name string, meta map[string]string, entries map[string][]byte) error {
	if _, err := docs.Create(ctx, identity, store.Document{ID: id, Name: name, Metadata: meta}); err != nil && !errors.Is(err, docstore.ErrExists) {
		return err
	}

	data, err := docs.CheckoutDocumentAsData(ctx, identity, id)
	if err != nil {
		return err
	}

	if name != "" {
		data.Name = name
	}
	if data.Metadata == nil {
		data.Metadata = map[string]string{}
	}
	for k, v := range meta {
		data.Metadata[k] = v
	}
	data.Entries = entries

	if err := docs.UpdateDocumentFromData(ctx, identity, identity, data, nil); err != nil {
		_ = docs.ReleaseDocument(ctx, identity, id)
		return err
	}
	return docs.ReleaseDocument(ctx, identity, id)
}

// readEntries loads every regular file below dir keyed by its slash-separated
// relative path.
func readEntries(dir string) (map[string][]byte, error) {
	entries := map[string][]byte{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		entries[filepath.ToSlash(rel)] = content
		return nil
	})
	return entries, err
}

func runDocumentInspect(args []string) int {
	id, rest := splitPositional(args)

	var configPath string
	var jsonOut bool
	flags := flag.NewFlagSet("inspect", flag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "Path to configuration file or directory")
	flags.BoolVar(&jsonOut, "json", false, "Output the report as JSON")
	if err := flags.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if id == "" && flags.NArg() == 1 {
		id = flags.Arg(0)
	}
	if id == "" {
		printDocumentInspectHelp()
		return 1
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	styles, err := style.New(cfg.Styles)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid styles: %v\n", err)
		return 1
	}
	stager, err := staging.New(cfg.Executor.StageExtensions, cfg.Executor.ManifestName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid staging configuration: %v\n", err)
		return 1
	}
	ws, err := workspace.NewFSManager(cfg.Executor.ScratchDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open scratch root: %v\n", err)
		return 1
	}

	ctx := context.Background()
	stagingDir := filepath.Join(ws.BaseDir(), string(workspace.Staging), id)
	if w, err := ws.Open(ctx, workspace.Staging, id); err == nil {
		stagingDir = w.Dir
	} else if !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Invalid document id: %v\n", err)
		return 1
	}

	db, err := storage.OpenSQLite(ctx, cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	src := inspect.Sources{
		Documents:  docstore.New(db, cfg.Store.SourceID, cfg.Store.AnnotationPrefix),
		Styles:     styles,
		Stager:     stager,
		StagingDir: stagingDir,
	}

	var out string
	if jsonOut {
		out, err = inspect.BuildJSONReport(ctx, src, id)
	} else {
		out, err = inspect.BuildReport(ctx, src, id)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}
	fmt.Print(out)
	if jsonOut {
		fmt.Println()
	}
	return 0
}

// --- scratch ---

func runScratchNoun(args []string) int {
	if len(args) < 1 {
		printScratchNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printScratchNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "sweep":
		if hasHelpFlag(actionArgs) {
			printScratchSweepHelp()
			return 0
		}
		return runScratchSweep(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown scratch action: %s\n", action)
		return 1
	}
}

func printScratchNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: docbatch scratch <action>")
	fmt.Fprintln(w, "Actions: sweep")
}

func printScratchSweepHelp() {
	fmt.Println("Usage: docbatch scratch sweep --older-than DURATION [--config PATH]")
	fmt.Println("Remove retained staging directories not modified within DURATION (e.g. 72h).")
}

func runScratchSweep(args []string) int {
	var configPath string
	var olderThan time.Duration
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file or directory")
	fs.DurationVar(&olderThan, "older-than", 0, "Minimum age of staging directories to remove")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if olderThan <= 0 {
		fmt.Fprintln(os.Stderr, "--older-than must be a positive duration")
		return 1
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ws, err := workspace.NewFSManager(cfg.Executor.ScratchDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open scratch root: %v\n", err)
		return 1
	}
	report, err := ws.Sweep(context.Background(), workspace.Staging, olderThan)
	fmt.Printf("%d staging directories removed\n", report.DeletedDirs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Sweep incomplete: %v\n", err)
		return 1
	}
	return 0
}

// --- config ---

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: docbatch config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: docbatch config check [--config PATH] [--json]")
	fmt.Println("Validate syntax, integrity hashes, the runner, style templates and filesystems.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  No errors (warnings may be present)")
	fmt.Println("  1  One or more errors")
}

func printConfigLockHelp() {
	fmt.Println("Usage: docbatch config lock [--config PATH]")
	fmt.Println("Record the BLAKE3 hash of the config file in .checksums.")
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output the report as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	result := doctor.New(cfg).Validate()
	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render report: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}
	if !result.Valid {
		return 1
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	absPath, err := config.ResolvePath(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	manifest, err := config.WriteChecksums(absPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}
	for name, hash := range manifest.Hashes {
		fmt.Printf("%s  %s\n", hash, name)
	}
	return 0
}
