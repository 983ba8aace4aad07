// Package doctor validates a docbatch configuration beyond what Load checks:
// that the runner resolves, style templates are reachable, scratch and store
// live on local disk, and API tokens carry known scopes.
package doctor

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/mattjoyce/docbatch/internal/auth"
	"github.com/mattjoyce/docbatch/internal/config"
	"github.com/mattjoyce/docbatch/internal/scheduler"
	"github.com/mattjoyce/docbatch/internal/staging"
	"github.com/mattjoyce/docbatch/internal/storage"
	"github.com/mattjoyce/docbatch/internal/style"
)

// minRetention is the shortest staging retention that cannot catch a
// running job's staging directory in a typical deployment.
const minRetention = time.Hour

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg        *config.Config
	lookPath   func(string) (string, error)
	fsDetector func(what, path string) error
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{
		cfg:        cfg,
		lookPath:   exec.LookPath,
		fsDetector: storage.CheckLocalFilesystem,
	}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateRunner(r)
	d.validateStyles(r)
	d.validateStaging(r)
	d.validateFilesystems(r)
	d.validateSweep(r)
	d.validateEvents(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.warnShadowedStyles(r)
	d.warnMissingEnvVars(r)
	d.warnDeprecatedSyntax(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateRunner checks that the runner executable resolves.
func (d *Doctor) validateRunner(r *Result) {
	if len(d.cfg.Executor.Command) == 0 {
		d.addError(r, "executor", "executor.command", "executor.command is required")
		return
	}
	if _, err := d.lookPath(d.cfg.Executor.Command[0]); err != nil {
		d.addError(r, "executor", "executor.command[0]",
			fmt.Sprintf("runner %q not found: %v", d.cfg.Executor.Command[0], err))
	}
	if !d.cfg.Executor.SingleCoreEnabled() {
		d.addWarning(r, "executor", "executor.single_core",
			"single_core disabled; the runner may use every core of the host")
	}
}

func (d *Doctor) validateStyles(r *Result) {
	if _, err := style.New(d.cfg.Styles); err != nil {
		d.addError(r, "styles", "styles", err.Error())
	}
	if len(d.cfg.Styles) == 0 {
		d.addWarning(r, "styles", "styles", "no style templates; no document will ever be eligible")
	}
}

func (d *Doctor) validateStaging(r *Result) {
	if _, err := staging.New(d.cfg.Executor.StageExtensions, d.cfg.Executor.ManifestName); err != nil {
		d.addError(r, "staging", "executor.stage_extensions", err.Error())
	}
	if len(d.cfg.Executor.StageExtensions) == 0 {
		d.addWarning(r, "staging", "executor.stage_extensions", "no stage extensions; the runner will only see the manifest")
	}
}

func (d *Doctor) validateFilesystems(r *Result) {
	if err := d.fsDetector("scratch root", d.cfg.Executor.ScratchDir); err != nil {
		d.addError(r, "filesystem", "executor.scratch_dir", err.Error())
	}
	if err := d.fsDetector("store database", d.cfg.Store.Path); err != nil {
		d.addError(r, "filesystem", "store.path", err.Error())
	}
}

func (d *Doctor) validateSweep(r *Result) {
	if d.cfg.Executor.SweepSchedule == "" {
		return
	}
	if _, err := scheduler.ParseSchedule(d.cfg.Executor.SweepSchedule); err != nil {
		d.addError(r, "sweep", "executor.sweep_schedule", err.Error())
	}
	if d.cfg.Executor.StagingRetention < minRetention {
		d.addWarning(r, "sweep", "executor.staging_retention",
			fmt.Sprintf("retention %s is shorter than %s and may remove the staging directory of a running job",
				d.cfg.Executor.StagingRetention, minRetention))
	}
}

func (d *Doctor) validateEvents(r *Result) {
	if d.cfg.Events.NatsURL == "" {
		return
	}
	if strings.TrimSpace(d.cfg.Events.Subject) == "" {
		d.addError(r, "events", "events.subject", "events.subject is required when events.nats_url is set")
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth", "API enabled but no authentication configured; process requests will always be rejected")
	}
}

var knownScopes = map[string]bool{
	auth.ScopeAll:         true,
	auth.ScopeDocumentsRW: true,
	auth.ScopeDocumentsRO: true,
	auth.ScopeMetricsRO:   true,
}

// validateTokenScopes checks that every scope is one the API understands.
func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		if len(token.Scopes) == 0 {
			d.addWarning(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes", i), "token has no scopes")
		}
		for j, scope := range token.Scopes {
			if !knownScopes[strings.TrimSpace(scope)] {
				d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q", scope))
			}
		}
	}
}

// warnShadowedStyles flags templates that can never match because an earlier
// template matches every document they would.
func (d *Doctor) warnShadowedStyles(r *Result) {
	for j, later := range d.cfg.Styles {
		for i := range j {
			if shadows(d.cfg.Styles[i].Match, later.Match) {
				d.addWarning(r, "styles", fmt.Sprintf("styles[%d]", j),
					fmt.Sprintf("style %q is unreachable; %q matches first", later.Name, d.cfg.Styles[i].Name))
				break
			}
		}
	}
}

// shadows reports whether every document matched by b is also matched by a.
func shadows(a, b map[string]string) bool {
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if av != style.Wildcard && av != bv {
			return false
		}
	}
	return true
}

// warnMissingEnvVars warns about ${VAR} references left unresolved by Load.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		if token.Token == "" {
			d.addWarning(r, "env_vars", fmt.Sprintf("api.auth.tokens[%d].token", i),
				"token value is empty (possibly unresolved environment variable)")
		}
	}

	fields := map[string]string{
		"executor.conf_host": d.cfg.Executor.ConfHost,
		"events.nats_url":    d.cfg.Events.NatsURL,
		"store.path":         d.cfg.Store.Path,
	}
	for i, arg := range d.cfg.Executor.Command {
		fields[fmt.Sprintf("executor.command[%d]", i)] = arg
	}
	for field, value := range fields {
		for _, m := range envVarRe.FindAllStringSubmatch(value, -1) {
			d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
		}
	}
}

// warnDeprecatedSyntax warns about legacy config patterns.
func (d *Doctor) warnDeprecatedSyntax(r *Result) {
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "deprecated", "api.auth",
			"both api_key and tokens configured; prefer tokens array only")
	}
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "deprecated", "api.auth.api_key",
			"legacy api_key grants full access; migrate to tokens array with scopes")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
