package doctor

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/docbatch/internal/config"
)

func validConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Executor.Command = []string{"batch-runner", "--quiet"}
	cfg.Styles = []config.StyleConfig{
		{Name: "newspaper", ConfName: "np", Tools: []string{"ocr"}, Match: map[string]string{"type": "newspaper"}},
		{Name: "any", ConfName: "generic", Tools: []string{"ocr"}, Match: map[string]string{"type": "*"}},
	}
	return cfg
}

// newTestDoctor stubs out PATH lookup and filesystem detection.
func newTestDoctor(cfg *config.Config) *Doctor {
	d := New(cfg)
	d.lookPath = func(name string) (string, error) {
		if name == "batch-runner" {
			return "/usr/local/bin/batch-runner", nil
		}
		return "", errors.New("executable file not found in $PATH")
	}
	d.fsDetector = func(what, path string) error { return nil }
	return d
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := newTestDoctor(validConfig()).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_RunnerNotFound(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Executor.Command = []string{"missing-runner"}
	r := newTestDoctor(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "executor", "missing-runner")
}

func TestValidate_IncompleteStyle(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Styles[0].Tools = nil
	r := newTestDoctor(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "styles", "newspaper")
}

func TestValidate_NetworkFilesystem(t *testing.T) {
	t.Parallel()
	d := newTestDoctor(validConfig())
	d.fsDetector = func(what, path string) error {
		if what == "scratch root" {
			return errors.New("scratch root is on network filesystem \"nfs\"")
		}
		return nil
	}
	r := d.Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "filesystem", "nfs")
}

func TestValidate_UnknownTokenScope(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Enabled = true
	cfg.API.Auth.Tokens = []config.APIToken{
		{Token: "a", Scopes: []string{"documents:rw"}},
		{Token: "b", Scopes: []string{"plugins:rw"}},
	}
	r := newTestDoctor(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "token_scopes", "plugins:rw")
}

func TestValidate_EventsWithoutSubject(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Events.NatsURL = "nats://localhost:4222"
	cfg.Events.Subject = ""
	r := newTestDoctor(cfg).Validate()
	assertHasError(t, r, "events", "events.subject")
}

func TestValidate_WarnShortRetention(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Executor.SweepSchedule = "@hourly"
	cfg.Executor.StagingRetention = 10 * time.Minute
	r := newTestDoctor(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "sweep", "running job")
}

func TestValidate_WarnShadowedStyle(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Styles = append([]config.StyleConfig{
		{Name: "catch-all", ConfName: "generic", Tools: []string{"ocr"}},
	}, cfg.Styles...)
	r := newTestDoctor(cfg).Validate()
	assertHasWarning(t, r, "styles", `"newspaper" is unreachable`)
	assertHasWarning(t, r, "styles", `"any" is unreachable`)
}

func TestShadows(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		a, b map[string]string
		want bool
	}{
		{"empty shadows all", nil, map[string]string{"type": "x"}, true},
		{"equal", map[string]string{"type": "x"}, map[string]string{"type": "x"}, true},
		{"wildcard covers value", map[string]string{"type": "*"}, map[string]string{"type": "x"}, true},
		{"value does not cover wildcard", map[string]string{"type": "x"}, map[string]string{"type": "*"}, false},
		{"extra key in a", map[string]string{"type": "x", "lang": "de"}, map[string]string{"type": "x"}, false},
		{"different value", map[string]string{"type": "x"}, map[string]string{"type": "y"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shadows(tt.a, tt.b); got != tt.want {
				t.Fatalf("shadows() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidate_WarnUnresolvedEnvVar(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Executor.ConfHost = "${CONF_HOST}"
	r := newTestDoctor(cfg).Validate()
	assertHasWarning(t, r, "env_vars", "${CONF_HOST}")
}

func TestValidate_WarnDeprecatedAPIKey(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Auth.APIKey = "old-key"
	r := newTestDoctor(cfg).Validate()
	assertHasWarning(t, r, "deprecated", "api_key")
}

func TestValidate_WarnBothAPIKeyAndTokens(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Auth.APIKey = "old-key"
	cfg.API.Auth.Tokens = []config.APIToken{{Token: "new-key", Scopes: []string{"*"}}}
	r := newTestDoctor(cfg).Validate()
	assertHasWarning(t, r, "deprecated", "both")
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Message: "bad thing"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bad thing") {
		t.Fatalf("expected JSON to contain error message, got: %s", out)
	}
}

func TestFormatHuman_Valid(t *testing.T) {
	t.Parallel()
	out := FormatHuman(&Result{Valid: true})
	if !strings.Contains(out, "valid") {
		t.Fatalf("expected 'valid' in output, got: %s", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "ERROR") || !strings.Contains(out, "broken") {
		t.Fatalf("expected error in output, got: %s", out)
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && (strings.Contains(e.Message, substring) || strings.Contains(e.Field, substring)) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
