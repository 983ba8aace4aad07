package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file, or from config.yaml inside
// a directory. Unset keys keep their Defaults() value.
func Load(configPath string) (*Config, error) {
	absPath, err := ResolvePath(configPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := VerifyChecksums(absPath); err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ResolvePath turns a config file or directory argument into the absolute
// path of the config file.
func ResolvePath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// DiscoverConfigDir finds the config by checking standard locations.
// Priority order: $DOCBATCH_CONFIG_DIR, ~/.config/docbatch, /etc/docbatch, ./config.yaml
func DiscoverConfigDir() (string, error) {
	if dir := os.Getenv("DOCBATCH_CONFIG_DIR"); dir != "" {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "docbatch")
		if _, err := os.Stat(userConfigDir); err == nil {
			return userConfigDir, nil
		}
	}

	systemConfigDir := "/etc/docbatch"
	if _, err := os.Stat(systemConfigDir); err == nil {
		return systemConfigDir, nil
	}

	localConfigPath := "./config.yaml"
	if _, err := os.Stat(localConfigPath); err == nil {
		return localConfigPath, nil
	}

	return "", fmt.Errorf("no config found (checked: $DOCBATCH_CONFIG_DIR, ~/.config/docbatch, /etc/docbatch, ./config.yaml)")
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place; validate reports it where it matters.
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	switch strings.ToLower(cfg.Service.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}
	if strings.TrimSpace(cfg.Service.Identity) == "" {
		return fmt.Errorf("service.identity is required")
	}

	if cfg.Store.SourceID == "" {
		return fmt.Errorf("store.source_id is required")
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}

	if cfg.Worker.StartupGrace < 0 {
		return fmt.Errorf("worker.startup_grace must not be negative")
	}
	if cfg.Worker.Cooldown < 0 {
		return fmt.Errorf("worker.cooldown must not be negative")
	}

	if len(cfg.Executor.Command) == 0 || strings.TrimSpace(cfg.Executor.Command[0]) == "" {
		return fmt.Errorf("executor.command is required")
	}
	if cfg.Executor.ScratchDir == "" {
		return fmt.Errorf("executor.scratch_dir is required")
	}
	if cfg.Executor.ManifestName == "" || !filepath.IsLocal(cfg.Executor.ManifestName) {
		return fmt.Errorf("executor.manifest_name must be a relative file name (got %q)", cfg.Executor.ManifestName)
	}
	for i, ext := range cfg.Executor.StageExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("executor.stage_extensions[%d] must start with a dot (got %q)", i, ext)
		}
	}
	if (cfg.Executor.SweepSchedule == "") != (cfg.Executor.StagingRetention == 0) {
		return fmt.Errorf("executor.sweep_schedule and executor.staging_retention must be set together")
	}
	if cfg.Executor.StagingRetention < 0 {
		return fmt.Errorf("executor.staging_retention must not be negative")
	}
	if cfg.Executor.SweepSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Executor.SweepSchedule); err != nil {
			return fmt.Errorf("executor.sweep_schedule: %w", err)
		}
	}

	seen := make(map[string]bool, len(cfg.Styles))
	for i, s := range cfg.Styles {
		if s.Name == "" {
			return fmt.Errorf("styles[%d].name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("styles[%d]: duplicate style name %q", i, s.Name)
		}
		seen[s.Name] = true
		if s.ConfName == "" {
			return fmt.Errorf("style %q: conf_name is required", s.Name)
		}
		if len(s.Tools) == 0 {
			return fmt.Errorf("style %q: tools must be non-empty", s.Name)
		}
		for j, tool := range s.Tools {
			if tool == "" || strings.ContainsAny(tool, "+ ") {
				return fmt.Errorf("style %q: tools[%d] %q must be non-empty and contain no '+' or spaces", s.Name, j, tool)
			}
		}
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		if err := unresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		for i, tok := range cfg.API.Auth.Tokens {
			field := fmt.Sprintf("api.auth.tokens[%d].token", i)
			if tok.Token == "" {
				return fmt.Errorf("%s is required", field)
			}
			if err := unresolved(field, tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
	}

	return nil
}

func unresolved(field, value string) error {
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}
