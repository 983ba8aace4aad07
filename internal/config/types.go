package config

import "time"

// Config represents the complete docbatch configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Store    StoreConfig    `yaml:"store"`
	Events   EventsConfig   `yaml:"events,omitempty"`
	Worker   WorkerConfig   `yaml:"worker"`
	Executor ExecutorConfig `yaml:"executor"`
	Styles   []StyleConfig  `yaml:"styles"`
	API      APIConfig      `yaml:"api,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name string `yaml:"name"`
	// Identity is the principal docbatch checks documents out under. Updates
	// authored by it are never rescheduled.
	Identity  string `yaml:"identity"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file,omitempty"`
}

// StoreConfig defines the document store docbatch listens to.
type StoreConfig struct {
	// SourceID names the canonical store implementation. Events from any other
	// source are ignored.
	SourceID         string `yaml:"source_id"`
	Path             string `yaml:"path"`
	AnnotationPrefix string `yaml:"annotation_prefix"`
}

// EventsConfig defines the optional NATS event feed.
type EventsConfig struct {
	NatsURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// WorkerConfig defines worker loop pacing.
type WorkerConfig struct {
	StartupGrace time.Duration `yaml:"startup_grace"`
	Cooldown     time.Duration `yaml:"cooldown"`
}

// ExecutorConfig defines how the batch tool runner is staged and spawned.
type ExecutorConfig struct {
	// Command is the runner invocation prefix, e.g. [java, -jar, /opt/batch.jar].
	Command         []string `yaml:"command"`
	ConfHost        string   `yaml:"conf_host,omitempty"`
	ScratchDir      string   `yaml:"scratch_dir"`
	StageExtensions []string `yaml:"stage_extensions"`
	ManifestName    string   `yaml:"manifest_name"`
	SingleCore      *bool    `yaml:"single_core,omitempty"`
	// StagingRetention and SweepSchedule enable periodic removal of retained
	// staging directories. Both must be set.
	StagingRetention time.Duration `yaml:"staging_retention,omitempty"`
	SweepSchedule    string        `yaml:"sweep_schedule,omitempty"`
}

// SingleCoreEnabled reports whether the runner is forced onto a single core.
func (e ExecutorConfig) SingleCoreEnabled() bool {
	return e.SingleCore == nil || *e.SingleCore
}

// StyleConfig defines one style template. A document matches when every
// match key is present in its metadata with an equal value; "*" matches any
// value.
type StyleConfig struct {
	Name     string            `yaml:"name"`
	ConfName string            `yaml:"conf_name"`
	Tools    []string          `yaml:"tools"`
	Match    map[string]string `yaml:"match"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with full access.
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "docbatch",
			Identity:  "docbatch",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Store: StoreConfig{
			SourceID:         "docstore",
			Path:             "./data/documents.db",
			AnnotationPrefix: "annotations/",
		},
		Events: EventsConfig{
			Subject: "docbatch.store.events",
		},
		Worker: WorkerConfig{
			StartupGrace: 10 * time.Second,
			Cooldown:     2 * time.Second,
		},
		Executor: ExecutorConfig{
			ScratchDir:      "./data/scratch",
			StageExtensions: []string{".xml", ".png", ".jpg", ".jpeg", ".tif", ".tiff"},
			ManifestName:    "manifest.yaml",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}
