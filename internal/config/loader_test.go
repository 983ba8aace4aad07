package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
service:
  identity: batch-service
executor:
  command: ["/opt/batch/run.sh"]
styles:
  - name: newspaper
    conf_name: newspaper-default
    tools: [binarize, segment, ocr]
    match:
      type: newspaper
`

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), minimalConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "batch-service", cfg.Service.Identity)
	assert.Equal(t, "info", cfg.Service.LogLevel)
	assert.Equal(t, "docstore", cfg.Store.SourceID)
	assert.Equal(t, 10*time.Second, cfg.Worker.StartupGrace)
	assert.Equal(t, 2*time.Second, cfg.Worker.Cooldown)
	assert.Equal(t, "manifest.yaml", cfg.Executor.ManifestName)
	assert.True(t, cfg.Executor.SingleCoreEnabled())
	require.Len(t, cfg.Styles, 1)
	assert.Equal(t, []string{"binarize", "segment", "ocr"}, cfg.Styles[0].Tools)
}

func TestLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, minimalConfig)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "batch-service", cfg.Service.Identity)
}

func TestLoadInterpolatesEnv(t *testing.T) {
	t.Setenv("DOCBATCH_TEST_HOST", "conf.example.org")
	path := writeConfig(t, t.TempDir(), `
executor:
  conf_host: ${DOCBATCH_TEST_HOST}
  command: ["/opt/batch/run.sh"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "conf.example.org", cfg.Executor.ConfHost)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing command",
			content: "service:\n  identity: x\n",
			wantErr: "executor.command is required",
		},
		{
			name:    "bad log level",
			content: "service:\n  log_level: loud\nexecutor:\n  command: [run]\n",
			wantErr: "service.log_level",
		},
		{
			name:    "tool with plus",
			content: "executor:\n  command: [run]\nstyles:\n  - name: a\n    conf_name: a\n    tools: [\"x+y\"]\n",
			wantErr: "must be non-empty and contain no '+'",
		},
		{
			name:    "sweep without retention",
			content: "executor:\n  command: [run]\n  sweep_schedule: \"@daily\"\n",
			wantErr: "must be set together",
		},
		{
			name:    "bad sweep schedule",
			content: "executor:\n  command: [run]\n  sweep_schedule: \"every tuesday\"\n  staging_retention: 24h\n",
			wantErr: "executor.sweep_schedule",
		},
		{
			name:    "api token env unresolved",
			content: "executor:\n  command: [run]\napi:\n  enabled: true\n  listen: 127.0.0.1:0\n  auth:\n    api_key: ${DOCBATCH_UNSET_FOR_TEST}\n",
			wantErr: "${DOCBATCH_UNSET_FOR_TEST} is not set",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.content)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestChecksumsLockAndVerify(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, minimalConfig)

	manifest, err := WriteChecksums(path)
	require.NoError(t, err)
	assert.Len(t, manifest.Hashes["config.yaml"], 64)

	_, err = Load(path)
	require.NoError(t, err, "locked config must load")

	require.NoError(t, os.WriteFile(path, []byte(minimalConfig+"\n# edited\n"), 0o644))
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch")
}

func TestVerifyChecksumsWithoutManifest(t *testing.T) {
	path := writeConfig(t, t.TempDir(), minimalConfig)
	assert.NoError(t, VerifyChecksums(path))
}
