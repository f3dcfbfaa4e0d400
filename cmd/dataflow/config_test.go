package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := loadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".dataflow", "history.db"), cfg.DBPath)
	assert.True(t, cfg.History)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 4, cfg.MaxConcurrent)
	assert.Equal(t, 30*time.Second, cfg.ExecutionTimeout)
	assert.Equal(t, time.Minute, cfg.SchedulerInterval)
	assert.Equal(t, "table", cfg.Output)
	assert.Equal(t, "http://localhost:4200", cfg.BaseURL)
}

func TestLoadConfigSettingsFile(t *testing.T) {
	settings := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(settings, []byte(`{
  "max_concurrent": 8,
  "execution_timeout": "5s",
  "log_level": "debug",
  "base_url": "https://flows.example.com"
}`), 0o600))

	cfg, err := loadConfig(settings, nil)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.MaxConcurrent)
	assert.Equal(t, 5*time.Second, cfg.ExecutionTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "https://flows.example.com", cfg.BaseURL)
	// Untouched keys keep their defaults.
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoadConfigMissingSettingsFile(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.json"), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MaxConcurrent)
}

func TestLoadConfigBadSettingsFile(t *testing.T) {
	settings := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(settings, []byte(`{"max_concurrent": [`), 0o600))

	_, err := loadConfig(settings, nil)
	assert.Error(t, err)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	settings := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(settings, []byte(`{"max_concurrent": 8, "history": true}`), 0o600))
	t.Setenv("DATAFLOW_MAX_CONCURRENT", "16")
	t.Setenv("DATAFLOW_HISTORY", "false")
	t.Setenv("DATAFLOW_LISTEN_ADDR", ":9000")

	cfg, err := loadConfig(settings, nil)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.MaxConcurrent)
	assert.False(t, cfg.History)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "http://localhost:9000", cfg.BaseURL)
}

func TestLoadConfigFlagsWin(t *testing.T) {
	t.Setenv("DATAFLOW_MAX_CONCURRENT", "16")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("concurrency", 0, "")
	fs.Duration("timeout", 0, "")
	fs.String("db", "", "")
	fs.String("log-level", "", "")
	require.NoError(t, fs.Parse([]string{"--concurrency=2", "--timeout=1500ms", "--log-level=warn"}))

	cfg, err := loadConfig("", fs)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.MaxConcurrent)
	assert.Equal(t, 1500*time.Millisecond, cfg.ExecutionTimeout)
	assert.Equal(t, "warn", cfg.LogLevel)
	// Unset flags do not clobber lower layers.
	assert.NotEmpty(t, cfg.DBPath)
}
