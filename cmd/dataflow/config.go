package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Config holds all dataflow CLI and server configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	DBPath            string        `koanf:"db_path"`
	History           bool          `koanf:"history"`
	LogLevel          string        `koanf:"log_level"`
	LogFormat         string        `koanf:"log_format"`
	MaxConcurrent     int           `koanf:"max_concurrent"`
	ExecutionTimeout  time.Duration `koanf:"execution_timeout"`
	HTTPTimeout       time.Duration `koanf:"http_timeout"`
	ContinueOnMissing bool          `koanf:"continue_on_missing_executor"`
	ListenAddr        string        `koanf:"listen_addr"`
	BaseURL           string        `koanf:"base_url"`
	SchedulerInterval time.Duration `koanf:"scheduler_interval"`
	Output            string        `koanf:"output"`
	// VaultPassphrase unlocks ${{secrets.KEY}} references. Prefer the
	// DATAFLOW_VAULT_PASSPHRASE env var over writing it to settings.json.
	VaultPassphrase string `koanf:"vault_passphrase"`
}

func defaultConfig() map[string]any {
	return map[string]any{
		"db_path":                      filepath.Join(dataflowDir(), "history.db"),
		"history":                      true,
		"log_level":                    "info",
		"log_format":                   "text",
		"max_concurrent":               4,
		"execution_timeout":            30 * time.Second,
		"http_timeout":                 30 * time.Second,
		"continue_on_missing_executor": false,
		"listen_addr":                  ":4200",
		"scheduler_interval":           time.Minute,
		"output":                       "table",
	}
}

func dataflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dataflow"
	}
	return filepath.Join(home, ".dataflow")
}

func settingsPath() string {
	return filepath.Join(dataflowDir(), "settings.json")
}

// flagKeys maps CLI flag names whose config key differs from the
// snake_cased flag name.
var flagKeys = map[string]string{
	"db":          "db_path",
	"concurrency": "max_concurrent",
	"timeout":     "execution_timeout",
}

// loadConfig layers defaults, the settings file (missing is fine), DATAFLOW_*
// env vars and explicitly set flags.
func loadConfig(settings string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultConfig(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// JSON is a subset of YAML, so the YAML parser reads settings.json.
	if settings != "" {
		if _, err := os.Stat(settings); err == nil {
			if err := k.Load(file.Provider(settings), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("error reading settings file %s: %w", settings, err)
			}
		}
	}

	// DATAFLOW_MAX_CONCURRENT -> max_concurrent
	if err := k.Load(env.Provider("DATAFLOW_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "DATAFLOW_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			if mapped, ok := flagKeys[f.Name]; ok {
				key = mapped
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Derive base_url from listen_addr if empty.
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost" + cfg.ListenAddr
	}
	return &cfg, nil
}
