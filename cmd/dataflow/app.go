package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rendis/dataflow/internal/engine"
	"github.com/rendis/dataflow/internal/executors"
	"github.com/rendis/dataflow/internal/logging"
	"github.com/rendis/dataflow/internal/secrets"
	"github.com/rendis/dataflow/internal/store"
	"github.com/rendis/dataflow/internal/streaming"
	"github.com/rendis/dataflow/internal/validation"
)

const hubBuffer = 256

// app holds the wired components shared by the commands.
type app struct {
	cfg       *Config
	logger    *slog.Logger
	registry  *executors.Registry
	validator *validation.PipelineValidator
	engine    *engine.Engine
	hub       *streaming.MemoryHub
	opts      engine.Options
	engines   []*engine.Engine

	// Nil when run history is disabled.
	store    *store.LibSQLStore
	eventLog *store.EventLog
	// Nil unless history is enabled and a vault passphrase is set.
	vault *secrets.AESVault

	stopRecording func()
}

// newApp builds the registry, validator, engine and, when history is
// enabled, the libSQL store that records runs and their events.
func newApp(ctx context.Context, cfg *Config, logOut io.Writer) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logging.NewLogger(cfg.LogLevel, cfg.LogFormat, logOut),
		hub:    streaming.NewMemoryHub(hubBuffer),
	}

	if cfg.History {
		if err := a.openStore(ctx); err != nil {
			return nil, err
		}
		if cfg.VaultPassphrase != "" {
			if err := a.openVault(ctx); err != nil {
				a.close()
				return nil, err
			}
		}
	}

	httpCfg := executors.HTTPConfig{
		DefaultTimeout: cfg.HTTPTimeout,
		Breakers:       executors.NewHostBreakers(executors.DefaultBreakerConfig()),
		Logger:         a.logger,
	}
	if a.vault != nil {
		httpCfg.Secrets = a.vault
	}

	a.registry = executors.NewRegistry(a.logger)
	if err := executors.RegisterBuiltins(a.registry, executors.BuiltinConfig{HTTP: httpCfg}); err != nil {
		a.close()
		return nil, fmt.Errorf("register builtins: %w", err)
	}

	pv, err := validation.NewPipelineValidator(a.registry)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("pipeline validator: %w", err)
	}
	jsv, err := validation.NewJSONSchemaValidator()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("config validator: %w", err)
	}
	a.validator = pv

	a.opts = engine.Options{
		Logger:    a.logger,
		Validator: jsv,
		Publisher: a.hub,
		Config: engine.Config{
			MaxConcurrentExecutions:   cfg.MaxConcurrent,
			ExecutionTimeout:          cfg.ExecutionTimeout,
			ContinueOnMissingExecutor: cfg.ContinueOnMissing,
		},
	}
	if a.store != nil {
		a.opts.Recorder = a.store
	}
	a.engine = a.newEngine()
	return a, nil
}

// newEngine returns another engine sharing the registry, hub and store.
// Each engine runs one pipeline at a time, so independent callers such as
// the scheduler get their own.
func (a *app) newEngine() *engine.Engine {
	e := engine.New(a.registry, a.opts)
	a.engines = append(a.engines, e)
	return e
}

func (a *app) openStore(ctx context.Context) error {
	if dir := filepath.Dir(a.cfg.DBPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}

	s, err := store.NewLibSQLStore("file:" + a.cfg.DBPath)
	if err != nil {
		return err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return fmt.Errorf("migrate: %w", err)
	}

	el := store.NewEventLog(s, a.logger)
	stop, err := el.Record(ctx, a.hub, streaming.EventFilter{})
	if err != nil {
		_ = s.Close()
		return fmt.Errorf("record events: %w", err)
	}

	a.store = s
	a.eventLog = el
	a.stopRecording = stop
	return nil
}

// openVault derives the vault key from the configured passphrase and the
// salt kept in the history database.
func (a *app) openVault(ctx context.Context) error {
	salt, err := a.store.VaultSalt(ctx)
	if err != nil {
		return fmt.Errorf("vault salt: %w", err)
	}
	v, err := secrets.NewAESVault(a.store, secrets.VaultConfig{Passphrase: a.cfg.VaultPassphrase, Salt: salt})
	if err != nil {
		return err
	}
	a.vault = v
	return nil
}

// requireVault returns the vault or explains how to enable it.
func (a *app) requireVault() (*secrets.AESVault, error) {
	if _, err := a.requireStore(); err != nil {
		return nil, err
	}
	if a.vault == nil {
		return nil, fmt.Errorf("no vault passphrase configured (set DATAFLOW_VAULT_PASSPHRASE)")
	}
	return a.vault, nil
}

// requireStore returns the history store or an error when history is off.
func (a *app) requireStore() (*store.LibSQLStore, error) {
	if a.store == nil {
		return nil, fmt.Errorf("run history is disabled (set history=true or drop --history=false)")
	}
	return a.store, nil
}

func (a *app) close() {
	for _, e := range a.engines {
		e.Shutdown()
	}
	if a.stopRecording != nil {
		a.stopRecording()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close store", "error", err)
		}
	}
}
