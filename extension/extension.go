// Package extension provides the Forge extension adapter for genquota.
//
// It implements the forge.Extension interface to integrate the quota engine
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.genquota" or "genquota" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/genquota"
	"github.com/xraph/genquota/store"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "genquota"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Monthly generation quota ledger"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts genquota as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *genquota.Ledger
	store      store.Store
	engineOpts []genquota.Option
}

// New creates a new genquota Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying engine.
// This is nil until Register is called.
func (e *Extension) Engine() *genquota.Ledger { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.store == nil {
		s, err := OpenStore(context.Background(), e.config.Database)
		if err != nil {
			return err
		}
		e.store = s
	}

	e.engine = genquota.New(e.store, buildEngineOpts(e.config, e.engineOpts)...)

	return vessel.Provide(fapp.Container(), func() (*genquota.Ledger, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("genquota: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("genquota: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildEngineOpts constructs genquota.Option values from the resolved config.
// Pass-through options come last so they win.
func buildEngineOpts(cfg Config, passThrough []genquota.Option) []genquota.Option {
	opts := make([]genquota.Option, 0, len(passThrough)+4)

	if cfg.DefaultMonthlyLimit > 0 {
		opts = append(opts, genquota.WithDefaultLimit(cfg.DefaultMonthlyLimit))
	}
	if cfg.CreateRaceRetries > 0 {
		opts = append(opts, genquota.WithCreateRaceRetries(cfg.CreateRaceRetries))
	}
	if cfg.HookTimeout > 0 {
		opts = append(opts, genquota.WithHookTimeout(cfg.HookTimeout))
	}
	if cfg.DisableMigrate {
		opts = append(opts, genquota.WithoutMigrate())
	}

	return append(opts, passThrough...)
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("genquota: configuration is required but not found in config files; " +
				"ensure 'extensions.genquota' or 'genquota' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	if err := e.config.Validate(); err != nil {
		return fmt.Errorf("genquota: invalid configuration: %w", err)
	}

	e.Logger().Debug("genquota: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("default_monthly_limit", e.config.DefaultMonthlyLimit),
		forge.F("create_race_retries", e.config.CreateRaceRetries),
		forge.F("hook_timeout", e.config.HookTimeout),
		forge.F("database_driver", e.config.Database.Driver),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	// "extensions.genquota" first (namespaced pattern), then the bare key.
	for _, key := range []string{"extensions.genquota", "genquota"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("genquota: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("genquota: loaded config from file",
			forge.F("key", key),
		)
		return cfg, true
	}

	return Config{}, false
}
