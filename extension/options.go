package extension

import (
	"time"

	"github.com/xraph/genquota"
	"github.com/xraph/genquota/plugin"
	"github.com/xraph/genquota/store"
)

// Option configures the genquota Forge extension.
type Option func(*Extension)

// WithStore sets the store for the engine. It takes precedence over the
// database section of the config.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithEngineOption passes a genquota.Option through to the underlying engine.
func WithEngineOption(opt genquota.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers an engine plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, genquota.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithDefaultMonthlyLimit sets the limit Remaining applies.
func WithDefaultMonthlyLimit(limit int64) Option {
	return func(e *Extension) { e.config.DefaultMonthlyLimit = limit }
}

// WithCreateRaceRetries sets the retries after a lost create race.
func WithCreateRaceRetries(n int) Option {
	return func(e *Extension) { e.config.CreateRaceRetries = n }
}

// WithHookTimeout bounds each plugin hook call.
func WithHookTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.HookTimeout = d }
}

// WithDatabase selects the store backend built by OpenStore.
func WithDatabase(db DatabaseConfig) Option {
	return func(e *Extension) { e.config.Database = db }
}
