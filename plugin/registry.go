package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/genquota/generation"
	"github.com/xraph/genquota/history"
	"github.com/xraph/genquota/quota"
)

// defaultHookTimeout bounds a single hook call.
const defaultHookTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit               []OnInit
	onShutdown           []OnShutdown
	onQuotaChecked       []OnQuotaChecked
	onQuotaExhausted     []OnQuotaExhausted
	onUsageIncremented   []OnUsageIncremented
	onCreateRace         []OnCreateRace
	onGenerationRecorded []OnGenerationRecorded
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: defaultHookTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnQuotaChecked); ok {
		r.onQuotaChecked = append(r.onQuotaChecked, v)
	}
	if v, ok := p.(OnQuotaExhausted); ok {
		r.onQuotaExhausted = append(r.onQuotaExhausted, v)
	}
	if v, ok := p.(OnUsageIncremented); ok {
		r.onUsageIncremented = append(r.onUsageIncremented, v)
	}
	if v, ok := p.(OnCreateRace); ok {
		r.onCreateRace = append(r.onCreateRace, v)
	}
	if v, ok := p.(OnGenerationRecorded); ok {
		r.onGenerationRecorded = append(r.onGenerationRecorded, v)
	}

	r.logger.Debug("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

// implementedInterfaces returns the hook interfaces implemented by p.
func implementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	check := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	check(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	check(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	check(reflect.TypeOf((*OnQuotaChecked)(nil)).Elem(), "OnQuotaChecked")
	check(reflect.TypeOf((*OnQuotaExhausted)(nil)).Elem(), "OnQuotaExhausted")
	check(reflect.TypeOf((*OnUsageIncremented)(nil)).Elem(), "OnUsageIncremented")
	check(reflect.TypeOf((*OnCreateRace)(nil)).Elem(), "OnCreateRace")
	check(reflect.TypeOf((*OnGenerationRecorded)(nil)).Elem(), "OnGenerationRecorded")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnInit", func(ctx context.Context) error {
			return p.OnInit(ctx, engine)
		})
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnShutdown", func(ctx context.Context) error {
			return p.OnShutdown(ctx)
		})
	}
}

// EmitQuotaChecked emits a quota checked event.
func (r *Registry) EmitQuotaChecked(ctx context.Context, userID string, result *quota.Result) {
	r.mu.RLock()
	plugins := r.onQuotaChecked
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnQuotaChecked", func(ctx context.Context) error {
			return p.OnQuotaChecked(ctx, userID, result)
		})
	}
}

// EmitQuotaExhausted emits a quota exhausted event.
func (r *Registry) EmitQuotaExhausted(ctx context.Context, userID string, used, limit int64) {
	r.mu.RLock()
	plugins := r.onQuotaExhausted
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnQuotaExhausted", func(ctx context.Context) error {
			return p.OnQuotaExhausted(ctx, userID, used, limit)
		})
	}
}

// EmitUsageIncremented emits a usage incremented event.
func (r *Registry) EmitUsageIncremented(ctx context.Context, userID string, typ generation.Type, count int64) {
	r.mu.RLock()
	plugins := r.onUsageIncremented
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnUsageIncremented", func(ctx context.Context) error {
			return p.OnUsageIncremented(ctx, userID, typ, count)
		})
	}
}

// EmitCreateRace emits a create race event.
func (r *Registry) EmitCreateRace(ctx context.Context, userID, periodID string) {
	r.mu.RLock()
	plugins := r.onCreateRace
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnCreateRace", func(ctx context.Context) error {
			return p.OnCreateRace(ctx, userID, periodID)
		})
	}
}

// EmitGenerationRecorded emits a generation recorded event.
func (r *Registry) EmitGenerationRecorded(ctx context.Context, record *history.Record) {
	r.mu.RLock()
	plugins := r.onGenerationRecorded
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnGenerationRecorded", func(ctx context.Context) error {
			return p.OnGenerationRecorded(ctx, record)
		})
	}
}

// dispatch runs one hook and logs its failure. Hook errors never reach the
// engine's callers.
func (r *Registry) dispatch(ctx context.Context, pluginName, hook string, fn func(context.Context) error) {
	if err := r.callWithTimeout(ctx, pluginName, fn); err != nil {
		r.logger.Warn("plugin "+hook+" failed",
			"plugin", pluginName,
			"error", err,
		)
	}
}

// callWithTimeout calls a plugin function with a timeout. The hook's context
// is cancelled once the timeout elapses or the caller's context ends.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func(context.Context) error) error {
	hookCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- fn(hookCtx)
	}()

	var err error
	select {
	case err = <-done:
	case <-hookCtx.Done():
	}

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case hookCtx.Err() != nil:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	default:
		return err
	}
}
