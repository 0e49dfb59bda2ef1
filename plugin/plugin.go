// Package plugin provides an extensible plugin system for genquota.
// Plugins can hook into engine events to extend functionality.
package plugin

import (
	"context"

	"github.com/xraph/genquota/generation"
	"github.com/xraph/genquota/history"
	"github.com/xraph/genquota/quota"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the engine is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Quota hooks
// ──────────────────────────────────────────────────

// OnQuotaChecked is called after every successful quota check.
type OnQuotaChecked interface {
	Plugin
	OnQuotaChecked(ctx context.Context, userID string, result *quota.Result) error
}

// OnQuotaExhausted is called when a quota check finds no allowance left.
type OnQuotaExhausted interface {
	Plugin
	OnQuotaExhausted(ctx context.Context, userID string, used, limit int64) error
}

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

// OnUsageIncremented is called after a usage increment lands in the store.
type OnUsageIncremented interface {
	Plugin
	OnUsageIncremented(ctx context.Context, userID string, typ generation.Type, count int64) error
}

// OnCreateRace is called when creating a period lost to a concurrent writer
// and the increment was retried against the existing document.
type OnCreateRace interface {
	Plugin
	OnCreateRace(ctx context.Context, userID, periodID string) error
}

// ──────────────────────────────────────────────────
// History hooks
// ──────────────────────────────────────────────────

// OnGenerationRecorded is called after a generation record is persisted.
type OnGenerationRecorded interface {
	Plugin
	OnGenerationRecorded(ctx context.Context, record *history.Record) error
}
