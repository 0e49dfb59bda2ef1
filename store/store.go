package store

import (
	"context"

	"github.com/xraph/genquota/history"
	"github.com/xraph/genquota/id"
	"github.com/xraph/genquota/usage"
)

// Compile-time checks that Store satisfies the entity store contracts.
var (
	_ usage.Store   = (Store)(nil)
	_ history.Store = (Store)(nil)
)

// Store is the unified document-store interface for genquota. Every method is
// a single-document operation keyed inside the user's partition; no method
// spans documents or holds locks across calls.
type Store interface {
	// Usage period methods
	GetPeriod(ctx context.Context, userID, periodID string) (*usage.Period, error)
	CreatePeriod(ctx context.Context, p *usage.Period) error
	IncrementPeriod(ctx context.Context, userID, periodID string, inc usage.Increment) error

	// Generation history methods
	CreateRecord(ctx context.Context, r *history.Record) error
	GetRecord(ctx context.Context, userID string, recordID id.GenerationID) (*history.Record, error)
	ListRecords(ctx context.Context, userID string, opts history.ListOpts) ([]*history.Record, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
