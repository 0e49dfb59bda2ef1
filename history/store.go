package history

import (
	"context"

	"github.com/xraph/genquota/generation"
	"github.com/xraph/genquota/id"
)

// Store persists generation records. Records are created, never updated.
type Store interface {
	// CreateRecord returns ErrConflict when the id is already taken.
	CreateRecord(ctx context.Context, r *Record) error
	GetRecord(ctx context.Context, userID string, recordID id.GenerationID) (*Record, error)
	// ListRecords returns a user's records newest first.
	ListRecords(ctx context.Context, userID string, opts ListOpts) ([]*Record, error)
}

// ListOpts filters and pages ListRecords.
type ListOpts struct {
	// Type restricts the listing to one generation type when set.
	Type generation.Type
	// Limit caps the number of records; zero means no cap.
	Limit  int
	Offset int
}
