package usage

import "context"

// Store persists usage periods. Every method addresses a single document by
// its derived key within the user's partition.
//
// IncrementPeriod must apply the delta with the backend's native atomic
// increment; implementations never read, add in memory and write back.
type Store interface {
	// GetPeriod returns ErrNotFound when the month has no document yet.
	GetPeriod(ctx context.Context, userID, periodID string) (*Period, error)

	// CreatePeriod returns ErrConflict when a document with the same key exists.
	CreatePeriod(ctx context.Context, p *Period) error

	// IncrementPeriod returns ErrNotFound when the document does not exist.
	IncrementPeriod(ctx context.Context, userID, periodID string, inc Increment) error
}
