// Package memory provides an in-process store for tests and single-node
// development. Every operation holds one mutex, which gives it the same
// per-document atomicity a real document store offers.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/xraph/genquota"
	"github.com/xraph/genquota/history"
	"github.com/xraph/genquota/id"
	"github.com/xraph/genquota/store"
	"github.com/xraph/genquota/usage"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Store is an in-memory document store.
type Store struct {
	mu     sync.RWMutex
	closed bool

	// Usage periods keyed by period id
	periods map[string]*usage.Period

	// Generation records keyed by record id
	records map[string]*history.Record
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		periods: make(map[string]*usage.Period),
		records: make(map[string]*history.Record),
	}
}

// ──────────────────────────────────────────────────
// Usage period methods
// ──────────────────────────────────────────────────

// GetPeriod returns a copy of the stored period.
func (s *Store) GetPeriod(_ context.Context, userID, periodID string) (*usage.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, genquota.ErrStoreClosed
	}

	p, ok := s.periods[periodID]
	if !ok || p.UserID != userID {
		return nil, fmt.Errorf("genquota/memory: period %q: %w", periodID, genquota.ErrNotFound)
	}
	return p.Clone(), nil
}

// CreatePeriod stores p unless a period with the same id exists.
func (s *Store) CreatePeriod(_ context.Context, p *usage.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return genquota.ErrStoreClosed
	}

	if _, exists := s.periods[p.ID]; exists {
		return fmt.Errorf("genquota/memory: period %q: %w", p.ID, genquota.ErrConflict)
	}
	s.periods[p.ID] = p.Clone()
	return nil
}

// IncrementPeriod applies inc to the stored period in place.
func (s *Store) IncrementPeriod(_ context.Context, userID, periodID string, inc usage.Increment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return genquota.ErrStoreClosed
	}

	p, ok := s.periods[periodID]
	if !ok || p.UserID != userID {
		return fmt.Errorf("genquota/memory: period %q: %w", periodID, genquota.ErrNotFound)
	}

	if inc.Count < 0 || p.Total > math.MaxInt64-inc.Count {
		return fmt.Errorf("genquota/memory: period %q: %w", periodID, genquota.ErrCountOverflow)
	}

	p.CountsByType[inc.Type] += inc.Count
	p.Total += inc.Count
	p.LastUpdatedAt = inc.At.UTC()
	return nil
}

// ──────────────────────────────────────────────────
// Generation history methods
// ──────────────────────────────────────────────────

// CreateRecord stores r unless a record with the same id exists.
func (s *Store) CreateRecord(_ context.Context, r *history.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return genquota.ErrStoreClosed
	}

	key := r.ID.String()
	if _, exists := s.records[key]; exists {
		return fmt.Errorf("genquota/memory: record %q: %w", key, genquota.ErrConflict)
	}
	cp := *r
	s.records[key] = &cp
	return nil
}

// GetRecord returns a copy of the stored record.
func (s *Store) GetRecord(_ context.Context, userID string, recordID id.GenerationID) (*history.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, genquota.ErrStoreClosed
	}

	r, ok := s.records[recordID.String()]
	if !ok || r.UserID != userID {
		return nil, fmt.Errorf("genquota/memory: record %q: %w", recordID, genquota.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

// ListRecords returns the user's records newest first.
func (s *Store) ListRecords(_ context.Context, userID string, opts history.ListOpts) ([]*history.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, genquota.ErrStoreClosed
	}

	var result []*history.Record
	for _, r := range s.records {
		if r.UserID != userID {
			continue
		}
		if opts.Type != "" && r.Type != opts.Type {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID.String() > result[j].ID.String()
	})

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func applyPagination(records []*history.Record, offset, limit int) []*history.Record {
	offset = max(offset, 0)
	if offset >= len(records) {
		return []*history.Record{}
	}
	records = records[offset:]
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}

// ──────────────────────────────────────────────────
// Core methods
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (s *Store) Migrate(_ context.Context) error {
	return nil
}

// Ping reports whether the store is open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return genquota.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed; later calls return ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
