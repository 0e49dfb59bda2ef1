// Package usage models the per-user, per-calendar-month generation counter.
package usage

import (
	"time"

	"github.com/xraph/genquota/generation"
)

// yearMonthLayout formats the month component of a period key.
const yearMonthLayout = "2006-01"

// Period is the usage document for one user in one calendar month. Counters
// only ever grow; a new month is a new document.
type Period struct {
	ID            string                    `json:"id"`
	UserID        string                    `json:"user_id"`
	YearMonth     string                    `json:"year_month"`
	CountsByType  map[generation.Type]int64 `json:"counts_by_type"`
	Total         int64                     `json:"total"`
	LastUpdatedAt time.Time                 `json:"last_updated_at"`
}

// Increment is the field-level delta applied to an existing period.
type Increment struct {
	Type  generation.Type
	Count int64
	At    time.Time
}

// YearMonth returns the UTC calendar month of t as "YYYY-MM".
func YearMonth(t time.Time) string {
	return t.UTC().Format(yearMonthLayout)
}

// Key returns the period document key "{userID}:{YYYY-MM}" for the month
// containing t.
func Key(userID string, t time.Time) string {
	return KeyFor(userID, YearMonth(t))
}

// KeyFor returns the period document key for an explicit "YYYY-MM" month.
func KeyFor(userID, yearMonth string) string {
	return userID + ":" + yearMonth
}

// ParseYearMonth validates a "YYYY-MM" string.
func ParseYearMonth(s string) (time.Time, error) {
	return time.Parse(yearMonthLayout, s)
}

// NewPeriod builds the first document of a month: every known type at zero,
// count at typ, and total equal to count.
func NewPeriod(userID string, at time.Time, typ generation.Type, count int64) *Period {
	counts := make(map[generation.Type]int64, len(generation.All()))
	for _, t := range generation.All() {
		counts[t] = 0
	}
	counts[typ] = count

	return &Period{
		ID:            Key(userID, at),
		UserID:        userID,
		YearMonth:     YearMonth(at),
		CountsByType:  counts,
		Total:         count,
		LastUpdatedAt: at.UTC(),
	}
}

// Count returns the counter for typ, zero when it has never been written.
func (p *Period) Count(typ generation.Type) int64 {
	if p == nil {
		return 0
	}
	return p.CountsByType[typ]
}

// Clone returns a deep copy of p.
func (p *Period) Clone() *Period {
	if p == nil {
		return nil
	}
	c := *p
	c.CountsByType = make(map[generation.Type]int64, len(p.CountsByType))
	for k, v := range p.CountsByType {
		c.CountsByType[k] = v
	}
	return &c
}
