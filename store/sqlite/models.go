package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/genquota/generation"
	"github.com/xraph/genquota/history"
	"github.com/xraph/genquota/id"
	"github.com/xraph/genquota/types"
	"github.com/xraph/genquota/usage"
)

// timeLayout is fixed width so TEXT timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// ==================== Usage period models ====================

type periodModel struct {
	ID            string
	UserID        string
	YearMonth     string
	CountsByType  string
	Total         int64
	LastUpdatedAt string
}

func toPeriodModel(p *usage.Period) (*periodModel, error) {
	counts, err := json.Marshal(p.CountsByType)
	if err != nil {
		return nil, err
	}
	return &periodModel{
		ID:            p.ID,
		UserID:        p.UserID,
		YearMonth:     p.YearMonth,
		CountsByType:  string(counts),
		Total:         p.Total,
		LastUpdatedAt: formatTime(p.LastUpdatedAt),
	}, nil
}

func fromPeriodModel(m *periodModel) (*usage.Period, error) {
	counts := make(map[generation.Type]int64)
	if err := json.Unmarshal([]byte(m.CountsByType), &counts); err != nil {
		return nil, fmt.Errorf("counts_by_type: %w", err)
	}
	updated, err := parseTime(m.LastUpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("last_updated_at: %w", err)
	}
	return &usage.Period{
		ID:            m.ID,
		UserID:        m.UserID,
		YearMonth:     m.YearMonth,
		CountsByType:  counts,
		Total:         m.Total,
		LastUpdatedAt: updated,
	}, nil
}

// ==================== Generation record models ====================

type recordModel struct {
	ID        string
	UserID    string
	Type      string
	Prompt    string
	AssetRef  string
	Payload   string
	Metadata  string
	CreatedAt string
}

func toRecordModel(r *history.Record) (*recordModel, error) {
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return nil, err
	}
	metadata, err := json.Marshal(r.Metadata)
	if err != nil {
		return nil, err
	}
	return &recordModel{
		ID:        r.ID.String(),
		UserID:    r.UserID,
		Type:      string(r.Type),
		Prompt:    r.Prompt,
		AssetRef:  r.AssetRef,
		Payload:   string(payload),
		Metadata:  string(metadata),
		CreatedAt: formatTime(r.CreatedAt),
	}, nil
}

func fromRecordModel(m *recordModel) (*history.Record, error) {
	recordID, err := id.ParseGenerationID(m.ID)
	if err != nil {
		return nil, err
	}
	var payload, metadata types.Value
	if err := json.Unmarshal([]byte(m.Payload), &payload); err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	if err := json.Unmarshal([]byte(m.Metadata), &metadata); err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	created, err := parseTime(m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	return &history.Record{
		ID:        recordID,
		UserID:    m.UserID,
		Type:      generation.Type(m.Type),
		Prompt:    m.Prompt,
		AssetRef:  m.AssetRef,
		Payload:   payload,
		CreatedAt: created,
		Metadata:  metadata,
	}, nil
}
