package postgres

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

// ==================== Usage period models ====================

type periodModel struct {
	ID            string
	UserID        string
	YearMonth     string
	CountsByType  []byte
	Total         int64
	LastUpdatedAt time.Time
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
		CountsByType:  counts,
		Total:         p.Total,
		LastUpdatedAt: p.LastUpdatedAt.UTC(),
	}, nil
}

func fromPeriodModel(m *periodModel) (*usage.Period, error) {
	counts := make(map[generation.Type]int64)
	if err := json.Unmarshal(m.CountsByType, &counts); err != nil {
		return nil, fmt.Errorf("counts_by_type: %w", err)
	}
	return &usage.Period{
		ID:            m.ID,
		UserID:        m.UserID,
		YearMonth:     m.YearMonth,
		CountsByType:  counts,
		Total:         m.Total,
		LastUpdatedAt: m.LastUpdatedAt.UTC(),
	}, nil
}

// ==================== Generation record models ====================

type recordModel struct {
	ID        string
	UserID    string
	Type      string
	Prompt    string
	AssetRef  string
	Payload   []byte
	Metadata  []byte
	CreatedAt time.Time
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
		Payload:   payload,
		Metadata:  metadata,
		CreatedAt: r.CreatedAt.UTC(),
	}, nil
}

func fromRecordModel(m *recordModel) (*history.Record, error) {
	recordID, err := id.ParseGenerationID(m.ID)
	if err != nil {
		return nil, err
	}
	var payload, metadata types.Value
	if err := json.Unmarshal(m.Payload, &payload); err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	if err := json.Unmarshal(m.Metadata, &metadata); err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	return &history.Record{
		ID:        recordID,
		UserID:    m.UserID,
		Type:      generation.Type(m.Type),
		Prompt:    m.Prompt,
		AssetRef:  m.AssetRef,
		Payload:   payload,
		CreatedAt: m.CreatedAt.UTC(),
		Metadata:  metadata,
	}, nil
}
