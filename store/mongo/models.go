package mongo

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/genquota/generation"
	"github.com/xraph/genquota/history"
	"github.com/xraph/genquota/id"
	"github.com/xraph/genquota/types"
	"github.com/xraph/genquota/usage"
)

// ==================== Usage period models ====================

type periodModel struct {
	ID            string           `bson:"_id"`
	UserID        string           `bson:"user_id"`
	YearMonth     string           `bson:"year_month"`
	CountsByType  map[string]int64 `bson:"counts_by_type"`
	Total         int64            `bson:"total"`
	LastUpdatedAt time.Time        `bson:"last_updated_at"`
}

func toPeriodModel(p *usage.Period) *periodModel {
	counts := make(map[string]int64, len(p.CountsByType))
	for k, v := range p.CountsByType {
		counts[string(k)] = v
	}
	return &periodModel{
		ID:            p.ID,
		UserID:        p.UserID,
		YearMonth:     p.YearMonth,
		CountsByType:  counts,
		Total:         p.Total,
		LastUpdatedAt: p.LastUpdatedAt.UTC(),
	}
}

func fromPeriodModel(m *periodModel) *usage.Period {
	counts := make(map[generation.Type]int64, len(m.CountsByType))
	for k, v := range m.CountsByType {
		counts[generation.Type(k)] = v
	}
	return &usage.Period{
		ID:            m.ID,
		UserID:        m.UserID,
		YearMonth:     m.YearMonth,
		CountsByType:  counts,
		Total:         m.Total,
		LastUpdatedAt: m.LastUpdatedAt.UTC(),
	}
}

// ==================== Generation record models ====================

type recordModel struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	Type      string    `bson:"type"`
	Prompt    string    `bson:"prompt"`
	AssetRef  string    `bson:"asset_ref"`
	Payload   any       `bson:"payload"`
	Metadata  any       `bson:"metadata"`
	CreatedAt time.Time `bson:"created_at"`
}

func toRecordModel(r *history.Record) *recordModel {
	return &recordModel{
		ID:        r.ID.String(),
		UserID:    r.UserID,
		Type:      string(r.Type),
		Prompt:    r.Prompt,
		AssetRef:  r.AssetRef,
		Payload:   r.Payload.Any(),
		Metadata:  r.Metadata.Any(),
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func fromRecordModel(m *recordModel) (*history.Record, error) {
	recordID, err := id.ParseGenerationID(m.ID)
	if err != nil {
		return nil, err
	}
	payload, err := fromBSON(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	metadata, err := fromBSON(m.Metadata)
	if err != nil {
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

// fromBSON converts a decoded BSON value back into a types.Value. Documents
// decode as bson.D when the target is any.
func fromBSON(x any) (types.Value, error) {
	switch t := x.(type) {
	case bson.D:
		fields := make(map[string]types.Value, len(t))
		for _, e := range t {
			v, err := fromBSON(e.Value)
			if err != nil {
				return types.Value{}, fmt.Errorf("key %q: %w", e.Key, err)
			}
			fields[e.Key] = v
		}
		return types.Object(fields), nil
	case bson.M:
		fields := make(map[string]types.Value, len(t))
		for k, e := range t {
			v, err := fromBSON(e)
			if err != nil {
				return types.Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			fields[k] = v
		}
		return types.Object(fields), nil
	case bson.A:
		elems := make([]types.Value, len(t))
		for i, e := range t {
			v, err := fromBSON(e)
			if err != nil {
				return types.Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			elems[i] = v
		}
		return types.Array(elems...), nil
	case bson.DateTime:
		return types.String(t.Time().UTC().Format(time.RFC3339Nano)), nil
	default:
		return types.FromAny(x)
	}
}
