// Package history models the append-only log of generation events.
package history

import (
	"time"

	"github.com/xraph/genquota/generation"
	"github.com/xraph/genquota/id"
	"github.com/xraph/genquota/types"
)

// Record is one immutable generation event.
type Record struct {
	ID        id.GenerationID `json:"id"`
	UserID    string          `json:"user_id"`
	Type      generation.Type `json:"type"`
	Prompt    string          `json:"prompt"`
	AssetRef  string          `json:"asset_ref,omitempty"`
	Payload   types.Value     `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Metadata  types.Value     `json:"metadata"`
}

// Input carries what a caller supplies when recording a generation. Payload
// is sanitized before persistence; the other fields are stored as given.
type Input struct {
	UserID   string
	Type     generation.Type
	Prompt   string
	AssetRef string
	Payload  types.Value
	Metadata types.Value
}

// NewRecord builds the record persisted for in.
func NewRecord(recordID id.GenerationID, in Input, createdAt time.Time) *Record {
	return &Record{
		ID:        recordID,
		UserID:    in.UserID,
		Type:      in.Type,
		Prompt:    in.Prompt,
		AssetRef:  in.AssetRef,
		Payload:   StripEmbeddedBinaryData(in.Payload),
		CreatedAt: createdAt.UTC(),
		Metadata:  in.Metadata,
	}
}
