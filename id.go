package genquota

import "github.com/xraph/genquota/id"

// ID is the identifier returned by RecordGeneration.
type ID = id.ID

// GenerationID identifies one generation record ("gen_" TypeID).
type GenerationID = id.GenerationID

// ParseGenerationID parses an id previously returned by RecordGeneration,
// rejecting ids of any other entity type.
func ParseGenerationID(s string) (GenerationID, error) {
	return id.ParseGenerationID(s)
}
