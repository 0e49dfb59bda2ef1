package genquota

import (
	"github.com/xraph/genquota/generation"
	"github.com/xraph/genquota/history"
	"github.com/xraph/genquota/types"
)

// Re-export common types for convenience so users don't have to import the
// generation, history and types packages.

// GenerationType is re-exported from generation package.
type GenerationType = generation.Type

// Value is re-exported from types package.
type Value = types.Value

// Re-export generation types
const (
	TypeMoodboard = generation.TypeMoodboard
	TypeRender    = generation.TypeRender
	TypeTexture   = generation.TypeTexture
	TypeUpscale   = generation.TypeUpscale
)

// Re-export value constructors and the payload sanitizer
var (
	FromAny                 = types.FromAny
	MustFromAny             = types.MustFromAny
	StripEmbeddedBinaryData = history.StripEmbeddedBinaryData
)
