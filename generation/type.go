// Package generation defines the closed set of billable generation types.
package generation

import (
	"errors"
	"fmt"
)

// Type tags a billable generation event.
type Type string

// Known generation types. The set is closed; counters for types not listed
// here do not exist.
const (
	TypeMoodboard Type = "moodboard"
	TypeRender    Type = "render"
	TypeTexture   Type = "texture"
	TypeUpscale   Type = "upscale"
)

// ErrUnknownType is returned by Parse for a name outside the known set.
var ErrUnknownType = errors.New("generation: unknown type")

var all = []Type{TypeMoodboard, TypeRender, TypeTexture, TypeUpscale}

// All returns every known generation type in a stable order.
func All() []Type {
	out := make([]Type, len(all))
	copy(out, all)
	return out
}

// Valid reports whether t is one of the known generation types.
func (t Type) Valid() bool {
	for _, k := range all {
		if t == k {
			return true
		}
	}
	return false
}

func (t Type) String() string { return string(t) }

// Parse returns the Type named by s.
func Parse(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w %q", ErrUnknownType, s)
	}
	return t, nil
}
