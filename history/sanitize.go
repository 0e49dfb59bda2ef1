package history

import (
	"strings"

	"github.com/xraph/genquota/types"
)

// StripEmbeddedBinaryData returns v with every object field whose value is
// an embedded binary string (see IsEmbeddedBinary) removed. Arrays are
// rebuilt element by element; all other values are returned unchanged.
func StripEmbeddedBinaryData(v types.Value) types.Value {
	switch v.Kind() {
	case types.KindArray:
		elems := v.Elems()
		for i, e := range elems {
			elems[i] = StripEmbeddedBinaryData(e)
		}
		return types.Array(elems...)

	case types.KindObject:
		fields := make(map[string]types.Value, v.Len())
		for _, k := range v.Keys() {
			f, _ := v.Get(k)
			if s, ok := f.StringValue(); ok && IsEmbeddedBinary(s) {
				continue
			}
			fields[k] = StripEmbeddedBinaryData(f)
		}
		return types.Object(fields)

	default:
		return v
	}
}

// IsEmbeddedBinary reports whether s is a base64 data URI such as
// "data:image/png;base64,iVBORw0...".
func IsEmbeddedBinary(s string) bool {
	if len(s) < len("data:") || !strings.EqualFold(s[:len("data:")], "data:") {
		return false
	}
	header, _, found := strings.Cut(s, ",")
	if !found {
		return false
	}
	return strings.HasSuffix(strings.ToLower(header), ";base64")
}
