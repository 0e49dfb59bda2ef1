package history_test

import (
	"encoding/json"
	"testing"

	"github.com/xraph/genquota/history"
	"github.com/xraph/genquota/types"
)

const pngURI = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk"

func mustValue(t *testing.T, s string) types.Value {
	t.Helper()
	var v types.Value
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return v
}

func TestIsEmbeddedBinary(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{pngURI, true},
		{"DATA:image/jpeg;BASE64,/9j/4AAQ", true},
		{"data:application/pdf;name=spec.pdf;base64,JVBERi0x", true},
		{"data:text/plain,hello", false},
		{"data:image/png;base64", false},
		{"https://cdn.example.com/render.png", false},
		{"metadata: base64,abc", false},
		{"", false},
		{"data:", false},
	}

	for _, tt := range tests {
		if got := history.IsEmbeddedBinary(tt.in); got != tt.want {
			t.Errorf("IsEmbeddedBinary(%.30q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStripEmbeddedBinaryData(t *testing.T) {
	in := mustValue(t, `{
		"room": "kitchen",
		"source": "`+pngURI+`",
		"count": 3,
		"approved": true,
		"notes": null,
		"materials": [
			{"name": "oak", "swatch": "`+pngURI+`", "finish": "oiled"},
			{"name": "brass", "tags": ["warm", "`+pngURI+`"]},
			"`+pngURI+`",
			7
		],
		"scene": {"lighting": {"preview": "`+pngURI+`", "kelvin": 3200}}
	}`)

	want := mustValue(t, `{
		"room": "kitchen",
		"count": 3,
		"approved": true,
		"notes": null,
		"materials": [
			{"name": "oak", "finish": "oiled"},
			{"name": "brass", "tags": ["warm", "`+pngURI+`"]},
			"`+pngURI+`",
			7
		],
		"scene": {"lighting": {"kelvin": 3200}}
	}`)

	got := history.StripEmbeddedBinaryData(in)
	if !types.Equal(got, want) {
		gotJSON, _ := json.Marshal(got)
		t.Fatalf("sanitized mismatch:\n got %s", gotJSON)
	}

	if _, ok := got.Get("source"); ok {
		t.Error("source key should be omitted, not blanked")
	}

	again := history.StripEmbeddedBinaryData(got)
	if !types.Equal(again, got) {
		t.Error("sanitizer is not idempotent")
	}

	if _, ok := in.Get("source"); !ok {
		t.Error("sanitizer mutated its input")
	}
}

func TestStripEmbeddedBinaryDataScalars(t *testing.T) {
	scalars := []types.Value{
		types.Null(),
		types.Bool(false),
		types.Number(1.25),
		types.String("plain"),
		types.String(pngURI),
	}
	for _, v := range scalars {
		if got := history.StripEmbeddedBinaryData(v); !types.Equal(got, v) {
			t.Errorf("scalar %v changed to %v", v.Any(), got.Any())
		}
	}
}

func TestStripEmbeddedBinaryDataShape(t *testing.T) {
	in := mustValue(t, `[[{"a": "`+pngURI+`"}], [], {}]`)
	got := history.StripEmbeddedBinaryData(in)

	if got.Kind() != types.KindArray || got.Len() != 3 {
		t.Fatalf("top-level shape changed: %v", got.Any())
	}
	inner := got.Index(0)
	if inner.Kind() != types.KindArray || inner.Len() != 1 {
		t.Fatalf("nested array shape changed: %v", inner.Any())
	}
	if obj := inner.Index(0); obj.Kind() != types.KindObject || obj.Len() != 0 {
		t.Errorf("expected empty object after strip, got %v", obj.Any())
	}
}
