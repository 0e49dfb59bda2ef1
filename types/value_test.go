package types

import (
	"encoding/json"
	"testing"
)

func TestFromAnyKinds(t *testing.T) {
	tests := []struct {
		name string
		in   any
		kind Kind
	}{
		{"nil", nil, KindNull},
		{"bool", true, KindBool},
		{"int", 42, KindNumber},
		{"int64", int64(7), KindNumber},
		{"float", 1.5, KindNumber},
		{"json number", json.Number("12"), KindNumber},
		{"string", "oak", KindString},
		{"slice", []any{"a", 1}, KindArray},
		{"strings", []string{"a", "b"}, KindArray},
		{"map", map[string]any{"a": 1}, KindObject},
		{"string map", map[string]string{"a": "b"}, KindObject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := FromAny(tt.in)
			if err != nil {
				t.Fatalf("FromAny(%v) failed: %v", tt.in, err)
			}
			if v.Kind() != tt.kind {
				t.Errorf("Kind: got %s, want %s", v.Kind(), tt.kind)
			}
		})
	}
}

func TestFromAnyUnsupported(t *testing.T) {
	if _, err := FromAny(struct{}{}); err == nil {
		t.Error("expected error for struct value")
	}
	if _, err := FromAny(map[string]any{"nested": []any{make(chan int)}}); err == nil {
		t.Error("expected error for nested channel")
	}
}

func TestZeroValueIsNull(t *testing.T) {
	var v Value
	if !v.IsNull() {
		t.Errorf("zero Value kind = %s, want null", v.Kind())
	}
	if v.Any() != nil {
		t.Errorf("zero Value Any() = %v, want nil", v.Any())
	}
}

func TestJSONRoundTrip(t *testing.T) {
	in := `{"finish":"matte","layers":[{"material":"oak","scale":2},{"material":"brass","tags":["warm",null,true]}],"note":null}`

	var v Value
	if err := json.Unmarshal([]byte(in), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.Kind() != KindObject {
		t.Fatalf("Kind: got %s, want object", v.Kind())
	}

	layers, ok := v.Get("layers")
	if !ok || layers.Len() != 2 {
		t.Fatalf("layers: got %v (ok=%v)", layers.Any(), ok)
	}
	scale, _ := layers.Index(0).Get("scale")
	if n, ok := scale.NumberValue(); !ok || n != 2 {
		t.Errorf("scale: got %v", scale.Any())
	}

	out, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var again Value
	if err := json.Unmarshal(out, &again); err != nil {
		t.Fatalf("unmarshal again: %v", err)
	}
	if !Equal(v, again) {
		t.Errorf("round trip changed value:\n got %s\nwant %s", out, in)
	}
}

func TestEqual(t *testing.T) {
	a := MustFromAny(map[string]any{"a": []any{1, "x"}, "b": nil})
	b := MustFromAny(map[string]any{"b": nil, "a": []any{1.0, "x"}})
	c := MustFromAny(map[string]any{"a": []any{"x", 1}, "b": nil})

	if !Equal(a, b) {
		t.Error("expected a == b")
	}
	if Equal(a, c) {
		t.Error("expected a != c (array order matters)")
	}
	if Equal(String("1"), Number(1)) {
		t.Error("string and number must differ")
	}
}

func TestConstructorsCopy(t *testing.T) {
	fields := map[string]Value{"a": String("x")}
	obj := Object(fields)
	fields["b"] = String("y")
	if obj.Len() != 1 {
		t.Errorf("Object aliased its input map: len = %d", obj.Len())
	}

	elems := []Value{Number(1)}
	arr := Array(elems...)
	elems[0] = Number(2)
	if n, _ := arr.Index(0).NumberValue(); n != 1 {
		t.Errorf("Array aliased its input slice: got %v", n)
	}
}

func TestKeysSorted(t *testing.T) {
	v := MustFromAny(map[string]any{"zinc": 1, "ash": 2, "maple": 3})
	keys := v.Keys()
	want := []string{"ash", "maple", "zinc"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("Keys: got %v, want %v", keys, want)
		}
	}
	if String("x").Keys() != nil {
		t.Error("Keys on a string should be nil")
	}
}

func TestLargeIntegersStayExact(t *testing.T) {
	const seed int64 = 9007199254740993 // 2^53 + 1

	v := MustFromAny(map[string]any{"seed": seed})
	got, _ := v.Get("seed")
	if n, ok := got.IntValue(); !ok || n != seed {
		t.Errorf("IntValue: got %d (ok=%v), want %d", n, ok, seed)
	}
	if got.Any() != seed {
		t.Errorf("Any: got %v (%T), want int64 %d", got.Any(), got.Any(), seed)
	}

	out, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"seed":9007199254740993}` {
		t.Errorf("marshal: got %s", out)
	}

	var again Value
	if err := json.Unmarshal(out, &again); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !Equal(v, again) {
		t.Errorf("round trip lost precision: got %v", again.Any())
	}
	if Equal(Int(seed), Int(seed-1)) {
		t.Error("adjacent large integers must differ")
	}
}

func TestIntValue(t *testing.T) {
	tests := []struct {
		name string
		in   Value
		want int64
		ok   bool
	}{
		{"int", Int(-4), -4, true},
		{"integral float", Number(3), 3, true},
		{"fraction", Number(1.5), 0, false},
		{"string", String("3"), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.in.IntValue()
			if got != tt.want || ok != tt.ok {
				t.Errorf("IntValue: got (%d, %v), want (%d, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}
