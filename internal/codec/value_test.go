package codec

import (
	"bytes"
	"math"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		value any
		kind  Kind
		ok    bool
	}{
		{nil, KindNull, true},
		{int(1), KindInt, true},
		{int8(1), KindInt, true},
		{int64(1), KindInt, true},
		{uint16(1), KindInt, true},
		{float32(1), KindDouble, true},
		{float64(1), KindDouble, true},
		{true, KindBool, true},
		{"s", KindString, true},
		{[]byte{1}, KindBytes, true},
		{[]any{}, KindList, true},
		{map[string]any{}, KindMap, true},
		{struct{}{}, 0, false},
		{uint64(1), 0, false}, // may not fit int64
		{map[int]any{}, 0, false},
	}
	for _, tt := range tests {
		kind, ok := KindOf(tt.value)
		if ok != tt.ok || (ok && kind != tt.kind) {
			t.Errorf("KindOf(%T) = (%s, %v), want (%s, %v)", tt.value, kind, ok, tt.kind, tt.ok)
		}
	}
}

func TestIntNormalization(t *testing.T) {
	// Every integer width decodes as int64.
	inputs := []any{int(7), int8(7), int16(7), int32(7), int64(7), uint8(7), uint16(7), uint32(7)}
	for _, in := range inputs {
		kind, payload, err := EncodeValue(in)
		if err != nil {
			t.Fatalf("EncodeValue(%T): %v", in, err)
		}
		out, err := DecodeValue(kind, payload)
		if err != nil {
			t.Fatalf("DecodeValue(%T): %v", in, err)
		}
		if out != int64(7) {
			t.Errorf("decoded %T = %v (%T), want int64(7)", in, out, out)
		}
	}
}

func TestFloatNormalization(t *testing.T) {
	kind, payload, err := EncodeValue(float32(1.5))
	if err != nil {
		t.Fatal(err)
	}
	out, err := DecodeValue(kind, payload)
	if err != nil {
		t.Fatal(err)
	}
	if out != float64(1.5) {
		t.Errorf("decoded float32 = %v (%T), want float64(1.5)", out, out)
	}
}

func TestDoubleSpecialValues(t *testing.T) {
	for _, v := range []float64{0, math.Copysign(0, -1), math.Inf(1), math.Inf(-1), math.MaxFloat64} {
		kind, payload, err := EncodeValue(v)
		if err != nil {
			t.Fatal(err)
		}
		out, err := DecodeValue(kind, payload)
		if err != nil {
			t.Fatal(err)
		}
		if out != v {
			t.Errorf("decoded = %v, want %v", out, v)
		}
	}

	// NaN never compares equal; check the bit pattern instead.
	kind, payload, _ := EncodeValue(math.NaN())
	out, _ := DecodeValue(kind, payload)
	if f, ok := out.(float64); !ok || !math.IsNaN(f) {
		t.Errorf("decoded NaN = %v", out)
	}
}

func TestMapEncodingDeterministic(t *testing.T) {
	m := map[string]any{"zebra": int64(1), "apple": int64(2), "mango": int64(3)}
	_, first, err := EncodeValue(m)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		_, again, err := EncodeValue(m)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("map encoding is not deterministic")
		}
	}
}

func TestDecodeValueMalformed(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		payload []byte
	}{
		{"int empty", KindInt, nil},
		{"int unterminated", KindInt, []byte{0x80}},
		{"double short", KindDouble, []byte{1, 2, 3}},
		{"bool long", KindBool, []byte{1, 1}},
		{"list bad count", KindList, []byte{0xff, 0xff, 0xff, 0xff, 0x0f}},
		{"list truncated element", KindList, []byte{1, byte(KindInt)}},
		{"map truncated key", KindMap, []byte{1, 5, 'a'}},
		{"unknown kind", Kind(42), []byte{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if v, err := DecodeValue(tt.kind, tt.payload); err == nil {
				t.Errorf("DecodeValue = %v, want error", v)
			}
		})
	}
}

func TestNestedRoundTrip(t *testing.T) {
	v := map[string]any{
		"profile": map[string]any{
			"name": "gece",
			"tags": []any{"a", "b", []any{int64(1), 2.5}},
		},
		"flags": []any{true, false, nil},
		"blob":  []byte{0xde, 0xad},
	}
	kind, payload, err := EncodeValue(v)
	if err != nil {
		t.Fatal(err)
	}
	out, err := DecodeValue(kind, payload)
	if err != nil {
		t.Fatal(err)
	}
	assertValueEqual(t, out, v)
}
