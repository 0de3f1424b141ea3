package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/GeceGibi/vault/internal/compression"
)

func TestRotateInvolution(t *testing.T) {
	buf := []byte{0x00, 0x01, 0x7f, 0x80, 0xff, 0xa5}
	orig := append([]byte(nil), buf...)
	Rotate(buf)
	if bytes.Equal(buf, orig) {
		t.Fatal("Rotate left the buffer unchanged")
	}
	Unrotate(buf)
	if !bytes.Equal(buf, orig) {
		t.Errorf("Unrotate(Rotate(b)) = %x, want %x", buf, orig)
	}
}

func TestRotateKnownBytes(t *testing.T) {
	buf := []byte{0x01, 0x80, 0xff}
	Rotate(buf)
	want := []byte{0x02, 0x01, 0xff}
	if !bytes.Equal(buf, want) {
		t.Errorf("Rotate = %x, want %x", buf, want)
	}
}

func TestHash(t *testing.T) {
	// DJB2 of the empty string is the seed 5381, which is "45h" in base 36.
	if got := Hash(""); got != "45h" {
		t.Errorf("Hash(\"\") = %q, want \"45h\"", got)
	}
	if Hash("token") != Hash("token") {
		t.Error("Hash is not deterministic")
	}
	if Hash("token") == Hash("token2") {
		t.Error("distinct names should hash differently")
	}
	if strings.Contains(Hash("a.b.c"), ".") {
		t.Error("hash output must not contain the separator")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"null", nil},
		{"int", int64(-1234567)},
		{"double", 3.25},
		{"bool", true},
		{"string", "hello world"},
		{"bytes", []byte{0, 1, 2, 0xff}},
		{"list", []any{int64(1), "two", 3.0, nil}},
		{"map", map[string]any{"a": int64(1), "b": []any{true}, "c": map[string]any{"d": "deep"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := Encode("id1", "name1", tt.value, FlagRemovable, compression.None, 0)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			rec := Decode(buf)
			if rec == nil {
				t.Fatal("Decode returned nil")
			}
			if rec.Version != CurrentVersion {
				t.Errorf("Version = %d, want %d", rec.Version, CurrentVersion)
			}
			if rec.ID != "id1" || rec.Name != "name1" {
				t.Errorf("identity = (%q, %q), want (id1, name1)", rec.ID, rec.Name)
			}
			if !rec.Flags.Removable() || rec.Flags.Secure() {
				t.Errorf("Flags = %b, want removable only", rec.Flags)
			}
			assertValueEqual(t, rec.Value, tt.value)
		})
	}
}

func TestEncodeObfuscates(t *testing.T) {
	buf, err := Encode("id", "", "secret-plaintext", 0, compression.None, 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if bytes.Contains(buf, []byte("secret-plaintext")) {
		t.Error("plaintext payload visible in encoded buffer")
	}
	if bytes.Contains(buf, []byte("id")) {
		t.Error("physical id visible in encoded buffer")
	}
}

func TestEncodeValidation(t *testing.T) {
	long := strings.Repeat("x", MaxNameLen+1)
	if _, err := Encode("", "n", "v", 0, compression.None, 0); err == nil {
		t.Error("empty id should fail")
	}
	if _, err := Encode(long, "n", "v", 0, compression.None, 0); err == nil {
		t.Error("oversized id should fail")
	}
	if _, err := Encode("id", long, "v", 0, compression.None, 0); err == nil {
		t.Error("oversized name should fail")
	}
	if _, err := Encode("id", "n", struct{}{}, 0, compression.None, 0); err == nil {
		t.Error("unsupported value should fail")
	}
	// Max lengths are accepted.
	max := strings.Repeat("x", MaxNameLen)
	if _, err := Encode(max, max, "v", 0, compression.None, 0); err != nil {
		t.Errorf("max-length id and name: %v", err)
	}
}

func TestEncodeCompression(t *testing.T) {
	big := strings.Repeat("compress me please ", 200)

	buf, err := Encode("id", "n", big, 0, compression.Snappy, 64)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	plain, err := Encode("id", "n", big, 0, compression.None, 0)
	if err != nil {
		t.Fatalf("Encode uncompressed: %v", err)
	}
	if len(buf) >= len(plain) {
		t.Errorf("compressed record (%d bytes) not smaller than plain (%d bytes)", len(buf), len(plain))
	}

	rec := Decode(buf)
	if rec == nil {
		t.Fatal("Decode returned nil")
	}
	if rec.Compression != compression.Snappy {
		t.Errorf("Compression = %s, want Snappy", rec.Compression)
	}
	if rec.Value != big {
		t.Error("compressed round trip mismatch")
	}
}

func TestEncodeCompressionThreshold(t *testing.T) {
	// Below threshold the payload stays uncompressed.
	buf, err := Encode("id", "", "tiny", 0, compression.Snappy, 1024)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	rec := Decode(buf)
	if rec == nil {
		t.Fatal("Decode returned nil")
	}
	if rec.Compression != compression.None {
		t.Errorf("Compression = %s, want None", rec.Compression)
	}
}

func TestEncodeCompressionFallback(t *testing.T) {
	// Incompressible payload falls back to uncompressed storage.
	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	buf, err := Encode("id", "", payload, 0, compression.Snappy, 1)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	rec := Decode(buf)
	if rec == nil {
		t.Fatal("Decode returned nil")
	}
	assertValueEqual(t, rec.Value, payload)
}

func TestDecodeVersion1(t *testing.T) {
	// Version 1 has no compression byte; build the layout by hand.
	kind, payload, err := EncodeValue(int64(99))
	if err != nil {
		t.Fatal(err)
	}
	buf := []byte{Version1, byte(FlagSecure), byte(kind), 2, 1}
	buf = append(buf, "ab"...)
	buf = append(buf, "n"...)
	buf = append(buf, payload...)
	Rotate(buf)

	rec := Decode(buf)
	if rec == nil {
		t.Fatal("Decode returned nil for version 1 record")
	}
	if rec.Version != Version1 || rec.ID != "ab" || rec.Name != "n" {
		t.Errorf("decoded (v%d, %q, %q), want (v1, ab, n)", rec.Version, rec.ID, rec.Name)
	}
	if !rec.Flags.Secure() {
		t.Error("secure flag lost")
	}
	if rec.Value != int64(99) {
		t.Errorf("Value = %v, want 99", rec.Value)
	}
}

func TestDecodeCorrupt(t *testing.T) {
	valid, err := Encode("id", "name", "value", 0, compression.None, 0)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"truncated header", valid[:3]},
		{"truncated id", valid[:7]},
		{"unknown version", mutate(valid, 0, 0x77)},
		{"invalid kind", mutate(valid, 2, 0x7f)},
		{"invalid compression", mutate(valid, 3, 0x7f)},
		{"zero id length", mutate(valid, 4, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := Decode(tt.buf); rec != nil {
				t.Errorf("Decode = %+v, want nil", rec)
			}
		})
	}
}

// mutate returns a copy of buf with the un-rotated byte at index i replaced.
func mutate(buf []byte, i int, b byte) []byte {
	out := append([]byte(nil), buf...)
	Unrotate(out)
	out[i] = b
	Rotate(out)
	return out
}

func TestDecodeHeaderBoundedPrefix(t *testing.T) {
	id := strings.Repeat("i", 200)
	name := strings.Repeat("n", 200)
	buf, err := Encode(id, name, strings.Repeat("payload", 1000), FlagRemovable, compression.None, 0)
	if err != nil {
		t.Fatal(err)
	}

	// A HeaderPrefixLen prefix is always enough, payload untouched.
	hdr := DecodeHeader(buf[:HeaderPrefixLen])
	if hdr == nil {
		t.Fatal("DecodeHeader returned nil for full prefix")
	}
	if hdr.ID != id || hdr.Name != name || !hdr.Flags.Removable() {
		t.Errorf("header = (%q..., %q..., %b)", hdr.ID[:5], hdr.Name[:5], hdr.Flags)
	}

	// The whole buffer works too.
	if DecodeHeader(buf) == nil {
		t.Error("DecodeHeader failed on full buffer")
	}

	// A prefix that cuts into the name does not.
	if hdr := DecodeHeader(buf[:10]); hdr != nil {
		t.Errorf("DecodeHeader on short prefix = %+v, want nil", hdr)
	}
}

func assertValueEqual(t *testing.T, got, want any) {
	t.Helper()
	switch w := want.(type) {
	case []byte:
		g, ok := got.([]byte)
		if !ok || !bytes.Equal(g, w) {
			t.Errorf("value = %v, want %v", got, want)
		}
	case []any:
		g, ok := got.([]any)
		if !ok || len(g) != len(w) {
			t.Fatalf("value = %v, want %v", got, want)
		}
		for i := range w {
			assertValueEqual(t, g[i], w[i])
		}
	case map[string]any:
		g, ok := got.(map[string]any)
		if !ok || len(g) != len(w) {
			t.Fatalf("value = %v, want %v", got, want)
		}
		for k := range w {
			assertValueEqual(t, g[k], w[k])
		}
	default:
		if got != want {
			t.Errorf("value = %v (%T), want %v (%T)", got, got, want, want)
		}
	}
}
