// Package codec implements the versioned binary record format used by both
// vault stores, the byte obfuscation applied to every record buffer, and the
// non-reversible name hash used for secure and derived key identifiers.
//
// Record layout, version 2 (current):
//
//	[version:1][flags:1][valueType:1][compression:1][idLen:1][nameLen:1]
//	[physicalId:idLen][logicalName:nameLen][payload]
//
// Version 1 is identical but has no compression byte. Encoders always emit
// the current version; decoders for all versions coexist so older files
// remain readable (forward-read, forward-write only).
//
// The entire encoded buffer is obfuscated with a 1-bit left rotation per
// byte. The rotation is non-cryptographic: its purpose is to defeat casual
// plaintext inspection, not to provide security. Real confidentiality comes
// from the Encryptor applied by secure key handles.
package codec

import (
	"fmt"
	"strconv"

	"github.com/GeceGibi/vault/internal/compression"
	"github.com/GeceGibi/vault/internal/encoding"
)

// Record format versions.
const (
	// Version1 is the original layout without a compression byte.
	Version1 byte = 1

	// Version2 adds a compression type byte after the value type.
	Version2 byte = 2

	// CurrentVersion is the version every encoder emits.
	CurrentVersion = Version2
)

// MaxNameLen is the maximum byte length of a physical id or logical name.
const MaxNameLen = 255

// HeaderPrefixLen is the number of bytes that are guaranteed to cover the
// fixed header plus maximum-length id and name for any supported version.
// Reading this many bytes from the front of a record file is enough to
// decode its header without touching the payload.
const HeaderPrefixLen = 6 + 2*MaxNameLen

// Flags is the per-record flag bitmask.
type Flags uint8

const (
	// FlagRemovable marks the record eligible for bulk removable cleanup.
	FlagRemovable Flags = 1 << 0

	// FlagSecure marks the record as written by a secure key handle.
	FlagSecure Flags = 1 << 1
)

// Removable reports whether the removable bit is set.
func (f Flags) Removable() bool { return f&FlagRemovable != 0 }

// Secure reports whether the secure bit is set.
func (f Flags) Secure() bool { return f&FlagSecure != 0 }

// Header is the decoded fixed-size prefix of a record. It carries everything
// needed for existence checks and sub-key discovery without deserializing
// the payload.
type Header struct {
	Version     byte
	Flags       Flags
	Kind        Kind
	Compression compression.Type
	ID          string
	Name        string
}

// Record is the fully decoded persisted unit.
type Record struct {
	Header
	Value any
}

// Rotate obfuscates buf in place with a 1-bit left rotation per byte.
func Rotate(buf []byte) {
	for i, b := range buf {
		buf[i] = b<<1 | b>>7
	}
}

// Unrotate reverses Rotate in place. Unrotate(Rotate(b)) == b for any b.
func Unrotate(buf []byte) {
	for i, b := range buf {
		buf[i] = b>>1 | b<<7
	}
}

// Hash returns the DJB2 hash of name rendered as an unsigned 64-bit base-36
// string. It is non-reversible and is used for secure-key physical ids and
// derived sub-key physical ids.
func Hash(name string) string {
	var h uint64 = 5381
	for i := 0; i < len(name); i++ {
		h = h*33 + uint64(name[i])
	}
	return strconv.FormatUint(h, 36)
}

// Encode serializes a record to its obfuscated on-disk bytes.
//
// Payloads of at least threshold bytes are compressed with comp; if the
// compressed form is not smaller, the payload is stored uncompressed. A
// threshold <= 0 or comp == compression.None disables compression.
func Encode(id, name string, value any, flags Flags, comp compression.Type, threshold int) ([]byte, error) {
	if len(id) == 0 || len(id) > MaxNameLen {
		return nil, fmt.Errorf("codec: physical id length %d out of range [1,%d]", len(id), MaxNameLen)
	}
	if len(name) > MaxNameLen {
		return nil, fmt.Errorf("codec: logical name length %d exceeds %d", len(name), MaxNameLen)
	}

	kind, payload, err := EncodeValue(value)
	if err != nil {
		return nil, err
	}

	stored := compression.None
	if comp != compression.None && threshold > 0 && len(payload) >= threshold {
		compressed, err := compression.Compress(comp, payload)
		if err != nil {
			return nil, fmt.Errorf("codec: compress payload: %w", err)
		}
		if len(compressed) < len(payload) {
			payload = compressed
			stored = comp
		}
	}

	buf := make([]byte, 0, 6+len(id)+len(name)+len(payload))
	buf = append(buf, CurrentVersion, byte(flags), byte(kind), byte(stored),
		byte(len(id)), byte(len(name)))
	buf = append(buf, id...)
	buf = append(buf, name...)
	buf = append(buf, payload...)

	Rotate(buf)
	return buf, nil
}

// Decode deserializes a full record buffer.
//
// A nil result means the buffer is truncated, malformed, or written by an
// unrecognized version. Callers treat nil as "absent or corrupt" and may
// delete the offending record.
func Decode(buf []byte) *Record {
	plain := make([]byte, len(buf))
	copy(plain, buf)
	Unrotate(plain)

	hdr, payloadOff := parseHeader(plain)
	if hdr == nil || payloadOff > len(plain) {
		return nil
	}

	payload := plain[payloadOff:]
	if hdr.Compression != compression.None {
		decompressed, err := compression.Decompress(hdr.Compression, payload)
		if err != nil {
			return nil
		}
		payload = decompressed
	}

	value, err := DecodeValue(hdr.Kind, payload)
	if err != nil {
		return nil
	}
	return &Record{Header: *hdr, Value: value}
}

// DecodeHeader parses only the fixed-size prefix of a record buffer, never
// the payload. buf may be a bounded prefix of the full record; reading
// HeaderPrefixLen bytes always suffices. Returns nil for truncated,
// malformed, or unrecognized-version buffers.
func DecodeHeader(buf []byte) *Header {
	n := len(buf)
	if n > HeaderPrefixLen {
		n = HeaderPrefixLen
	}
	plain := make([]byte, n)
	copy(plain, buf[:n])
	Unrotate(plain)

	hdr, _ := parseHeader(plain)
	return hdr
}

// parseHeader decodes the fixed header from an un-rotated buffer and returns
// the payload offset within the full record. Returns (nil, 0) on corruption.
func parseHeader(plain []byte) (*Header, int) {
	s := encoding.NewSlice(plain)

	version, ok := s.GetByte()
	if !ok {
		return nil, 0
	}

	var fixedRest int
	switch version {
	case Version1:
		fixedRest = 4 // flags, valueType, idLen, nameLen
	case Version2:
		fixedRest = 5 // flags, valueType, compression, idLen, nameLen
	default:
		return nil, 0
	}
	fixed, ok := s.GetBytes(fixedRest)
	if !ok {
		return nil, 0
	}

	hdr := &Header{Version: version, Flags: Flags(fixed[0]), Kind: Kind(fixed[1])}
	var idLen, nameLen int
	if version == Version1 {
		idLen, nameLen = int(fixed[2]), int(fixed[3])
	} else {
		hdr.Compression = compression.Type(fixed[2])
		idLen, nameLen = int(fixed[3]), int(fixed[4])
	}
	if idLen == 0 || !hdr.Kind.Valid() || !hdr.Compression.IsSupported() {
		return nil, 0
	}

	id, ok := s.GetBytes(idLen)
	if !ok {
		return nil, 0
	}
	name, ok := s.GetBytes(nameLen)
	if !ok {
		return nil, 0
	}
	hdr.ID = string(id)
	hdr.Name = string(name)

	return hdr, 1 + fixedRest + idLen + nameLen
}
