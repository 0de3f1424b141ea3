// Package encoding provides the binary primitives used by the record codec:
// little-endian fixed-width integers, varints, zigzag-encoded signed values,
// and length-prefixed byte slices, plus a sequential Slice reader.
//
// All multi-byte integers are little-endian. Varints use 7-bit encoding with
// MSB continuation.
package encoding

import (
	"encoding/binary"
	"errors"
)

// MaxVarintLen is the maximum number of bytes a varint64 can occupy.
const MaxVarintLen = binary.MaxVarintLen64

var (
	// ErrBufferTooSmall is returned when the buffer doesn't have enough bytes.
	ErrBufferTooSmall = errors.New("encoding: buffer too small")

	// ErrVarintTermination is returned when a varint doesn't terminate properly.
	ErrVarintTermination = errors.New("encoding: varint not terminated")
)

// AppendFixed32 appends a little-endian uint32 to dst and returns the extended slice.
func AppendFixed32(dst []byte, value uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, value)
}

// DecodeFixed32 decodes a uint32 from a 4-byte little-endian buffer.
// REQUIRES: src has at least 4 bytes.
func DecodeFixed32(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src)
}

// AppendFixed64 appends a little-endian uint64 to dst and returns the extended slice.
func AppendFixed64(dst []byte, value uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, value)
}

// DecodeFixed64 decodes a uint64 from an 8-byte little-endian buffer.
// REQUIRES: src has at least 8 bytes.
func DecodeFixed64(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

// AppendVarint appends a uint64 as a varint to dst and returns the extended slice.
func AppendVarint(dst []byte, value uint64) []byte {
	return binary.AppendUvarint(dst, value)
}

// DecodeVarint decodes a varint64 from src.
// Returns the decoded value and the number of bytes consumed.
func DecodeVarint(src []byte) (value uint64, bytesRead int, err error) {
	value, bytesRead = binary.Uvarint(src)
	if bytesRead <= 0 {
		return 0, 0, ErrVarintTermination
	}
	return value, bytesRead, nil
}

// I64ToZigzag converts a signed int64 to an unsigned uint64 using zigzag
// encoding, so small negative numbers encode to short varints.
func I64ToZigzag(v int64) uint64 {
	return (uint64(v) << 1) ^ uint64(v>>63)
}

// ZigzagToI64 converts a zigzag-encoded uint64 back to a signed int64.
func ZigzagToI64(n uint64) int64 {
	return int64(n>>1) ^ -int64(n&1)
}

// AppendVarsigned appends a signed int64 using zigzag + varint encoding.
func AppendVarsigned(dst []byte, v int64) []byte {
	return AppendVarint(dst, I64ToZigzag(v))
}

// AppendLengthPrefixed appends a length-prefixed slice to dst.
// Format: [varint length][bytes]
func AppendLengthPrefixed(dst []byte, value []byte) []byte {
	dst = AppendVarint(dst, uint64(len(value)))
	return append(dst, value...)
}

// Slice is a helper for reading sequentially from a byte slice.
type Slice struct {
	data []byte
	pos  int
}

// NewSlice creates a new Slice over data.
func NewSlice(data []byte) *Slice {
	return &Slice{data: data}
}

// Remaining returns the number of unread bytes.
func (s *Slice) Remaining() int {
	return len(s.data) - s.pos
}

// GetByte reads a single byte.
func (s *Slice) GetByte() (byte, bool) {
	if s.Remaining() < 1 {
		return 0, false
	}
	b := s.data[s.pos]
	s.pos++
	return b, true
}

// GetFixed32 reads a fixed 32-bit value.
func (s *Slice) GetFixed32() (uint32, bool) {
	if s.Remaining() < 4 {
		return 0, false
	}
	v := DecodeFixed32(s.data[s.pos:])
	s.pos += 4
	return v, true
}

// GetFixed64 reads a fixed 64-bit value.
func (s *Slice) GetFixed64() (uint64, bool) {
	if s.Remaining() < 8 {
		return 0, false
	}
	v := DecodeFixed64(s.data[s.pos:])
	s.pos += 8
	return v, true
}

// GetVarint reads a varint64.
func (s *Slice) GetVarint() (uint64, bool) {
	v, n, err := DecodeVarint(s.data[s.pos:])
	if err != nil {
		return 0, false
	}
	s.pos += n
	return v, true
}

// GetVarsigned reads a zigzag-encoded signed int64.
func (s *Slice) GetVarsigned() (int64, bool) {
	v, ok := s.GetVarint()
	if !ok {
		return 0, false
	}
	return ZigzagToI64(v), true
}

// GetLengthPrefixed reads a length-prefixed slice.
// The returned slice points into the underlying data.
func (s *Slice) GetLengthPrefixed() ([]byte, bool) {
	n, ok := s.GetVarint()
	if !ok || n > uint64(s.Remaining()) {
		return nil, false
	}
	v := s.data[s.pos : s.pos+int(n)]
	s.pos += int(n)
	return v, true
}

// GetBytes reads exactly n bytes.
func (s *Slice) GetBytes(n int) ([]byte, bool) {
	if n < 0 || s.Remaining() < n {
		return nil, false
	}
	v := s.data[s.pos : s.pos+n]
	s.pos += n
	return v, true
}
