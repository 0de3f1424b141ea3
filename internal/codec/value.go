// value.go implements the dynamically-typed value payload encoding.
//
// Supported values are the scalar kinds (int, double, bool, string, bytes),
// nil, []any lists, and map[string]any maps. Lists and maps nest
// arbitrarily. Integers normalize to int64 and floats to float64 on decode.
package codec

import (
	"fmt"
	"math"
	"sort"

	"github.com/GeceGibi/vault/internal/encoding"
)

// Kind is the value type tag stored in every record header.
type Kind uint8

const (
	// KindNull is the absent value. Writing it is equivalent to deletion.
	KindNull Kind = 0
	// KindInt is a signed 64-bit integer, zigzag-varint encoded.
	KindInt Kind = 1
	// KindDouble is an IEEE-754 float64, fixed 8 bytes little-endian.
	KindDouble Kind = 2
	// KindBool is a single byte, 0 or 1.
	KindBool Kind = 3
	// KindString is raw UTF-8 bytes.
	KindString Kind = 4
	// KindBytes is an opaque byte slice.
	KindBytes Kind = 5
	// KindList is a varint count followed by tagged elements.
	KindList Kind = 6
	// KindMap is a varint count followed by key/tagged-value pairs,
	// serialized in sorted key order so equal maps encode identically.
	KindMap Kind = 7
)

// Valid reports whether k is a known value kind.
func (k Kind) Valid() bool { return k <= KindMap }

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindDouble:
		return "double"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// KindOf returns the kind tag a value would encode with, without building
// its payload. ok is false for unsupported types.
func KindOf(v any) (kind Kind, ok bool) {
	switch v.(type) {
	case nil:
		return KindNull, true
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return KindInt, true
	case float32, float64:
		return KindDouble, true
	case bool:
		return KindBool, true
	case string:
		return KindString, true
	case []byte:
		return KindBytes, true
	case []any:
		return KindList, true
	case map[string]any:
		return KindMap, true
	default:
		return 0, false
	}
}

// EncodeValue serializes a value to its kind tag and payload bytes.
func EncodeValue(v any) (Kind, []byte, error) {
	switch x := v.(type) {
	case nil:
		return KindNull, nil, nil

	case int:
		return KindInt, encoding.AppendVarsigned(nil, int64(x)), nil
	case int8:
		return KindInt, encoding.AppendVarsigned(nil, int64(x)), nil
	case int16:
		return KindInt, encoding.AppendVarsigned(nil, int64(x)), nil
	case int32:
		return KindInt, encoding.AppendVarsigned(nil, int64(x)), nil
	case int64:
		return KindInt, encoding.AppendVarsigned(nil, x), nil
	case uint8:
		return KindInt, encoding.AppendVarsigned(nil, int64(x)), nil
	case uint16:
		return KindInt, encoding.AppendVarsigned(nil, int64(x)), nil
	case uint32:
		return KindInt, encoding.AppendVarsigned(nil, int64(x)), nil

	case float32:
		return KindDouble, encoding.AppendFixed64(nil, math.Float64bits(float64(x))), nil
	case float64:
		return KindDouble, encoding.AppendFixed64(nil, math.Float64bits(x)), nil

	case bool:
		if x {
			return KindBool, []byte{1}, nil
		}
		return KindBool, []byte{0}, nil

	case string:
		return KindString, []byte(x), nil

	case []byte:
		payload := make([]byte, len(x))
		copy(payload, x)
		return KindBytes, payload, nil

	case []any:
		payload := encoding.AppendVarint(nil, uint64(len(x)))
		for _, elem := range x {
			ek, ep, err := EncodeValue(elem)
			if err != nil {
				return 0, nil, err
			}
			payload = append(payload, byte(ek))
			payload = encoding.AppendLengthPrefixed(payload, ep)
		}
		return KindList, payload, nil

	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		payload := encoding.AppendVarint(nil, uint64(len(keys)))
		for _, k := range keys {
			ek, ep, err := EncodeValue(x[k])
			if err != nil {
				return 0, nil, err
			}
			payload = encoding.AppendLengthPrefixed(payload, []byte(k))
			payload = append(payload, byte(ek))
			payload = encoding.AppendLengthPrefixed(payload, ep)
		}
		return KindMap, payload, nil

	default:
		return 0, nil, fmt.Errorf("codec: unsupported value type %T", v)
	}
}

// DecodeValue deserializes a payload according to its kind tag.
func DecodeValue(k Kind, payload []byte) (any, error) {
	switch k {
	case KindNull:
		return nil, nil

	case KindInt:
		s := encoding.NewSlice(payload)
		v, ok := s.GetVarsigned()
		if !ok {
			return nil, fmt.Errorf("codec: malformed int payload")
		}
		return v, nil

	case KindDouble:
		if len(payload) != 8 {
			return nil, fmt.Errorf("codec: double payload is %d bytes, want 8", len(payload))
		}
		return math.Float64frombits(encoding.DecodeFixed64(payload)), nil

	case KindBool:
		if len(payload) != 1 {
			return nil, fmt.Errorf("codec: bool payload is %d bytes, want 1", len(payload))
		}
		return payload[0] != 0, nil

	case KindString:
		return string(payload), nil

	case KindBytes:
		v := make([]byte, len(payload))
		copy(v, payload)
		return v, nil

	case KindList:
		s := encoding.NewSlice(payload)
		count, ok := s.GetVarint()
		if !ok || count > uint64(s.Remaining()) {
			return nil, fmt.Errorf("codec: malformed list payload")
		}
		list := make([]any, 0, count)
		for i := uint64(0); i < count; i++ {
			eb, ok := s.GetByte()
			if !ok {
				return nil, fmt.Errorf("codec: truncated list element tag")
			}
			ep, ok := s.GetLengthPrefixed()
			if !ok {
				return nil, fmt.Errorf("codec: truncated list element payload")
			}
			elem, err := DecodeValue(Kind(eb), ep)
			if err != nil {
				return nil, err
			}
			list = append(list, elem)
		}
		return list, nil

	case KindMap:
		s := encoding.NewSlice(payload)
		count, ok := s.GetVarint()
		if !ok || count > uint64(s.Remaining()) {
			return nil, fmt.Errorf("codec: malformed map payload")
		}
		m := make(map[string]any, count)
		for i := uint64(0); i < count; i++ {
			key, ok := s.GetLengthPrefixed()
			if !ok {
				return nil, fmt.Errorf("codec: truncated map key")
			}
			eb, ok := s.GetByte()
			if !ok {
				return nil, fmt.Errorf("codec: truncated map value tag")
			}
			ep, ok := s.GetLengthPrefixed()
			if !ok {
				return nil, fmt.Errorf("codec: truncated map value payload")
			}
			val, err := DecodeValue(Kind(eb), ep)
			if err != nil {
				return nil, err
			}
			m[string(key)] = val
		}
		return m, nil

	default:
		return nil, fmt.Errorf("codec: unknown value kind %d", uint8(k))
	}
}
