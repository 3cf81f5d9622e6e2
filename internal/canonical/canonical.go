// Package canonical implements the deterministic serialization the rest of
// this module hashes and signs: given any structured value built from null,
// booleans, integers, strings, ordered arrays, and string-keyed mappings,
// two structurally equivalent values (same keys/values regardless of
// insertion order) canonicalize to byte-identical output.
//
// Mapping keys are sorted by lexicographic byte order of their UTF-8
// encoding, arrays preserve element order, integers that may exceed the
// float64-safe range (±2^53) are encoded as decimal-digit strings, and no
// insignificant whitespace is ever emitted.
//
// No JSON canonicalization library appears anywhere in the retrieved
// example corpus (RFC 8785 / JCS implementations are not part of this
// module's teacher's or sibling repos' dependency surface), so this
// encoder is hand-written against the standard library — see DESIGN.md.
package canonical

import (
	"fmt"
	"math/big"
	"sort"
	"strconv"
)

// maxSafeInt is the largest integer magnitude that round-trips through a
// float64 without loss (2^53).
const maxSafeInt = 1 << 53

// Marshal canonicalizes v and returns the UTF-8 byte encoding.
//
// v must be built exclusively from: nil, bool, string, int, int8, int16,
// int32, int64, uint, uint8, uint16, uint32, uint64, *big.Int,
// []interface{} (or any slice of one of these types), and
// map[string]interface{}. Any other type is a programmer error and returns
// an error rather than silently producing a non-canonical encoding.
func Marshal(v interface{}) ([]byte, error) {
	buf := make([]byte, 0, 256)
	buf, err := appendValue(buf, v)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// MustMarshal is Marshal but panics on error, for call sites that build the
// value themselves and know it is well-formed.
func MustMarshal(v interface{}) []byte {
	b, err := Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func appendValue(buf []byte, v interface{}) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(buf, "null"...), nil
	case bool:
		if x {
			return append(buf, "true"...), nil
		}
		return append(buf, "false"...), nil
	case string:
		return appendString(buf, x), nil
	case *big.Int:
		if x == nil {
			return append(buf, "null"...), nil
		}
		return appendString(buf, x.String()), nil
	case int:
		return appendInt(buf, int64(x)), nil
	case int8:
		return appendInt(buf, int64(x)), nil
	case int16:
		return appendInt(buf, int64(x)), nil
	case int32:
		return appendInt(buf, int64(x)), nil
	case int64:
		return appendInt(buf, x), nil
	case uint:
		return appendUint(buf, uint64(x)), nil
	case uint8:
		return appendUint(buf, uint64(x)), nil
	case uint16:
		return appendUint(buf, uint64(x)), nil
	case uint32:
		return appendUint(buf, uint64(x)), nil
	case uint64:
		return appendUint(buf, x), nil
	case []interface{}:
		return appendArray(buf, x)
	case map[string]interface{}:
		return appendObject(buf, x)
	default:
		return nil, fmt.Errorf("canonical: unsupported type %T", v)
	}
}

func appendInt(buf []byte, n int64) []byte {
	if n > maxSafeInt || n < -maxSafeInt {
		return appendString(buf, strconv.FormatInt(n, 10))
	}
	return strconv.AppendInt(buf, n, 10)
}

func appendUint(buf []byte, n uint64) []byte {
	if n > maxSafeInt {
		return appendString(buf, strconv.FormatUint(n, 10))
	}
	return strconv.AppendUint(buf, n, 10)
}

func appendArray(buf []byte, arr []interface{}) ([]byte, error) {
	buf = append(buf, '[')
	for i, elem := range arr {
		if i > 0 {
			buf = append(buf, ',')
		}
		var err error
		buf, err = appendValue(buf, elem)
		if err != nil {
			return nil, err
		}
	}
	buf = append(buf, ']')
	return buf, nil
}

func appendObject(buf []byte, obj map[string]interface{}) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = appendString(buf, k)
		buf = append(buf, ':')
		var err error
		buf, err = appendValue(buf, obj[k])
		if err != nil {
			return nil, err
		}
	}
	buf = append(buf, '}')
	return buf, nil
}

// appendString escapes s with the narrowest standard JSON rules (quotes,
// backslash, control codes) and appends the quoted result to buf.
func appendString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	for _, r := range s {
		switch r {
		case '"':
			buf = append(buf, '\\', '"')
		case '\\':
			buf = append(buf, '\\', '\\')
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\r':
			buf = append(buf, '\\', 'r')
		case '\t':
			buf = append(buf, '\\', 't')
		default:
			if r < 0x20 {
				buf = append(buf, '\\', 'u')
				buf = appendHex4(buf, uint16(r))
			} else {
				buf = append(buf, string(r)...)
			}
		}
	}
	buf = append(buf, '"')
	return buf
}

const hexDigits = "0123456789abcdef"

func appendHex4(buf []byte, n uint16) []byte {
	return append(buf,
		hexDigits[(n>>12)&0xf],
		hexDigits[(n>>8)&0xf],
		hexDigits[(n>>4)&0xf],
		hexDigits[n&0xf],
	)
}
