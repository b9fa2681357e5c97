// Package canon implements the kernel's canonical serialization (C1):
// a byte-stable encoding of structured values, used as the sole input
// to every content hash in the system. Two conforming implementations
// given logically equal input MUST produce identical bytes.
//
// The accepted value shapes are the JSON data model:
//
//	nil              -> JSON null
//	bool             -> JSON boolean
//	string           -> JSON string (must be valid UTF-8)
//	float64/int/int64/uint64 -> JSON number
//	[]any            -> JSON array
//	map[string]any   -> JSON object (keys sorted by raw UTF-8 byte order)
//	canon.Absent     -> a sentinel meaning "omit this field entirely"
//
// Canon.Object preserves the three-state distinction {absent, null,
// value} required by the spec: a field set to nil is encoded as JSON
// null; a field never added to the object is omitted; Absent is a
// convenience marker callers can store in a map and have Encode drop.
package canon

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"integritykernel.dev/kernel/kernelerr"
)

// absentType is the Absent sentinel's type; any map value equal to
// Absent is dropped from the encoded object rather than encoded as null.
type absentType struct{}

// Absent, stored as a map value, means "field not present" — distinct
// from a stored nil, which means "field present with value null".
var Absent = absentType{}

// Encode produces the canonical byte encoding of v.
func Encode(v any) ([]byte, error) {
	buf := make([]byte, 0, 256)
	buf, err := appendValue(buf, v)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func appendValue(buf []byte, v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return append(buf, "null"...), nil
	case absentType:
		// Absent must never be encoded directly; appendObject strips it
		// from maps before recursing. If it reaches here the caller
		// tried to encode a bare Absent value, which is a usage bug.
		return nil, kernelerr.New(kernelerr.CanonInvalidValue, "canon: Absent encoded outside an object field")
	case bool:
		if t {
			return append(buf, "true"...), nil
		}
		return append(buf, "false"...), nil
	case string:
		return appendString(buf, t)
	case int:
		return strconv.AppendInt(buf, int64(t), 10), nil
	case int32:
		return strconv.AppendInt(buf, int64(t), 10), nil
	case int64:
		return strconv.AppendInt(buf, t, 10), nil
	case uint:
		return strconv.AppendUint(buf, uint64(t), 10), nil
	case uint64:
		return strconv.AppendUint(buf, t, 10), nil
	case float64:
		return appendFloat(buf, t)
	case float32:
		return appendFloat(buf, float64(t))
	case []any:
		return appendArray(buf, t)
	case map[string]any:
		return appendObject(buf, t)
	case Object:
		// Object's underlying type is map[string]any, but a value typed
		// Object boxed into `any` carries its own dynamic type: this
		// case catches nested Object values built by callers (e.g. a
		// sub-struct's own normalize() helper) without requiring every
		// call site to convert back to the bare map type first.
		return appendObject(buf, map[string]any(t))
	default:
		return nil, kernelerr.New(kernelerr.CanonInvalidValue, fmt.Sprintf("canon: unsupported value type %T", v))
	}
}

func appendArray(buf []byte, arr []any) ([]byte, error) {
	buf = append(buf, '[')
	for i, e := range arr {
		if i > 0 {
			buf = append(buf, ',')
		}
		var err error
		buf, err = appendValue(buf, e)
		if err != nil {
			return nil, err
		}
	}
	buf = append(buf, ']')
	return buf, nil
}

func appendObject(buf []byte, obj map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k, v := range obj {
		if _, absent := v.(absentType); absent {
			continue
		}
		keys = append(keys, k)
	}
	// Raw UTF-8 byte sequence order: Go's string less-than is already a
	// byte-wise comparison, with no Unicode normalization applied.
	sort.Strings(keys)

	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		var err error
		buf, err = appendString(buf, k)
		if err != nil {
			return nil, err
		}
		buf = append(buf, ':')
		buf, err = appendValue(buf, obj[k])
		if err != nil {
			return nil, err
		}
	}
	buf = append(buf, '}')
	return buf, nil
}

func appendString(buf []byte, s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, kernelerr.New(kernelerr.CanonInvalidValue, "canon: string is not valid UTF-8")
	}
	if hasLoneSurrogate(s) {
		return nil, kernelerr.New(kernelerr.CanonInvalidValue, "canon: string contains a lone UTF-16 surrogate")
	}
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
				buf = append(buf, fmt.Sprintf(`\u%04x`, r)...)
				continue
			}
			var tmp [4]byte
			n := utf8.EncodeRune(tmp[:], r)
			buf = append(buf, tmp[:n]...)
		}
	}
	buf = append(buf, '"')
	return buf, nil
}

// hasLoneSurrogate detects unpaired surrogate code points that slipped
// through as U+FFFD-free invalid runes; utf8.ValidString already
// rejects most of these, but Go strings built from a rune containing a
// surrogate value (0xD800-0xDFFF) encode as the replacement char
// sequence, so this is a defense-in-depth scan over decoded runes.
func hasLoneSurrogate(s string) bool {
	for _, r := range s {
		if utf16.IsSurrogate(r) {
			return true
		}
	}
	return false
}

// appendFloat renders a non-integer finite float per RFC 8785 §3.2.2.3:
// the shortest decimal string that round-trips to the same float64,
// with no trailing ".0" for integral values and no unnecessary
// exponent. NaN and ±Infinity are rejected here at the encoder
// boundary (schema validation rejects them earlier, on the typed path).
func appendFloat(buf []byte, f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, kernelerr.New(kernelerr.CanonInvalidValue, "canon: NaN/Infinity is not a valid canonical number")
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.AppendInt(buf, int64(f), 10), nil
	}
	// Precision -1 yields the shortest digit string that parses back to
	// f. RFC 8785 (ECMAScript Number::toString) uses plain decimal
	// notation for magnitudes in [1e-6, 1e21) and exponent notation with
	// an explicit sign and no zero padding ("1e-7", "1e+21") outside it.
	if abs := math.Abs(f); abs >= 1e-6 && abs < 1e21 {
		return strconv.AppendFloat(buf, f, 'f', -1, 64), nil
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	s = strings.Replace(s, "e-0", "e-", 1)
	s = strings.Replace(s, "e+0", "e+", 1)
	return append(buf, s...), nil
}

// Object is a convenience builder for canonical objects that need the
// {absent, null, value} three-state distinction without constructing a
// raw map[string]any by hand at every call site.
type Object map[string]any

// Set stores v under key unconditionally (including nil, encoded as
// JSON null).
func (o Object) Set(key string, v any) Object {
	o[key] = v
	return o
}

// SetIfPresent stores v under key only when present is true; otherwise
// the key is omitted entirely from the encoded object.
func (o Object) SetIfPresent(key string, v any, present bool) Object {
	if present {
		o[key] = v
	} else {
		o[key] = Absent
	}
	return o
}
