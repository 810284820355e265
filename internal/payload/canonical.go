package payload

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces canonical JSON for a Value.
//
// Differences from json.Marshal:
//  1. Object keys sorted by UTF-16 code units
//  2. No HTML escaping (< > & stay literal)
//  3. U+2028 and U+2029 are emitted literally
//  4. Strings are written byte for byte: no Unicode normalization, and
//     invalid UTF-8 is kept rather than replaced with U+FFFD
//
// The output is lossless, so two strings that compare unequal never render
// the same. Unlike content-addressed hashing formats, null is allowed here:
// a snapshot field may legitimately hold null.
func MarshalCanonical(v Value) ([]byte, error) {
	return marshalCanonical(v, false)
}

// marshalNormalized is MarshalCanonical with every string NFC normalized.
// Only fingerprints use it.
func marshalNormalized(v Value) ([]byte, error) {
	return marshalCanonical(v, true)
}

func marshalCanonical(v Value, nfc bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v, nfc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Canonical returns the canonical JSON of v as a string. Values built by
// FromAny or Parse always marshal; anything else falls back to its Go
// formatting.
func Canonical(v Value) string {
	data, err := MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func writeCanonical(buf *bytes.Buffer, v Value, nfc bool) error {
	switch val := v.(type) {
	case nil, Null:
		buf.WriteString("null")
	case String:
		writeCanonicalString(buf, string(val), nfc)
	case Int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case Float:
		s, err := formatFloat(float64(val))
		if err != nil {
			return err
		}
		buf.WriteString(s)
	case Bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case List:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem, nfc); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case Object:
		buf.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonicalString(buf, k, nfc)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k], nfc); err != nil {
				return fmt.Errorf("[%q]: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
	return nil
}

// formatFloat renders the shortest representation that round-trips.
// Integral floats render without a fraction ("2", not "2.0").
func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("non-finite number %v", f)
	}
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		return strconv.FormatFloat(f, 'e', -1, 64), nil
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

const hexDigits = "0123456789abcdef"

// writeCanonicalString quotes s the way encoding/json does for valid text,
// escaping only the quote, the backslash and control characters. Bytes that
// are not valid UTF-8 are copied through unchanged.
func writeCanonicalString(buf *bytes.Buffer, s string, nfc bool) {
	if nfc {
		s = norm.NFC.String(s)
	}
	buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case c == '\n':
			buf.WriteString(`\n`)
		case c == '\r':
			buf.WriteString(`\r`)
		case c == '\t':
			buf.WriteString(`\t`)
		case c == '\b':
			buf.WriteString(`\b`)
		case c == '\f':
			buf.WriteString(`\f`)
		case c < 0x20:
			buf.WriteString(`\u00`)
			buf.WriteByte(hexDigits[c>>4])
			buf.WriteByte(hexDigits[c&0xF])
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte('"')
}
