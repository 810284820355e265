package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the field values a snapshot may hold.
// Only Null, String, Int, Float, Bool, List and Object implement it.
type Value interface {
	payloadValue()
}

// Null is an explicit JSON null. It is distinct from an absent field.
type Null struct{}

func (Null) payloadValue() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String is a string field value.
type String string

func (String) payloadValue() {}

// Int is an integral number.
type Int int64

func (Int) payloadValue() {}

// Float is a non-integral number. NaN and infinities are rejected at
// construction by FromAny.
type Float float64

func (Float) payloadValue() {}

// Bool is a boolean field value.
type Bool bool

func (Bool) payloadValue() {}

// List is an ordered sequence of values.
type List []Value

func (List) payloadValue() {}

// MarshalJSON renders the list in canonical form.
func (l List) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(l)
}

// Object maps field names to values. Use SortedKeys for deterministic
// iteration.
type Object map[string]Value

func (Object) payloadValue() {}

// MarshalJSON renders the object in canonical form.
func (o Object) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(o)
}

// UnmarshalJSON decodes a JSON object, keeping integers exact.
func (o *Object) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// Snapshot is the field map of one entity at one point in time.
type Snapshot = Object

// SortedKeys returns keys ordered by UTF-16 code units (RFC 8785).
// Go's native string order compares UTF-8 bytes and differs for
// supplementary-plane characters.
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

// Get returns the value at key, or nil when the field is undefined.
func (o Object) Get(key string) Value {
	if o == nil {
		return nil
	}
	return o[key]
}

// Clone returns a deep copy of the snapshot. A nil snapshot stays nil.
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	return Clone(o).(Object)
}

func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// Clone deep-copies v so later mutation of the source cannot reach the copy.
func Clone(v Value) Value {
	switch val := v.(type) {
	case List:
		if val == nil {
			return List(nil)
		}
		out := make(List, len(val))
		for i, elem := range val {
			out[i] = Clone(elem)
		}
		return out
	case Object:
		if val == nil {
			return Object(nil)
		}
		out := make(Object, len(val))
		for k, elem := range val {
			out[k] = Clone(elem)
		}
		return out
	default:
		// Scalars are immutable.
		return v
	}
}

// Parse decodes a JSON object into a Snapshot. Integers that fit in int64
// stay Int; other numbers become Float.
func Parse(data []byte) (Snapshot, error) {
	v, err := ParseValue(data)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	switch val := v.(type) {
	case Null:
		return nil, nil
	case Object:
		return val, nil
	default:
		return nil, fmt.Errorf("parse snapshot: expected JSON object, got %T", v)
	}
}

// ParseValue decodes any JSON document into a Value. A JSON null is Null.
func ParseValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromAny(raw)
}

// FromAny converts decoded JSON or YAML (and a few common Go shapes) into a
// Value. nil becomes Null.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case float32:
		return fromFloat(float64(val))
	case float64:
		return fromFloat(val)
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return Int(n), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("number %s: %w", val, err)
		}
		return fromFloat(f)
	case []string:
		out := make(List, len(val))
		for i, s := range val {
			out[i] = String(s)
		}
		return out, nil
	case []any:
		out := make(List, len(val))
		for i, elem := range val {
			conv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = conv
		}
		return out, nil
	case map[string]any:
		out := make(Object, len(val))
		for k, elem := range val {
			conv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			out[k] = conv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

func fromFloat(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite number %v", f)
	}
	return Float(f), nil
}

// ToAny converts a Value back into plain Go values (nil, string, int64,
// float64, bool, []any, map[string]any). A nil Value returns nil.
func ToAny(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Bool:
		return bool(val)
	case List:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToAny(elem)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToAny(elem)
		}
		return out
	default:
		return nil
	}
}

// StringOf returns the string held by v, or "" when v is not a String.
func StringOf(v Value) string {
	if s, ok := v.(String); ok {
		return string(s)
	}
	return ""
}

// StringsOf returns the string elements of a List. Non-string elements and
// non-list values are skipped.
func StringsOf(v Value) []string {
	l, ok := v.(List)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(l))
	for _, elem := range l {
		if s, ok := elem.(String); ok {
			out = append(out, string(s))
		}
	}
	return out
}
