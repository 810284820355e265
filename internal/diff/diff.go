// Package diff computes field-level differences between two snapshots of
// the same entity.
//
// Primitive fields are compared by strict value equality. Composite fields
// (lists and objects) are compared leaf by leaf, but a change anywhere inside
// one is reported as a single difference for the top-level key, carrying the
// canonical JSON of both sides. Callers never learn which leaf moved.
//
// Diff does not handle a missing "before" snapshot. An entity observed for
// the first time must be treated as freshly created by the caller; diffing
// against nothing would report every field as changed from undefined.
package diff

import (
	"github.com/juzibot/wechaty/internal/payload"
)

// ValueKind is the structural category used to decide how two values are
// compared.
type ValueKind int

const (
	KindUndefined ValueKind = iota
	KindNull
	KindBool
	KindNumber
	KindString
	KindComposite
)

// KindOf classifies a value. A nil Value is undefined.
func KindOf(v payload.Value) ValueKind {
	switch v.(type) {
	case nil:
		return KindUndefined
	case payload.Null:
		return KindNull
	case payload.Bool:
		return KindBool
	case payload.Int, payload.Float:
		return KindNumber
	case payload.String:
		return KindString
	default:
		return KindComposite
	}
}

// FieldDifference reports one changed top-level field. OldValue and NewValue
// are nil when the field is undefined on that side. Composite values are
// carried as a payload.String holding their canonical JSON.
type FieldDifference struct {
	Key      string        `json:"key"`
	OldValue payload.Value `json:"oldValue,omitempty"`
	NewValue payload.Value `json:"newValue,omitempty"`
}

// Diff returns one FieldDifference per top-level key whose values differ.
//
// Keys are visited in canonical order over the union of both snapshots, so
// the result is deterministic for a given pair of inputs.
func Diff(old, new payload.Snapshot) []FieldDifference {
	keys := unionKeys(old, new)

	var result []FieldDifference
	for _, key := range keys {
		o, n := old.Get(key), new.Get(key)
		ok, nk := KindOf(o), KindOf(n)

		switch {
		case ok != nk:
			// Kind mismatch is always a change, including undefined -> object.
		case ok != KindComposite:
			if primitiveEqual(o, n) {
				continue
			}
		default:
			if Equal(o, n) {
				continue
			}
		}

		result = append(result, FieldDifference{
			Key:      key,
			OldValue: Semantic(o),
			NewValue: Semantic(n),
		})
	}
	return result
}

// Semantic returns the value as carried in a FieldDifference: primitives
// unchanged, composites as their canonical JSON string.
func Semantic(v payload.Value) payload.Value {
	if KindOf(v) != KindComposite {
		return v
	}
	return payload.String(payload.Canonical(v))
}

// Equal reports whether a and b are structurally equal: same kinds, same
// primitive values, and for composites the same keys (or length) with every
// leaf equal.
func Equal(a, b payload.Value) bool {
	if KindOf(a) != KindOf(b) {
		return false
	}
	switch av := a.(type) {
	case payload.List:
		bv, ok := b.(payload.List)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case payload.Object:
		bv, ok := b.(payload.Object)
		if !ok {
			return false
		}
		for _, k := range unionKeys(av, bv) {
			if !Equal(av.Get(k), bv.Get(k)) {
				return false
			}
		}
		return true
	default:
		return primitiveEqual(a, b)
	}
}

// primitiveEqual compares two non-composite values of the same kind.
// Numbers compare by numeric value, so Int(2) equals Float(2).
func primitiveEqual(a, b payload.Value) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case payload.Null:
		_, ok := b.(payload.Null)
		return ok
	case payload.Int:
		switch bv := b.(type) {
		case payload.Int:
			return av == bv
		case payload.Float:
			return float64(av) == float64(bv)
		}
	case payload.Float:
		switch bv := b.(type) {
		case payload.Int:
			return float64(av) == float64(bv)
		case payload.Float:
			return av == bv
		}
	case payload.String:
		bv, ok := b.(payload.String)
		return ok && av == bv
	case payload.Bool:
		bv, ok := b.(payload.Bool)
		return ok && av == bv
	}
	return false
}

func unionKeys(a, b payload.Object) []string {
	union := make(payload.Object, len(a)+len(b))
	for k := range a {
		union[k] = nil
	}
	for k := range b {
		union[k] = nil
	}
	return union.SortedKeys()
}
