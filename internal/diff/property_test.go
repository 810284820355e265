//go:build property

package diff

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/juzibot/wechaty/internal/payload"
)

func genSnapshot() gopter.Gen {
	return gen.MapOf(
		gen.OneConstOf("name", "alias", "tags", "phone", "extra"),
		gen.OneGenOf(
			gen.AlphaString().Map(func(s string) payload.Value { return payload.String(s) }),
			gen.Int64Range(-5, 5).Map(func(n int64) payload.Value { return payload.Int(n) }),
			gen.SliceOfN(3, gen.AlphaString()).Map(func(s []string) payload.Value {
				l := make(payload.List, len(s))
				for i, v := range s {
					l[i] = payload.String(v)
				}
				return l
			}),
		),
	).Map(func(m map[string]payload.Value) payload.Snapshot {
		return payload.Snapshot(m)
	})
}

// genLookalikeSnapshot draws strings that render alike unless encoded byte
// for byte.
func genLookalikeSnapshot() gopter.Gen {
	str := gen.OneConstOf("e\u0301", "\u00e9", "\xff", "\ufffd", "a\u2028", "a\\u2028")
	return gen.MapOf(
		gen.OneConstOf("name", "tags", "extra"),
		gen.OneGenOf(
			str.Map(func(s string) payload.Value { return payload.String(s) }),
			gen.SliceOfN(2, str).Map(func(s []string) payload.Value {
				l := make(payload.List, len(s))
				for i, v := range s {
					l[i] = payload.String(v)
				}
				return l
			}),
			str.Map(func(s string) payload.Value { return payload.Object{"k": payload.String(s)} }),
		),
	).Map(func(m map[string]payload.Value) payload.Snapshot {
		return payload.Snapshot(m)
	})
}

func TestDiffProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("diff of a snapshot with itself is empty", prop.ForAll(
		func(s payload.Snapshot) bool {
			return len(Diff(s, s.Clone())) == 0
		},
		genSnapshot(),
	))

	properties.Property("diff is symmetric in its keys", prop.ForAll(
		func(a, b payload.Snapshot) bool {
			ab, ba := Diff(a, b), Diff(b, a)
			if len(ab) != len(ba) {
				return false
			}
			for i := range ab {
				if ab[i].Key != ba[i].Key {
					return false
				}
			}
			return true
		},
		genSnapshot(), genSnapshot(),
	))

	properties.Property("every reported key holds unequal values", prop.ForAll(
		func(a, b payload.Snapshot) bool {
			for _, d := range Diff(a, b) {
				if Equal(a.Get(d.Key), b.Get(d.Key)) {
					return false
				}
			}
			return true
		},
		genSnapshot(), genSnapshot(),
	))

	properties.Property("every reported difference carries distinct values", prop.ForAll(
		func(a, b payload.Snapshot) bool {
			for _, d := range Diff(a, b) {
				if Equal(d.OldValue, d.NewValue) {
					return false
				}
			}
			return true
		},
		genLookalikeSnapshot(), genLookalikeSnapshot(),
	))

	properties.TestingRun(t)
}
