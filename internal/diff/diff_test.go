package diff

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juzibot/wechaty/internal/payload"
)

func mustParse(t *testing.T, s string) payload.Snapshot {
	t.Helper()
	snap, err := payload.Parse([]byte(s))
	require.NoError(t, err)
	return snap
}

func TestDiff_IdenticalSnapshotsYieldNothing(t *testing.T) {
	snap := mustParse(t, `{"name":"Alice","tags":["t1","t2"],"extra":{"a":{"b":1}},"n":null}`)
	assert.Empty(t, Diff(snap, snap.Clone()))
}

func TestDiff_PrimitiveChange(t *testing.T) {
	old := mustParse(t, `{"name":"Alice","age":30}`)
	new := mustParse(t, `{"name":"Alicia","age":30}`)

	got := Diff(old, new)
	require.Len(t, got, 1)
	assert.Equal(t, FieldDifference{
		Key:      "name",
		OldValue: payload.String("Alice"),
		NewValue: payload.String("Alicia"),
	}, got[0])
}

func TestDiff_PrimitiveStrictness(t *testing.T) {
	tests := []struct {
		name     string
		old, new string
		want     int
	}{
		{"string vs number", `{"v":"1"}`, `{"v":1}`, 1},
		{"bool vs number", `{"v":true}`, `{"v":1}`, 1},
		{"null vs string", `{"v":null}`, `{"v":""}`, 1},
		{"null vs absent", `{"v":null}`, `{}`, 1},
		{"int vs float same value", `{"v":2}`, `{"v":2.0}`, 0},
		{"empty string unchanged", `{"v":""}`, `{"v":""}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(mustParse(t, tt.old), mustParse(t, tt.new))
			assert.Len(t, got, tt.want)
		})
	}
}

func TestDiff_CompositeCollapsesToTopLevelKey(t *testing.T) {
	old := mustParse(t, `{"tags":["t1","t2"]}`)
	new := mustParse(t, `{"tags":["t1","t3"]}`)

	got := Diff(old, new)
	require.Len(t, got, 1)
	assert.Equal(t, "tags", got[0].Key)
	assert.Equal(t, payload.String(`["t1","t2"]`), got[0].OldValue)
	assert.Equal(t, payload.String(`["t1","t3"]`), got[0].NewValue)
}

func TestDiff_NestedLeafChangeReportsOnce(t *testing.T) {
	old := mustParse(t, `{"profile":{"address":{"city":"A","zip":"1"},"tags":["x"]}}`)
	new := mustParse(t, `{"profile":{"address":{"city":"B","zip":"2"},"tags":["y"]}}`)

	got := Diff(old, new)
	require.Len(t, got, 1)
	assert.Equal(t, "profile", got[0].Key)
	assert.Equal(t, payload.String(`{"address":{"city":"A","zip":"1"},"tags":["x"]}`), got[0].OldValue)
}

func TestDiff_CompositeKeyOrderIrrelevant(t *testing.T) {
	old := mustParse(t, `{"extra":{"a":1,"b":2}}`)
	new := mustParse(t, `{"extra":{"b":2,"a":1}}`)
	assert.Empty(t, Diff(old, new))
}

func TestDiff_ListOrderMatters(t *testing.T) {
	old := mustParse(t, `{"memberIdList":["a","b"]}`)
	new := mustParse(t, `{"memberIdList":["b","a"]}`)
	assert.Len(t, Diff(old, new), 1)
}

func TestDiff_KindMismatchUndefinedToObject(t *testing.T) {
	old := mustParse(t, `{"name":"A"}`)
	new := mustParse(t, `{"name":"A","extra":{"k":"v"}}`)

	got := Diff(old, new)
	require.Len(t, got, 1)
	assert.Equal(t, "extra", got[0].Key)
	assert.Nil(t, got[0].OldValue)
	assert.Equal(t, payload.String(`{"k":"v"}`), got[0].NewValue)
}

func TestDiff_KindMismatchObjectToPrimitive(t *testing.T) {
	old := mustParse(t, `{"v":{"k":1}}`)
	new := mustParse(t, `{"v":"flat"}`)

	got := Diff(old, new)
	require.Len(t, got, 1)
	assert.Equal(t, payload.String(`{"k":1}`), got[0].OldValue)
	assert.Equal(t, payload.String("flat"), got[0].NewValue)
}

func TestDiff_ListVersusObjectIsAChange(t *testing.T) {
	old := mustParse(t, `{"v":[]}`)
	new := mustParse(t, `{"v":{}}`)
	assert.Len(t, Diff(old, new), 1)
}

func TestDiff_NullInsideCompositeIsALeaf(t *testing.T) {
	old := mustParse(t, `{"v":{"a":null}}`)
	new := mustParse(t, `{"v":{"a":{"b":1}}}`)
	assert.Len(t, Diff(old, new), 1)
}

func TestDiff_CompositeValuesStayDistinct(t *testing.T) {
	tests := []struct {
		name     string
		old, new payload.Value
	}{
		{"precomposed vs decomposed", payload.List{payload.String("caf\u00e9")}, payload.List{payload.String("cafe\u0301")}},
		{"invalid utf-8 vs replacement", payload.List{payload.String("\xff")}, payload.List{payload.String("\ufffd")}},
		{"nested key normalization", payload.Object{"\u00e9": payload.Int(1)}, payload.Object{"e\u0301": payload.Int(1)}},
		{"escaped line separator", payload.List{payload.String("\u2028")}, payload.List{payload.String(`\u2028`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(payload.Snapshot{"tags": tt.old}, payload.Snapshot{"tags": tt.new})
			require.Len(t, got, 1)
			assert.NotEqual(t, got[0].OldValue, got[0].NewValue)
			assert.Equal(t, payload.String(payload.Canonical(tt.old)), got[0].OldValue)
			assert.Equal(t, payload.String(payload.Canonical(tt.new)), got[0].NewValue)
		})
	}
}

func TestDiff_RemovedField(t *testing.T) {
	old := mustParse(t, `{"alias":"bob","name":"B"}`)
	new := mustParse(t, `{"name":"B"}`)

	got := Diff(old, new)
	require.Len(t, got, 1)
	assert.Equal(t, payload.String("bob"), got[0].OldValue)
	assert.Nil(t, got[0].NewValue)
}

func TestDiff_DeterministicOrder(t *testing.T) {
	old := mustParse(t, `{"z":1,"a":1,"m":1}`)
	new := mustParse(t, `{"z":2,"a":2,"m":2}`)

	got := Diff(old, new)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "m", "z"}, []string{got[0].Key, got[1].Key, got[2].Key})
}

func TestDiff_NilSnapshotsAreEmpty(t *testing.T) {
	assert.Empty(t, Diff(nil, nil))
	assert.Empty(t, Diff(nil, payload.Snapshot{}))
}

func TestFieldDifference_JSON(t *testing.T) {
	d := FieldDifference{Key: "alias", NewValue: payload.String("bob")}
	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"alias","newValue":"bob"}`, string(data))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUndefined, KindOf(nil))
	assert.Equal(t, KindNull, KindOf(payload.Null{}))
	assert.Equal(t, KindBool, KindOf(payload.Bool(false)))
	assert.Equal(t, KindNumber, KindOf(payload.Int(1)))
	assert.Equal(t, KindNumber, KindOf(payload.Float(1.5)))
	assert.Equal(t, KindString, KindOf(payload.String("")))
	assert.Equal(t, KindComposite, KindOf(payload.List{}))
	assert.Equal(t, KindComposite, KindOf(payload.Object{}))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(payload.List{payload.Int(1)}, payload.List{payload.Float(1)}))
	assert.False(t, Equal(payload.List{payload.Int(1)}, payload.List{payload.Int(1), payload.Int(2)}))
	assert.False(t, Equal(payload.List{}, payload.Object{}))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, payload.Null{}))
}
