package payload

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSealed(t *testing.T) {
	var _ Value = Null{}
	var _ Value = String("s")
	var _ Value = Int(1)
	var _ Value = Float(1.5)
	var _ Value = Bool(true)
	var _ Value = List{String("a")}
	var _ Value = Object{"k": String("v")}
}

func TestParseKeepsIntegersExact(t *testing.T) {
	s, err := Parse([]byte(`{"id":"c1","big":9007199254740993,"ratio":0.5,"gone":null}`))
	require.NoError(t, err)

	assert.Equal(t, String("c1"), s["id"])
	assert.Equal(t, Int(9007199254740993), s["big"])
	assert.Equal(t, Float(0.5), s["ratio"])
	assert.Equal(t, Null{}, s["gone"])
	assert.Nil(t, s.Get("missing"))
}

func TestParseRejectsNonObject(t *testing.T) {
	_, err := Parse([]byte(`[1,2]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected JSON object")
}

func TestParseNull(t *testing.T) {
	s, err := Parse([]byte(`null`))
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestObjectUnmarshalJSON(t *testing.T) {
	var wrapper struct {
		Payload Object `json:"payload"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"payload":{"tags":["t1","t2"]}}`), &wrapper))
	assert.Equal(t, List{String("t1"), String("t2")}, wrapper.Payload["tags"])
}

func TestObjectMarshalJSONIsCanonical(t *testing.T) {
	data, err := json.Marshal(map[string]any{"payload": Object{"b": Int(1), "a": Bool(true)}})
	require.NoError(t, err)
	assert.Equal(t, `{"payload":{"a":true,"b":1}}`, string(data))
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(map[string]any{
		"name":  "Alice",
		"age":   30,
		"score": 1.25,
		"phone": []string{"123"},
		"extra": []any{true, nil},
	})
	require.NoError(t, err)

	obj := v.(Object)
	assert.Equal(t, String("Alice"), obj["name"])
	assert.Equal(t, Int(30), obj["age"])
	assert.Equal(t, Float(1.25), obj["score"])
	assert.Equal(t, List{String("123")}, obj["phone"])
	assert.Equal(t, List{Bool(true), Null{}}, obj["extra"])
}

func TestFromAnyRejectsUnsupported(t *testing.T) {
	_, err := FromAny(map[string]any{"ch": make(chan int)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported type")
}

func TestToAnyRoundTrip(t *testing.T) {
	in := map[string]any{
		"name": "Alice",
		"tags": []any{"t1"},
		"n":    int64(3),
		"nil":  nil,
	}
	v, err := FromAny(in)
	require.NoError(t, err)
	assert.Equal(t, in, ToAny(v))
}

func TestCloneIsDeep(t *testing.T) {
	orig := Snapshot{
		"tags":  List{String("t1")},
		"extra": Object{"k": String("v")},
	}
	cp := orig.Clone()

	orig["tags"].(List)[0] = String("mutated")
	orig["extra"].(Object)["k"] = String("mutated")
	orig["name"] = String("new")

	assert.Equal(t, String("t1"), cp["tags"].(List)[0])
	assert.Equal(t, String("v"), cp["extra"].(Object)["k"])
	assert.NotContains(t, cp, "name")
}

func TestCloneNil(t *testing.T) {
	var s Snapshot
	assert.Nil(t, s.Clone())
}

func TestStringHelpers(t *testing.T) {
	assert.Equal(t, "x", StringOf(String("x")))
	assert.Equal(t, "", StringOf(Int(1)))
	assert.Equal(t, "", StringOf(nil))

	assert.Equal(t, []string{"a", "b"}, StringsOf(List{String("a"), Int(1), String("b")}))
	assert.Equal(t, []string{}, StringsOf(nil))
}
