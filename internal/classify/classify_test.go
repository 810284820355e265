package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juzibot/wechaty/internal/diff"
	"github.com/juzibot/wechaty/internal/payload"
)

func diffs(keys ...string) []diff.FieldDifference {
	out := make([]diff.FieldDifference, len(keys))
	for i, k := range keys {
		out[i] = diff.FieldDifference{Key: k, NewValue: payload.String(k)}
	}
	return out
}

func keys(ds []diff.FieldDifference) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Key
	}
	return out
}

func TestClassify_Contact(t *testing.T) {
	p := Classify(payload.KindContact, diffs("alias", "signature", "tags", "avatar", "corporation"))

	assert.Equal(t, []string{"alias", "tags", "corporation"}, keys(p.Important))
	assert.Equal(t, []string{"signature", "avatar"}, keys(p.Regular))
}

func TestClassify_Room(t *testing.T) {
	p := Classify(payload.KindRoom, diffs("topic", "avatar", "ownerId", "memberIdList", "adminIdList"))

	assert.Equal(t, []string{"topic", "ownerId", "memberIdList"}, keys(p.Important))
	assert.Equal(t, []string{"avatar", "adminIdList"}, keys(p.Regular))
}

func TestClassify_UnknownKindAllRegular(t *testing.T) {
	p := Classify(payload.KindMessage, diffs("text", "name"))
	assert.Empty(t, p.Important)
	assert.Equal(t, []string{"text", "name"}, keys(p.Regular))

	p = Classify(payload.Kind(99), diffs("name"))
	assert.Empty(t, p.Important)
	assert.Len(t, p.Regular, 1)
}

func TestClassify_EveryDifferenceLandsOnce(t *testing.T) {
	in := diffs("name", "tags", "alias", "phone", "description", "corporation", "x", "y")
	p := Classify(payload.KindContact, in)
	assert.Equal(t, len(in), len(p.Important)+len(p.Regular))
}

func TestClassify_Empty(t *testing.T) {
	p := Classify(payload.KindContact, nil)
	assert.True(t, p.Empty())
}

func TestNew_CustomTable(t *testing.T) {
	table := Default()
	delete(table[payload.KindContact], "description")
	c := New(table)

	assert.False(t, c.IsImportant(payload.KindContact, "description"))
	assert.True(t, c.IsImportant(payload.KindContact, "alias"))

	// The default table is untouched.
	assert.True(t, New(nil).IsImportant(payload.KindContact, "description"))
}

func TestNew_CopiesTable(t *testing.T) {
	table := Table{payload.KindContact: NewFieldSet("alias")}
	c := New(table)
	table[payload.KindContact]["phone"] = struct{}{}

	assert.False(t, c.IsImportant(payload.KindContact, "phone"))
}

func TestDefault_ReturnsFreshCopy(t *testing.T) {
	a := Default()
	a[payload.KindRoom]["avatar"] = struct{}{}
	require.False(t, Default()[payload.KindRoom].Has("avatar"))
}

func TestFieldSet_Names(t *testing.T) {
	assert.Equal(t, []string{"memberIdList", "ownerId", "topic"}, Default()[payload.KindRoom].Names())
}
