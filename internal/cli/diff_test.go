package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	oldContact = `{"id":"c1","name":"Alice","tags":["t1"],"city":"Paris"}`
	newContact = `{"id":"c1","name":"Alicia","tags":["t1","t2"],"signature":"hi"}`
)

func writeSnapshots(t *testing.T, oldJSON, newJSON string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.json")
	newPath := filepath.Join(dir, "new.json")
	require.NoError(t, os.WriteFile(oldPath, []byte(oldJSON), 0644))
	require.NoError(t, os.WriteFile(newPath, []byte(newJSON), 0644))
	return oldPath, newPath
}

func executeDiff(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewDiffCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestDiff_Text(t *testing.T) {
	oldPath, newPath := writeSnapshots(t, oldContact, newContact)

	out, err := executeDiff(t, "text", oldPath, newPath)
	require.NoError(t, err)

	want := `- city: "Paris" -> (undefined)
~ name: "Alice" -> "Alicia"
+ signature: (undefined) -> "hi"
~ tags: "[\"t1\"]" -> "[\"t1\",\"t2\"]"
`
	assert.Equal(t, want, out)
}

func TestDiff_TextClassified(t *testing.T) {
	oldPath, newPath := writeSnapshots(t, oldContact, newContact)

	out, err := executeDiff(t, "text", oldPath, newPath, "--kind", "contact")
	require.NoError(t, err)

	want := `- city: "Paris" -> (undefined) [regular]
~ name: "Alice" -> "Alicia" [important]
+ signature: (undefined) -> "hi" [regular]
~ tags: "[\"t1\"]" -> "[\"t1\",\"t2\"]" [important]
`
	assert.Equal(t, want, out)
}

func TestDiff_Policy(t *testing.T) {
	oldPath, newPath := writeSnapshots(t, oldContact, newContact)
	policyPath := filepath.Join(t.TempDir(), "policy.cue")
	require.NoError(t, os.WriteFile(policyPath, []byte(`important: contact: ["signature"]
regular: contact: ["name"]
`), 0644))

	out, err := executeDiff(t, "text", oldPath, newPath, "--kind", "contact", "--policy", policyPath)
	require.NoError(t, err)
	assert.Contains(t, out, `~ name: "Alice" -> "Alicia" [regular]`)
	assert.Contains(t, out, `+ signature: (undefined) -> "hi" [important]`)
}

func TestDiff_JSON(t *testing.T) {
	oldPath, newPath := writeSnapshots(t, oldContact, newContact)

	out, err := executeDiff(t, "json", oldPath, newPath, "--kind", "contact")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Kind        string `json:"kind"`
			Differences []struct {
				Key      string `json:"key"`
				OldValue any    `json:"oldValue"`
				NewValue any    `json:"newValue"`
				Class    string `json:"class"`
			} `json:"differences"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "contact", resp.Data.Kind)
	require.Len(t, resp.Data.Differences, 4)

	city := resp.Data.Differences[0]
	assert.Equal(t, "city", city.Key)
	assert.Equal(t, "Paris", city.OldValue)
	assert.Nil(t, city.NewValue)
	assert.Equal(t, "regular", city.Class)

	tags := resp.Data.Differences[3]
	assert.Equal(t, "tags", tags.Key)
	assert.Equal(t, `["t1"]`, tags.OldValue)
	assert.Equal(t, `["t1","t2"]`, tags.NewValue)
	assert.Equal(t, "important", tags.Class)
}

func TestDiff_NoDifferences(t *testing.T) {
	// Key order and integer spelling do not matter.
	oldPath, newPath := writeSnapshots(t, `{"a":1,"b":{"x":[1,2]}}`, `{"b":{"x":[1,2]},"a":1}`)

	out, err := executeDiff(t, "text", oldPath, newPath)
	require.NoError(t, err)
	assert.Equal(t, "No differences.\n", out)

	out, err = executeDiff(t, "json", oldPath, newPath)
	require.NoError(t, err)
	assert.Contains(t, out, `"differences": []`)
}

func TestDiff_Errors(t *testing.T) {
	oldPath, newPath := writeSnapshots(t, oldContact, newContact)
	_, notObject := writeSnapshots(t, "{}", "[1,2]")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"policy_without_kind", []string{oldPath, newPath, "--policy", "p.cue"}, "--policy requires --kind"},
		{"unknown_kind", []string{oldPath, newPath, "--kind", "widget"}, `unknown kind "widget"`},
		{"missing_file", []string{oldPath, filepath.Join(t.TempDir(), "nope.json")}, "failed to read new snapshot"},
		{"not_an_object", []string{notObject, newPath}, "failed to read old snapshot"},
		{"missing_policy", []string{oldPath, newPath, "--kind", "contact", "--policy", filepath.Join(t.TempDir(), "nope.cue")}, "failed to load policy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeDiff(t, "text", tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestDiff_WrongArgCount(t *testing.T) {
	_, err := executeDiff(t, "text", "only-one.json")
	require.Error(t, err)
}
