package conflict

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func decodeJSON(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func TestStructMergeDisjointKeys(t *testing.T) {
	base := []byte(`{"model": "fast", "temperature": 0.5}`)
	local := []byte(`{"model": "quick", "temperature": 0.5}`)
	remote := []byte(`{"model": "fast", "temperature": 0.9}`)

	merge, err := MergeStructured("settings.json", base, local, remote, SideNone)
	require.NoError(t, err)
	require.True(t, merge.Clean())

	got := decodeJSON(t, merge.Content)
	assert.Equal(t, "quick", got["model"])
	assert.Equal(t, 0.9, got["temperature"])
}

func TestStructMergeNestedKeys(t *testing.T) {
	base := []byte(`{"editor": {"font": "mono", "size": 12}}`)
	local := []byte(`{"editor": {"font": "mono", "size": 14}}`)
	remote := []byte(`{"editor": {"font": "serif", "size": 12}}`)

	merge, err := MergeStructured("settings.json", base, local, remote, SideNone)
	require.NoError(t, err)
	require.True(t, merge.Clean())

	editor := decodeJSON(t, merge.Content)["editor"].(map[string]any)
	assert.Equal(t, "serif", editor["font"])
	assert.Equal(t, float64(14), editor["size"])
}

func TestStructMergeScalarConflict(t *testing.T) {
	base := []byte(`{"model": "fast"}`)
	local := []byte(`{"model": "quick"}`)
	remote := []byte(`{"model": "sharp"}`)

	merge, err := MergeStructured("settings.json", base, local, remote, SideNone)
	require.NoError(t, err)
	assert.Equal(t, []string{"model"}, merge.Conflicts)

	// The local value stands in while the leaf is unresolved.
	assert.Equal(t, "quick", decodeJSON(t, merge.Content)["model"])
}

func TestStructMergeForcedSide(t *testing.T) {
	base := []byte(`{"model": "fast"}`)
	local := []byte(`{"model": "quick"}`)
	remote := []byte(`{"model": "sharp"}`)

	merge, err := MergeStructured("settings.json", base, local, remote, SideRemote)
	require.NoError(t, err)
	require.True(t, merge.Clean())
	assert.Equal(t, "sharp", decodeJSON(t, merge.Content)["model"])

	merge, err = MergeStructured("settings.json", base, local, remote, SideLocal)
	require.NoError(t, err)
	require.True(t, merge.Clean())
	assert.Equal(t, "quick", decodeJSON(t, merge.Content)["model"])
}

func TestStructMergeListsTakeRemote(t *testing.T) {
	base := []byte(`{"tags": ["a"]}`)
	local := []byte(`{"tags": ["a", "b"]}`)
	remote := []byte(`{"tags": ["a", "c"]}`)

	merge, err := MergeStructured("settings.json", base, local, remote, SideNone)
	require.NoError(t, err)
	require.True(t, merge.Clean())
	assert.Equal(t, []any{"a", "c"}, decodeJSON(t, merge.Content)["tags"])
}

func TestStructMergeListChangedOneSide(t *testing.T) {
	base := []byte(`{"tags": ["a"]}`)
	local := []byte(`{"tags": ["a", "b"]}`)

	merge, err := MergeStructured("settings.json", base, local, base, SideNone)
	require.NoError(t, err)
	require.True(t, merge.Clean())
	assert.Equal(t, []any{"a", "b"}, decodeJSON(t, merge.Content)["tags"])
}

func TestStructMergeAddedKeys(t *testing.T) {
	base := []byte(`{"a": 1}`)
	local := []byte(`{"a": 1, "local_key": "l"}`)
	remote := []byte(`{"a": 1, "remote_key": "r"}`)

	merge, err := MergeStructured("settings.json", base, local, remote, SideNone)
	require.NoError(t, err)
	require.True(t, merge.Clean())

	got := decodeJSON(t, merge.Content)
	assert.Equal(t, "l", got["local_key"])
	assert.Equal(t, "r", got["remote_key"])
}

func TestStructMergeDeletePropagates(t *testing.T) {
	base := []byte(`{"keep": 1, "old": 2}`)
	local := []byte(`{"keep": 1}`)
	remote := []byte(`{"keep": 1, "old": 2}`)

	merge, err := MergeStructured("settings.json", base, local, remote, SideNone)
	require.NoError(t, err)
	require.True(t, merge.Clean())

	got := decodeJSON(t, merge.Content)
	assert.NotContains(t, got, "old", "a deletion of an untouched key propagates")
}

func TestStructMergeDeleteVersusEdit(t *testing.T) {
	base := []byte(`{"k": 1}`)
	local := []byte(`{"k": 2}`)
	remote := []byte(`{}`)

	merge, err := MergeStructured("settings.json", base, local, remote, SideNone)
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, merge.Conflicts)
	assert.Equal(t, float64(2), decodeJSON(t, merge.Content)["k"], "the edited value survives")

	// Forcing the deleting side drops the key.
	merge, err = MergeStructured("settings.json", base, local, remote, SideRemote)
	require.NoError(t, err)
	require.True(t, merge.Clean())
	assert.NotContains(t, decodeJSON(t, merge.Content), "k")
}

func TestStructMergeConflictPathsAreDotted(t *testing.T) {
	base := []byte(`{"editor": {"theme": "light"}}`)
	local := []byte(`{"editor": {"theme": "dark"}}`)
	remote := []byte(`{"editor": {"theme": "solar"}}`)

	merge, err := MergeStructured("settings.json", base, local, remote, SideNone)
	require.NoError(t, err)
	assert.Equal(t, []string{"editor.theme"}, merge.Conflicts)
}

func TestStructMergeYAML(t *testing.T) {
	base := []byte("name: helper\nlimits:\n  rpm: 10\n")
	local := []byte("name: helper\nlimits:\n  rpm: 20\n")
	remote := []byte("name: renamed\nlimits:\n  rpm: 10\n")

	merge, err := MergeStructured("skill.yaml", base, local, remote, SideNone)
	require.NoError(t, err)
	require.True(t, merge.Clean())

	var got map[string]any
	require.NoError(t, yaml.Unmarshal(merge.Content, &got))
	assert.Equal(t, "renamed", got["name"])
	limits := got["limits"].(map[string]any)
	assert.Equal(t, 20, limits["rpm"])
}

func TestStructMergeUndecodable(t *testing.T) {
	_, err := MergeStructured("settings.json", nil, []byte(`{"ok": true}`), []byte(`{broken`), SideNone)
	require.Error(t, err)

	_, err = MergeStructured("settings.txt", nil, []byte("a"), []byte("b"), SideNone)
	require.Error(t, err, "non-structured extensions have no codec")
}

func TestStructMergeWithoutBase(t *testing.T) {
	local := []byte(`{"shared": 1, "mine": true}`)
	remote := []byte(`{"shared": 1, "theirs": true}`)

	merge, err := MergeStructured("settings.json", nil, local, remote, SideNone)
	require.NoError(t, err)
	require.True(t, merge.Clean())

	got := decodeJSON(t, merge.Content)
	assert.Equal(t, true, got["mine"])
	assert.Equal(t, true, got["theirs"])
}

func TestIsStructuredPath(t *testing.T) {
	assert.True(t, IsStructuredPath("settings.json"))
	assert.True(t, IsStructuredPath("skills/a/skill.yaml"))
	assert.True(t, IsStructuredPath("conf.YML"))
	assert.False(t, IsStructuredPath("notes.md"))
	assert.False(t, IsStructuredPath("archive.zip"))
}
