package conflict

import (
	"bytes"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		localDel  bool
		remoteDel bool
		local     []byte
		remote    []byte
		want      Kind
	}{
		{"text edits", "notes.md", false, false, []byte("a\n"), []byte("b\n"), KindEditEdit},
		{"local tombstone", "notes.md", true, false, nil, []byte("b\n"), KindEditDelete},
		{"remote tombstone", "notes.md", false, true, []byte("a\n"), nil, KindEditDelete},
		{"tombstone beats binary", "logo.png", true, false, nil, []byte{1, 2}, KindEditDelete},
		{"binary extension", "logo.png", false, false, []byte("a"), []byte("b"), KindBinary},
		{"nul byte", "blob.dat", false, false, []byte("a\x00b"), []byte("b"), KindBinary},
		{"invalid utf8", "blob.dat", false, false, []byte("ok"), []byte{0xff, 0xfe}, KindBinary},
		{"oversized text", "dump.sql", false, false, bytes.Repeat([]byte("x\n"), maxMergeableSize), []byte("b\n"), KindBinary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.path, tt.localDel, tt.remoteDel, tt.local, tt.remote)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsBinaryPath(t *testing.T) {
	assert.True(t, IsBinaryPath("assets/logo.PNG"))
	assert.True(t, IsBinaryPath("plugin.wasm"))
	assert.False(t, IsBinaryPath("notes.md"))
	assert.False(t, IsBinaryPath("Makefile"))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("keep-newer")
	require.NoError(t, err)
	assert.Equal(t, PolicyKeepNewer, p)

	p, err = ParsePolicy("AUTO-MERGE")
	require.NoError(t, err)
	assert.Equal(t, PolicyAutoMerge, p)

	_, err = ParsePolicy("merge")
	assert.ErrorContains(t, err, "unknown conflict policy")
}

func TestParseOutcome(t *testing.T) {
	o, err := ParseOutcome("kept-local")
	require.NoError(t, err)
	assert.Equal(t, OutcomeKeptLocal, o)

	o, err = ParseOutcome("Auto-Merged")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAutoMerged, o)

	_, err = ParseOutcome("unresolved")
	assert.ErrorContains(t, err, "unknown conflict outcome")
}

func TestBackupPath(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, "agents/helper.backup-20260314-093000.md", BackupPath("agents/helper.md", at))
	assert.Equal(t, "Makefile.backup-20260314-093000", BackupPath("Makefile", at))
}

func TestConflictLifecycle(t *testing.T) {
	c := New("agents/helper.md", "base", "local", "remote", KindEditEdit)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, OutcomeUnresolved, c.Outcome)
	assert.False(t, c.CreatedAt.IsZero())
	assert.True(t, c.Open())

	c.MarkResolved(OutcomeAutoMerged, "merged")
	assert.Equal(t, "merged", c.Resolved)
	assert.False(t, c.ResolvedAt.IsZero())
	assert.False(t, c.Open())

	d := New("agents/helper.md", "base", "local", "remote", KindEditDelete)
	d.MarkResolved(OutcomeDeferred, "")
	assert.True(t, d.Open(), "deferred conflicts still need attention")
}

func TestResolveBinaryKeepNewer(t *testing.T) {
	older := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sides := Sides{
		Local:      []byte{0, 1},
		Remote:     []byte{0, 2},
		LocalHash:  "aaa",
		RemoteHash: "bbb",
		LocalTime:  older,
		RemoteTime: older.Add(time.Minute),
	}
	c := New("logo.png", "base", "aaa", "bbb", KindBinary)

	r := NewResolver(PolicyAutoMerge)
	res, err := r.Resolve(c, sides, PolicyKeepNewer)
	require.NoError(t, err)
	assert.Equal(t, OutcomeKeptRemote, res.Outcome)
	assert.Equal(t, []byte{0, 2}, res.Content)
	assert.Equal(t, []byte{0, 1}, res.Backup, "the losing side is preserved")
	assert.False(t, res.Deleted)

	// Auto-merge cannot diff binary content and falls back to keep-newer.
	res, err = r.Resolve(c, sides, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeKeptRemote, res.Outcome)
}

func TestResolveKeepNewerTieIsDeterministic(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := New("logo.png", "base", "", "", KindBinary)
	r := NewResolver(PolicyKeepNewer)

	// Replica one sees fff locally; replica two sees it remotely. The
	// winning content must be the same on both.
	one := Sides{Local: []byte("F"), Remote: []byte("A"), LocalHash: "fff", RemoteHash: "aaa", LocalTime: at, RemoteTime: at}
	two := Sides{Local: []byte("A"), Remote: []byte("F"), LocalHash: "aaa", RemoteHash: "fff", LocalTime: at, RemoteTime: at}

	resOne, err := r.Resolve(c, one, "")
	require.NoError(t, err)
	resTwo, err := r.Resolve(c, two, "")
	require.NoError(t, err)

	assert.Equal(t, OutcomeKeptLocal, resOne.Outcome)
	assert.Equal(t, OutcomeKeptRemote, resTwo.Outcome)
	assert.Equal(t, resOne.Content, resTwo.Content)
}

func TestResolveEditDelete(t *testing.T) {
	sides := Sides{
		Local:         []byte("edited locally\n"),
		RemoteDeleted: true,
		LocalHash:     "lll",
	}
	c := New("notes.md", "base", "lll", "", KindEditDelete)
	r := NewResolver(PolicyAutoMerge)

	res, err := r.Resolve(c, sides, PolicyAutoMerge)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, res.Outcome)
	assert.Contains(t, res.Detail, "pick a side")

	res, err = r.Resolve(c, sides, PolicyKeepRemote)
	require.NoError(t, err)
	assert.Equal(t, OutcomeKeptRemote, res.Outcome)
	assert.True(t, res.Deleted, "keeping the deleting side deletes the path")
	assert.Equal(t, []byte("edited locally\n"), res.Backup)

	res, err = r.Resolve(c, sides, PolicyKeepLocal)
	require.NoError(t, err)
	assert.Equal(t, OutcomeKeptLocal, res.Outcome)
	assert.False(t, res.Deleted)
	assert.Equal(t, []byte("edited locally\n"), res.Content)
}

func TestResolveTextAutoMerge(t *testing.T) {
	c := New("notes.md", "base", "lll", "rrr", KindEditEdit)
	r := NewResolver(PolicyAutoMerge)

	// Disjoint edits merge clean.
	res, err := r.Resolve(c, Sides{
		Base:   []byte("alpha\nbravo\ncharlie\n"),
		Local:  []byte("ALPHA\nbravo\ncharlie\n"),
		Remote: []byte("alpha\nbravo\nCHARLIE\n"),
	}, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAutoMerged, res.Outcome)
	assert.Equal(t, "ALPHA\nbravo\nCHARLIE\n", string(res.Content))

	// Overlapping edits come back marked.
	res, err = r.Resolve(c, Sides{
		Base:   []byte("alpha\n"),
		Local:  []byte("ALPHA\n"),
		Remote: []byte("omega\n"),
	}, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnresolved, res.Outcome)
	assert.Contains(t, string(res.Content), markerLocal)
	assert.Contains(t, string(res.Content), markerRemote)
	assert.Contains(t, res.Detail, "1 conflicting region")
}

func TestResolveStructuredAutoMerge(t *testing.T) {
	c := New("settings.json", "base", "lll", "rrr", KindEditEdit)
	r := NewResolver(PolicyAutoMerge)

	res, err := r.Resolve(c, Sides{
		Base:   []byte(`{"a": 1}`),
		Local:  []byte(`{"a": 2}`),
		Remote: []byte(`{"a": 1, "b": 3}`),
	}, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAutoMerged, res.Outcome)

	var got map[string]any
	require.NoError(t, json.Unmarshal(res.Content, &got))
	assert.Equal(t, float64(2), got["a"])
	assert.Equal(t, float64(3), got["b"])

	res, err = r.Resolve(c, Sides{
		Base:   []byte(`{"a": 1}`),
		Local:  []byte(`{"a": 2}`),
		Remote: []byte(`{"a": 3}`),
	}, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnresolved, res.Outcome)
	assert.Contains(t, res.Detail, "unresolved keys: a")
}

func TestResolveStructuredDowngradesToBinary(t *testing.T) {
	older := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := New("settings.json", "base", "lll", "rrr", KindEditEdit)
	r := NewResolver(PolicyAutoMerge)

	res, err := r.Resolve(c, Sides{
		Local:      []byte(`{broken`),
		Remote:     []byte(`{"a": 1}`),
		LocalTime:  older.Add(time.Minute),
		RemoteTime: older,
	}, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeKeptLocal, res.Outcome)
	assert.Contains(t, res.Detail, "downgraded to binary")
	assert.Equal(t, []byte(`{"a": 1}`), res.Backup)
}

func TestResolveManualDefers(t *testing.T) {
	c := New("notes.md", "base", "lll", "rrr", KindEditEdit)
	r := NewResolver(PolicyManual)

	res, err := r.Resolve(c, Sides{Local: []byte("l"), Remote: []byte("r")}, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, res.Outcome)
}

func TestResolveDefaultPolicy(t *testing.T) {
	c := New("notes.md", "base", "lll", "rrr", KindEditEdit)
	r := NewResolver(PolicyKeepLocal)

	res, err := r.Resolve(c, Sides{Local: []byte("mine"), Remote: []byte("theirs")}, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeKeptLocal, res.Outcome)
	assert.Equal(t, []byte("mine"), res.Content)
	assert.Equal(t, []byte("theirs"), res.Backup)
}

func TestResolveRejectsUnknown(t *testing.T) {
	r := NewResolver(PolicyAutoMerge)

	_, err := r.Resolve(&Conflict{Kind: Kind("weird")}, Sides{}, "")
	assert.ErrorContains(t, err, "unknown conflict kind")

	c := New("notes.md", "base", "lll", "rrr", KindEditEdit)
	_, err = r.Resolve(c, Sides{}, Policy("bogus"))
	assert.ErrorContains(t, err, "unknown conflict policy")
}
