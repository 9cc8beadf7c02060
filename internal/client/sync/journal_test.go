package sync

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confsync/confsync/internal/history"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func journalVersion(path, hash string, number int64) *history.FileVersion {
	return &history.FileVersion{
		Seq:           number,
		Path:          path,
		Hash:          hash,
		Size:          int64(len(hash)),
		VersionNumber: number,
		ReplicaID:     "replica-a",
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}
}

func TestJournalSetGet(t *testing.T) {
	j := newTestJournal(t)

	v := journalVersion("agents/review.yaml", "h1", 1)
	require.NoError(t, j.Set(v))

	got, err := j.Get("agents/review.yaml")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, v.Hash, got.Hash)
	assert.Equal(t, v.VersionNumber, got.VersionNumber)
	assert.Equal(t, v.ReplicaID, got.ReplicaID)

	missing, err := j.Get("missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestJournalSetReplacesPath(t *testing.T) {
	j := newTestJournal(t)

	require.NoError(t, j.Set(journalVersion("a", "h1", 1)))
	v2 := journalVersion("a", "h2", 2)
	v2.ParentHash = "h1"
	require.NoError(t, j.Set(v2))

	got, err := j.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "h2", got.Hash)
	assert.Equal(t, int64(2), got.VersionNumber)
	assert.Equal(t, "h1", got.ParentHash)

	n, err := j.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestJournalTombstoneRows(t *testing.T) {
	j := newTestJournal(t)

	tomb := journalVersion("a", history.TombstoneHash("h1"), 2)
	tomb.ParentHash = "h1"
	tomb.Tombstone = true
	tomb.Size = 0
	require.NoError(t, j.Set(tomb))

	got, err := j.Get("a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Tombstone)
	assert.Zero(t, got.Size)
}

func TestJournalStateAndDelete(t *testing.T) {
	j := newTestJournal(t)

	require.NoError(t, j.Set(journalVersion("a", "h1", 1)))
	require.NoError(t, j.Set(journalVersion("b", "h2", 1)))

	state, err := j.State()
	require.NoError(t, err)
	assert.Len(t, state, 2)
	assert.Contains(t, state, "a")
	assert.Contains(t, state, "b")

	require.NoError(t, j.Delete("a"))
	state, err = j.State()
	require.NoError(t, err)
	assert.Len(t, state, 1)
	assert.NotContains(t, state, "a")
}

func TestJournalRemoteHeads(t *testing.T) {
	j := newTestJournal(t)

	head, err := j.RemoteHead("a")
	require.NoError(t, err)
	assert.Nil(t, head, "unseen path has no head")

	require.NoError(t, j.SetRemoteHead(journalVersion("a", "h1", 1)))
	require.NoError(t, j.SetRemoteHead(journalVersion("a", "h2", 2)))
	require.NoError(t, j.SetRemoteHead(journalVersion("b", "h9", 1)))

	head, err = j.RemoteHead("a")
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, "h2", head.Hash, "later feed entry replaces the head")

	tomb := journalVersion("b", history.TombstoneHash("h9"), 2)
	tomb.Tombstone = true
	require.NoError(t, j.SetRemoteHead(tomb))

	state, err := j.RemoteState()
	require.NoError(t, err)
	assert.Len(t, state, 2)
	assert.True(t, state["b"].Tombstone, "tombstone heads stay visible")

	// head tracking never touches the last-synced table
	synced, err := j.Get("a")
	require.NoError(t, err)
	assert.Nil(t, synced)
}

func TestJournalCursor(t *testing.T) {
	j := newTestJournal(t)

	cur, err := j.Cursor()
	require.NoError(t, err)
	assert.Zero(t, cur, "fresh journal starts at the beginning of the feed")

	require.NoError(t, j.SetCursor(42))
	cur, err = j.Cursor()
	require.NoError(t, err)
	assert.Equal(t, int64(42), cur)

	require.NoError(t, j.SetCursor(99))
	cur, err = j.Cursor()
	require.NoError(t, err)
	assert.Equal(t, int64(99), cur)
}

func TestJournalPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := NewJournal(path)
	require.NoError(t, err)
	require.NoError(t, j.Set(journalVersion("a", "h1", 1)))
	require.NoError(t, j.SetCursor(7))
	require.NoError(t, j.Close())

	j2, err := NewJournal(path)
	require.NoError(t, err)
	defer j2.Close()

	got, err := j2.Get("a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "h1", got.Hash)

	cur, err := j2.Cursor()
	require.NoError(t, err)
	assert.Equal(t, int64(7), cur)
}

func TestJournalOpenConflicts(t *testing.T) {
	j := newTestJournal(t)

	id, err := j.OpenConflict("app.yaml")
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, j.SetOpenConflict("app.yaml", "cf-1"))
	require.NoError(t, j.SetOpenConflict("db.toml", "cf-2"))

	id, err = j.OpenConflict("app.yaml")
	require.NoError(t, err)
	assert.Equal(t, "cf-1", id)

	// A fresh deferral for the same path replaces the old record id.
	require.NoError(t, j.SetOpenConflict("app.yaml", "cf-3"))
	id, err = j.OpenConflict("app.yaml")
	require.NoError(t, err)
	assert.Equal(t, "cf-3", id)

	open, err := j.OpenConflicts()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"app.yaml": "cf-3", "db.toml": "cf-2"}, open)

	require.NoError(t, j.ClearOpenConflict("app.yaml"))
	id, err = j.OpenConflict("app.yaml")
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, j.ClearOpenConflict("app.yaml"), "clearing twice is harmless")
}
