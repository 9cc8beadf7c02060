package sync

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/confsync/confsync/internal/db"
	"github.com/confsync/confsync/internal/history"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS journal (
	path           TEXT PRIMARY KEY,
	seq            INTEGER NOT NULL DEFAULT 0,
	hash           TEXT NOT NULL,
	size           INTEGER NOT NULL DEFAULT 0,
	version_number INTEGER NOT NULL,
	parent_hash    TEXT NOT NULL DEFAULT '',
	replica_id     TEXT NOT NULL DEFAULT '',
	tombstone      INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_hash ON journal (hash);

CREATE TABLE IF NOT EXISTS remote_heads (
	path           TEXT PRIMARY KEY,
	seq            INTEGER NOT NULL DEFAULT 0,
	hash           TEXT NOT NULL,
	size           INTEGER NOT NULL DEFAULT 0,
	version_number INTEGER NOT NULL,
	parent_hash    TEXT NOT NULL DEFAULT '',
	replica_id     TEXT NOT NULL DEFAULT '',
	tombstone      INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS open_conflicts (
	path        TEXT PRIMARY KEY,
	conflict_id TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS journal_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const cursorKey = "changes_cursor"

// Journal is the replica's durable record of the last version it synced
// per path, plus the relay head per path folded from the change feed and
// the feed cursor. Tombstones stay journaled so a deletion is never
// mistaken for a never-seen path.
type Journal struct {
	db *sqlx.DB
	mu sync.RWMutex
}

func NewJournal(path string) (*Journal, error) {
	sdb, err := db.NewSqliteDB(db.WithPath(path), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	if _, err := sdb.Exec(journalSchema); err != nil {
		sdb.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &Journal{db: sdb}, nil
}

func (j *Journal) Close() error {
	slog.Debug("journal closed")
	return j.db.Close()
}

// Get returns the last-synced version for a path, or nil when the path
// has never synced.
func (j *Journal) Get(path string) (*history.FileVersion, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var v history.FileVersion
	err := j.db.Get(&v, `SELECT seq, path, hash, size, version_number, parent_hash, replica_id, tombstone, created_at
		FROM journal WHERE path = ?`, path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal get %s: %w", path, err)
	}
	return &v, nil
}

// Set records a version as the last-synced state of its path.
func (j *Journal) Set(v *history.FileVersion) error {
	if v == nil {
		return fmt.Errorf("journal set: nil version")
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.NamedExec(`
		INSERT OR REPLACE INTO journal (path, seq, hash, size, version_number, parent_hash, replica_id, tombstone, created_at)
		VALUES (:path, :seq, :hash, :size, :version_number, :parent_hash, :replica_id, :tombstone, :created_at)`, v)
	if err != nil {
		return fmt.Errorf("journal set %s: %w", v.Path, err)
	}
	return nil
}

// Delete forgets a path entirely. Used only when both sides are gone and
// the tombstone chain has no further use.
func (j *Journal) Delete(path string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.db.Exec(`DELETE FROM journal WHERE path = ?`, path); err != nil {
		return fmt.Errorf("journal delete %s: %w", path, err)
	}
	return nil
}

// State loads the whole journal keyed by path.
func (j *Journal) State() (map[string]*history.FileVersion, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var rows []*history.FileVersion
	err := j.db.Select(&rows, `SELECT seq, path, hash, size, version_number, parent_hash, replica_id, tombstone, created_at FROM journal`)
	if err != nil {
		return nil, fmt.Errorf("journal state: %w", err)
	}

	state := make(map[string]*history.FileVersion, len(rows))
	for _, v := range rows {
		state[v.Path] = v
	}
	return state, nil
}

func (j *Journal) Count() (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var n int
	if err := j.db.Get(&n, `SELECT COUNT(*) FROM journal`); err != nil {
		return 0, fmt.Errorf("journal count: %w", err)
	}
	return n, nil
}

// SetRemoteHead records a version as the relay's latest for its path.
// The change feed arrives in seq order, so the last write per path wins.
func (j *Journal) SetRemoteHead(v *history.FileVersion) error {
	if v == nil {
		return fmt.Errorf("journal set remote head: nil version")
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.NamedExec(`
		INSERT OR REPLACE INTO remote_heads (path, seq, hash, size, version_number, parent_hash, replica_id, tombstone, created_at)
		VALUES (:path, :seq, :hash, :size, :version_number, :parent_hash, :replica_id, :tombstone, :created_at)`, v)
	if err != nil {
		return fmt.Errorf("journal set remote head %s: %w", v.Path, err)
	}
	return nil
}

// RemoteHead returns the relay's latest known version for a path, or nil
// when the feed never mentioned it.
func (j *Journal) RemoteHead(path string) (*history.FileVersion, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var v history.FileVersion
	err := j.db.Get(&v, `SELECT seq, path, hash, size, version_number, parent_hash, replica_id, tombstone, created_at
		FROM remote_heads WHERE path = ?`, path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal remote head %s: %w", path, err)
	}
	return &v, nil
}

// RemoteState loads every known relay head keyed by path, tombstones
// included.
func (j *Journal) RemoteState() (map[string]*history.FileVersion, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var rows []*history.FileVersion
	err := j.db.Select(&rows, `SELECT seq, path, hash, size, version_number, parent_hash, replica_id, tombstone, created_at FROM remote_heads`)
	if err != nil {
		return nil, fmt.Errorf("journal remote state: %w", err)
	}

	state := make(map[string]*history.FileVersion, len(rows))
	for _, v := range rows {
		state[v.Path] = v
	}
	return state, nil
}

// SetOpenConflict remembers the relay conflict record this replica left
// open for a path. Deferred conflicts survive restarts through this row.
func (j *Journal) SetOpenConflict(path, conflictID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(`INSERT OR REPLACE INTO open_conflicts (path, conflict_id) VALUES (?, ?)`,
		path, conflictID)
	if err != nil {
		return fmt.Errorf("journal set open conflict %s: %w", path, err)
	}
	return nil
}

// OpenConflict returns the conflict record id this replica holds open for
// a path, empty when none.
func (j *Journal) OpenConflict(path string) (string, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var id string
	err := j.db.Get(&id, `SELECT conflict_id FROM open_conflicts WHERE path = ?`, path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("journal open conflict %s: %w", path, err)
	}
	return id, nil
}

func (j *Journal) ClearOpenConflict(path string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.db.Exec(`DELETE FROM open_conflicts WHERE path = ?`, path); err != nil {
		return fmt.Errorf("journal clear open conflict %s: %w", path, err)
	}
	return nil
}

// OpenConflicts loads every open conflict keyed by path.
func (j *Journal) OpenConflicts() (map[string]string, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.db.Queryx(`SELECT path, conflict_id FROM open_conflicts`)
	if err != nil {
		return nil, fmt.Errorf("journal open conflicts: %w", err)
	}
	defer rows.Close()

	open := make(map[string]string)
	for rows.Next() {
		var path, id string
		if err := rows.Scan(&path, &id); err != nil {
			return nil, fmt.Errorf("journal open conflicts: %w", err)
		}
		open[path] = id
	}
	return open, rows.Err()
}

// Cursor returns the persisted relay change-feed position, zero when the
// replica has never pulled changes.
func (j *Journal) Cursor() (int64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var raw string
	err := j.db.Get(&raw, `SELECT value FROM journal_meta WHERE key = ?`, cursorKey)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("journal cursor: %w", err)
	}

	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("journal cursor %q: %w", raw, err)
	}
	return cursor, nil
}

func (j *Journal) SetCursor(cursor int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(`INSERT OR REPLACE INTO journal_meta (key, value) VALUES (?, ?)`,
		cursorKey, strconv.FormatInt(cursor, 10))
	if err != nil {
		return fmt.Errorf("journal set cursor: %w", err)
	}
	return nil
}
