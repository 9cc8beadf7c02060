package history

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const versionSchema = `
CREATE TABLE IF NOT EXISTS file_versions (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	path           TEXT NOT NULL,
	hash           TEXT NOT NULL,
	size           INTEGER NOT NULL DEFAULT 0,
	version_number INTEGER NOT NULL,
	parent_hash    TEXT NOT NULL DEFAULT '',
	replica_id     TEXT NOT NULL DEFAULT '',
	tombstone      INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMP NOT NULL,
	UNIQUE (path, version_number)
);
CREATE INDEX IF NOT EXISTS idx_file_versions_path_hash ON file_versions (path, hash);
`

// Store persists version chains in SQLite. The autoincrement seq doubles as
// a global change cursor for "everything since N" feeds.
type Store struct {
	db *sqlx.DB
}

// NewStore prepares the schema on the given database.
func NewStore(database *sqlx.DB) (*Store, error) {
	if _, err := database.Exec(versionSchema); err != nil {
		return nil, fmt.Errorf("create version schema: %w", err)
	}
	return &Store{db: database}, nil
}

// Append inserts one version and fills in its assigned seq. Re-appending a
// (path, version_number) pair already present is a no-op, which makes
// write-through from multiple starts idempotent.
func (s *Store) Append(v *FileVersion) error {
	res, err := s.db.NamedExec(`
		INSERT INTO file_versions (path, hash, size, version_number, parent_hash, replica_id, tombstone, created_at)
		VALUES (:path, :hash, :size, :version_number, :parent_hash, :replica_id, :tombstone, :created_at)
		ON CONFLICT (path, version_number) DO NOTHING`, v)
	if err != nil {
		return fmt.Errorf("append version: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		if seq, err := res.LastInsertId(); err == nil {
			v.Seq = seq
		}
	}
	return nil
}

// Head returns the newest version of path, or nil when the path is unknown.
func (s *Store) Head(path string) (*FileVersion, error) {
	var v FileVersion
	err := s.db.Get(&v, `
		SELECT * FROM file_versions
		WHERE path = ?
		ORDER BY version_number DESC
		LIMIT 1`, path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load head: %w", err)
	}
	return &v, nil
}

// Heads returns the newest version of every path, ordered by path.
func (s *Store) Heads() ([]*FileVersion, error) {
	var versions []*FileVersion
	err := s.db.Select(&versions, `
		SELECT v.* FROM file_versions v
		JOIN (
			SELECT path, MAX(version_number) AS n
			FROM file_versions GROUP BY path
		) heads ON v.path = heads.path AND v.version_number = heads.n
		ORDER BY v.path`)
	if err != nil {
		return nil, fmt.Errorf("load heads: %w", err)
	}
	return versions, nil
}

// Chain returns every version of path, oldest first.
func (s *Store) Chain(path string) ([]*FileVersion, error) {
	var versions []*FileVersion
	err := s.db.Select(&versions, `
		SELECT * FROM file_versions
		WHERE path = ?
		ORDER BY version_number ASC`, path)
	if err != nil {
		return nil, fmt.Errorf("load chain: %w", err)
	}
	return versions, nil
}

// ByHash returns the version of path carrying the given content hash.
func (s *Store) ByHash(path, hash string) (*FileVersion, error) {
	var v FileVersion
	err := s.db.Get(&v, `
		SELECT * FROM file_versions
		WHERE path = ? AND hash = ?
		ORDER BY version_number DESC
		LIMIT 1`, path, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load version by hash: %w", err)
	}
	return &v, nil
}

// ByNumber returns the version of path with the given version number, or nil
// when no such version exists.
func (s *Store) ByNumber(path string, number int64) (*FileVersion, error) {
	var v FileVersion
	err := s.db.Get(&v, `
		SELECT * FROM file_versions
		WHERE path = ? AND version_number = ?`, path, number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load version by number: %w", err)
	}
	return &v, nil
}

// SinceNumber returns the versions of path with version numbers strictly
// greater than after, oldest first.
func (s *Store) SinceNumber(path string, after int64) ([]*FileVersion, error) {
	var versions []*FileVersion
	err := s.db.Select(&versions, `
		SELECT * FROM file_versions
		WHERE path = ? AND version_number > ?
		ORDER BY version_number ASC`, path, after)
	if err != nil {
		return nil, fmt.Errorf("load versions of %s after %d: %w", path, after, err)
	}
	return versions, nil
}

// SinceSeq returns up to limit versions with seq strictly greater than after,
// in seq order. limit <= 0 means no limit.
func (s *Store) SinceSeq(after int64, limit int) ([]*FileVersion, error) {
	query := `
		SELECT * FROM file_versions
		WHERE seq > ?
		ORDER BY seq ASC`
	args := []any{after}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var versions []*FileVersion
	if err := s.db.Select(&versions, query, args...); err != nil {
		return nil, fmt.Errorf("load versions since seq %d: %w", after, err)
	}
	return versions, nil
}

// LastSeq returns the highest assigned seq, or 0 on an empty store.
func (s *Store) LastSeq() (int64, error) {
	var seq sql.NullInt64
	if err := s.db.Get(&seq, `SELECT MAX(seq) FROM file_versions`); err != nil {
		return 0, fmt.Errorf("load last seq: %w", err)
	}
	return seq.Int64, nil
}

// All returns every stored version in seq order.
func (s *Store) All() ([]*FileVersion, error) {
	return s.SinceSeq(0, 0)
}
