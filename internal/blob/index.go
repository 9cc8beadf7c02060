package blob

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/confsync/confsync/internal/db"
)

const contentSchema = `
CREATE TABLE IF NOT EXISTS contents (
	hash          TEXT PRIMARY KEY,
	size          INTEGER NOT NULL DEFAULT 0,
	chunks        INTEGER NOT NULL DEFAULT 0,
	registered_at TIMESTAMP NOT NULL
);
`

// ContentInfo is one fully registered piece of content.
type ContentInfo struct {
	Hash         string    `json:"hash" db:"hash"`
	Size         int64     `json:"size" db:"size"`
	Chunks       int       `json:"chunks" db:"chunks"`
	RegisteredAt time.Time `json:"registeredAt" db:"registered_at"`
}

// IndexStats summarizes the registered content set.
type IndexStats struct {
	Contents   int64 `json:"contents" db:"contents"`
	TotalBytes int64 `json:"totalBytes" db:"total_bytes"`
}

// contentIndex records which content hashes have all chunks present
// and verified. Chunks without an index row are upload leftovers.
type contentIndex struct {
	db *sqlx.DB
}

func createIndex(cfg *IndexConfig) (*contentIndex, error) {
	var database *sqlx.DB
	var err error

	switch {
	case cfg != nil && cfg.DB != nil:
		database = cfg.DB
	case cfg != nil && cfg.DBPath != "":
		database, err = db.NewSqliteDB(db.WithPath(cfg.DBPath))
	default:
		database, err = db.NewSqliteDB(db.WithMaxOpenConns(1))
	}
	if err != nil {
		return nil, err
	}

	if _, err := database.Exec(contentSchema); err != nil {
		return nil, fmt.Errorf("create content schema: %w", err)
	}
	return &contentIndex{db: database}, nil
}

func (i *contentIndex) Get(hash string) (*ContentInfo, bool) {
	var info ContentInfo
	err := i.db.Get(&info, `SELECT * FROM contents WHERE hash = ?`, hash)
	if err != nil {
		return nil, false
	}
	return &info, true
}

func (i *contentIndex) Has(hash string) (bool, error) {
	var one int
	err := i.db.Get(&one, `SELECT 1 FROM contents WHERE hash = ?`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (i *contentIndex) Set(info *ContentInfo) error {
	_, err := i.db.NamedExec(`
		INSERT INTO contents (hash, size, chunks, registered_at)
		VALUES (:hash, :size, :chunks, :registered_at)
		ON CONFLICT (hash) DO UPDATE SET
			size = excluded.size,
			chunks = excluded.chunks,
			registered_at = excluded.registered_at`, info)
	return err
}

func (i *contentIndex) Remove(hash string) error {
	_, err := i.db.Exec(`DELETE FROM contents WHERE hash = ?`, hash)
	return err
}

func (i *contentIndex) List() ([]*ContentInfo, error) {
	var infos []*ContentInfo
	if err := i.db.Select(&infos, `SELECT * FROM contents ORDER BY hash`); err != nil {
		return nil, err
	}
	return infos, nil
}

func (i *contentIndex) Stats() (*IndexStats, error) {
	var stats IndexStats
	err := i.db.Get(&stats, `
		SELECT COUNT(*) AS contents, COALESCE(SUM(size), 0) AS total_bytes
		FROM contents`)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
