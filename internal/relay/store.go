package relay

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/jmoiron/sqlx"

	"github.com/confsync/confsync/internal/conflict"
	"github.com/confsync/confsync/internal/history"
)

const syncSchema = `
CREATE TABLE IF NOT EXISTS conflicts (
	id            TEXT PRIMARY KEY,
	path          TEXT NOT NULL,
	base_hash     TEXT NOT NULL DEFAULT '',
	local_hash    TEXT NOT NULL DEFAULT '',
	remote_hash   TEXT NOT NULL DEFAULT '',
	replica_id    TEXT NOT NULL DEFAULT '',
	kind          TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	resolved_hash TEXT NOT NULL DEFAULT '',
	detail        TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMP NOT NULL,
	resolved_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conflicts_path ON conflicts (path);

CREATE TABLE IF NOT EXISTS replicas (
	replica_id     TEXT PRIMARY KEY,
	user           TEXT NOT NULL,
	hostname       TEXT NOT NULL DEFAULT '',
	platform       TEXT NOT NULL DEFAULT '',
	client_version TEXT NOT NULL DEFAULT '',
	last_seen      TIMESTAMP NOT NULL
);
`

var ErrConflictNotFound = errors.New("conflict not found")

// ReportStatus is the relay's verdict on one reported version.
type ReportStatus string

const (
	ReportAccepted  ReportStatus = "accepted"
	ReportDuplicate ReportStatus = "duplicate"
	ReportConflict  ReportStatus = "conflict"
)

// ReportResult is the per-version outcome of a sync report. Accepted results
// carry the stored version with its assigned seq. Conflict results carry the
// relay head the report collided with and the opened conflict record id.
type ReportResult struct {
	Path       string               `json:"path"`
	Status     ReportStatus         `json:"status"`
	Version    *history.FileVersion `json:"version,omitempty"`
	Current    *history.FileVersion `json:"current,omitempty"`
	ConflictID string               `json:"conflict_id,omitempty"`
}

// ReplicaInfo is a known replica and when it last checked in.
type ReplicaInfo struct {
	ReplicaID     string    `json:"replica_id" db:"replica_id"`
	User          string    `json:"user" db:"user"`
	Hostname      string    `json:"hostname,omitempty" db:"hostname"`
	Platform      string    `json:"platform,omitempty" db:"platform"`
	ClientVersion string    `json:"client_version,omitempty" db:"client_version"`
	LastSeen      time.Time `json:"last_seen" db:"last_seen"`
}

// SyncStore is the relay's metadata store. It layers conflict records and
// replica bookkeeping over the shared version-chain store.
type SyncStore struct {
	db       *sqlx.DB
	versions *history.Store

	// serializes report decisions so two racing replicas cannot both
	// claim the same (path, version_number) slot
	mu sync.Mutex
}

func NewSyncStore(database *sqlx.DB) (*SyncStore, error) {
	versions, err := history.NewStore(database)
	if err != nil {
		return nil, err
	}
	if _, err := database.Exec(syncSchema); err != nil {
		return nil, fmt.Errorf("create sync schema: %w", err)
	}
	return &SyncStore{db: database, versions: versions}, nil
}

// Versions exposes the underlying version-chain store.
func (s *SyncStore) Versions() *history.Store {
	return s.versions
}

// Report decides the fate of one version reported by a replica. A version
// whose (path, number) slot is free and whose parent matches the current head
// is appended. Re-reports of stored content are duplicates. Anything else is
// a divergence and opens a conflict record. A replica holds at most one open
// record per path; re-reports refresh that record in place, so the conflict
// id a replica saw stays valid however the divergence evolves.
func (s *SyncStore) Report(v *history.FileVersion) (*ReportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := s.versions.Head(v.Path)
	if err != nil {
		return nil, err
	}

	if head != nil {
		if v.Hash == head.Hash && v.Tombstone == head.Tombstone {
			if err := s.supersedeConflicts(v.Path, v.ReplicaID, v.Hash); err != nil {
				return nil, err
			}
			return &ReportResult{Path: v.Path, Status: ReportDuplicate, Version: head}, nil
		}

		occupied, err := s.versions.ByNumber(v.Path, v.VersionNumber)
		if err != nil {
			return nil, err
		}
		if occupied != nil && occupied.Hash == v.Hash {
			if err := s.supersedeConflicts(v.Path, v.ReplicaID, v.Hash); err != nil {
				return nil, err
			}
			return &ReportResult{Path: v.Path, Status: ReportDuplicate, Version: occupied}, nil
		}

		relation := history.Compare(v.Hash, head.Hash, v.ParentHash)
		if occupied != nil || relation == history.RelationDiverged {
			record, err := s.openConflict(v, head)
			if err != nil {
				return nil, err
			}
			return &ReportResult{
				Path:       v.Path,
				Status:     ReportConflict,
				Current:    head,
				ConflictID: record.ID,
			}, nil
		}
	}

	if err := s.versions.Append(v); err != nil {
		return nil, err
	}
	if err := s.supersedeConflicts(v.Path, v.ReplicaID, v.Hash); err != nil {
		return nil, err
	}
	return &ReportResult{Path: v.Path, Status: ReportAccepted, Version: v}, nil
}

// supersedeConflicts closes a replica's open records for a path once one
// of its reports lands cleanly. A divergence that caught up with the
// chain is over, whether or not the replica ever says so explicitly.
func (s *SyncStore) supersedeConflicts(path, replicaID, resolvedHash string) error {
	_, err := s.db.Exec(`
		UPDATE conflicts
		SET outcome = ?, resolved_hash = ?, resolved_at = ?
		WHERE path = ? AND replica_id = ? AND outcome IN (?, ?)`,
		conflict.OutcomeSuperseded, resolvedHash, time.Now().UTC(),
		path, replicaID, conflict.OutcomeUnresolved, conflict.OutcomeDeferred)
	if err != nil {
		return fmt.Errorf("supersede conflicts: %w", err)
	}
	return nil
}

// openConflict records the divergence between a reported version and the
// relay head. When the replica already holds an open record for the path,
// the record's hashes are refreshed in place instead of opening a second
// one, keeping the id stable while the replica retries or its local side
// keeps moving.
func (s *SyncStore) openConflict(v, head *history.FileVersion) (*conflict.Conflict, error) {
	kind := conflict.KindEditEdit
	switch {
	case v.Tombstone || head.Tombstone:
		kind = conflict.KindEditDelete
	case conflict.IsBinaryPath(v.Path):
		kind = conflict.KindBinary
	}
	detail := fmt.Sprintf("version %d from %s collided with relay head %d", v.VersionNumber, v.ReplicaID, head.VersionNumber)

	record, err := s.openConflictFor(v.Path, v.ReplicaID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = conflict.New(v.Path, v.ParentHash, v.Hash, head.Hash, kind)
		record.ReplicaID = v.ReplicaID
	} else if record.LocalHash == v.Hash && record.RemoteHash == head.Hash {
		return record, nil
	}

	record.BaseHash = v.ParentHash
	record.LocalHash = v.Hash
	record.RemoteHash = head.Hash
	record.Kind = kind
	record.Detail = detail
	if err := s.SaveConflict(record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *SyncStore) openConflictFor(path, replicaID string) (*conflict.Conflict, error) {
	var c conflict.Conflict
	err := s.db.Get(&c, `
		SELECT * FROM conflicts
		WHERE path = ? AND replica_id = ?
			AND outcome IN (?, ?)
		ORDER BY created_at DESC
		LIMIT 1`,
		path, replicaID, conflict.OutcomeUnresolved, conflict.OutcomeDeferred)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load open conflict: %w", err)
	}
	return &c, nil
}

// SaveConflict upserts a conflict record by id.
func (s *SyncStore) SaveConflict(c *conflict.Conflict) error {
	_, err := s.db.NamedExec(`
		INSERT INTO conflicts (id, path, base_hash, local_hash, remote_hash, replica_id, kind, outcome, resolved_hash, detail, created_at, resolved_at)
		VALUES (:id, :path, :base_hash, :local_hash, :remote_hash, :replica_id, :kind, :outcome, :resolved_hash, :detail, :created_at, :resolved_at)
		ON CONFLICT (id) DO UPDATE SET
			base_hash = excluded.base_hash,
			local_hash = excluded.local_hash,
			remote_hash = excluded.remote_hash,
			kind = excluded.kind,
			outcome = excluded.outcome,
			resolved_hash = excluded.resolved_hash,
			detail = excluded.detail,
			resolved_at = excluded.resolved_at`, c)
	if err != nil {
		return fmt.Errorf("save conflict: %w", err)
	}
	return nil
}

// ConflictByID returns the record, or nil when the id is unknown.
func (s *SyncStore) ConflictByID(id string) (*conflict.Conflict, error) {
	var c conflict.Conflict
	err := s.db.Get(&c, `SELECT * FROM conflicts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conflict: %w", err)
	}
	return &c, nil
}

// OpenConflicts returns every unresolved or deferred record, oldest first.
func (s *SyncStore) OpenConflicts() ([]*conflict.Conflict, error) {
	var records []*conflict.Conflict
	err := s.db.Select(&records, `
		SELECT * FROM conflicts
		WHERE outcome IN (?, ?)
		ORDER BY created_at ASC`,
		conflict.OutcomeUnresolved, conflict.OutcomeDeferred)
	if err != nil {
		return nil, fmt.Errorf("load open conflicts: %w", err)
	}
	return records, nil
}

// ResolveConflict closes a record with the given outcome and resolution hash.
func (s *SyncStore) ResolveConflict(id string, outcome conflict.Outcome, resolvedHash string) (*conflict.Conflict, error) {
	record, err := s.ConflictByID(id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrConflictNotFound
	}

	record.MarkResolved(outcome, resolvedHash)
	if err := s.SaveConflict(record); err != nil {
		return nil, err
	}
	return record, nil
}

// Changes returns versions with seq greater than after whose path matches the
// doublestar pattern, plus the cursor for the next call. The cursor advances
// over non-matching rows so pagination never stalls on a narrow pattern.
func (s *SyncStore) Changes(after int64, pattern string, limit int) ([]*history.FileVersion, int64, error) {
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return nil, 0, fmt.Errorf("invalid path pattern %q", pattern)
	}

	batch, err := s.versions.SinceSeq(after, limit)
	if err != nil {
		return nil, 0, err
	}

	next := after
	matched := make([]*history.FileVersion, 0, len(batch))
	for _, v := range batch {
		next = v.Seq
		if pattern == "" {
			matched = append(matched, v)
			continue
		}
		if ok, _ := doublestar.Match(pattern, v.Path); ok {
			matched = append(matched, v)
		}
	}
	return matched, next, nil
}

// UpsertReplica records a replica checking in.
func (s *SyncStore) UpsertReplica(info *ReplicaInfo) error {
	_, err := s.db.NamedExec(`
		INSERT INTO replicas (replica_id, user, hostname, platform, client_version, last_seen)
		VALUES (:replica_id, :user, :hostname, :platform, :client_version, :last_seen)
		ON CONFLICT (replica_id) DO UPDATE SET
			user = excluded.user,
			hostname = excluded.hostname,
			platform = excluded.platform,
			client_version = excluded.client_version,
			last_seen = excluded.last_seen`, info)
	if err != nil {
		return fmt.Errorf("upsert replica: %w", err)
	}
	return nil
}

// Replicas returns every known replica ordered by id.
func (s *SyncStore) Replicas() ([]*ReplicaInfo, error) {
	var replicas []*ReplicaInfo
	if err := s.db.Select(&replicas, `SELECT * FROM replicas ORDER BY replica_id ASC`); err != nil {
		return nil, fmt.Errorf("load replicas: %w", err)
	}
	return replicas, nil
}
