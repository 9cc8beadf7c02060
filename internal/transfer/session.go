package transfer

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"

	"github.com/confsync/confsync/internal/utils"
)

// session is the on-disk journal of one job's progress. It lives in the
// manager's session dir under a name derived from the content hash and the
// local path, so a restarted process finds it again without a database.
type session struct {
	ID          string       `json:"id"`
	Hash        string       `json:"hash"`
	Path        string       `json:"path"`
	Direction   Direction    `json:"direction"`
	Fingerprint string       `json:"fingerprint,omitempty"`
	Size        int64        `json:"size"`
	ChunkSize   int64        `json:"chunkSize"`
	Chunks      int          `json:"chunks"`
	Completed   map[int]bool `json:"completed"`
}

func sessionKey(hash, path string) string {
	sum := sha1.Sum([]byte(hash + "|" + path))
	return hex.EncodeToString(sum[:])
}

func (m *Manager) sessionPath(hash, path string) string {
	return filepath.Join(m.sessionDir, sessionKey(hash, path)+".json")
}

// loadSession returns the persisted session for hash+path, or nil when none
// exists or the persisted one no longer describes the same transfer.
func (m *Manager) loadSession(hash, path, fingerprint string, size int64) (*session, error) {
	data, err := os.ReadFile(m.sessionPath(hash, path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read transfer session: %w", err)
	}

	var s session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode transfer session: %w", err)
	}

	// A stale session (source changed underneath, different chunking) is
	// worthless; start over.
	if s.Hash != hash || s.Path != path || s.Size != size ||
		s.ChunkSize != m.chunkSize || s.Fingerprint != fingerprint {
		_ = os.Remove(m.sessionPath(hash, path))
		return nil, nil
	}

	if s.Completed == nil {
		s.Completed = make(map[int]bool)
	}
	return &s, nil
}

func (m *Manager) saveSession(job *Job, fingerprint string) error {
	s := session{
		ID:          job.ID,
		Hash:        job.Hash,
		Path:        job.Path,
		Direction:   job.Direction,
		Fingerprint: fingerprint,
		Size:        job.Size,
		ChunkSize:   job.ChunkSize,
		Chunks:      job.Chunks,
		Completed:   job.completedSet(),
	}
	data, err := json.Marshal(&s)
	if err != nil {
		return fmt.Errorf("encode transfer session: %w", err)
	}
	return utils.WriteFileAtomic(m.sessionPath(job.Hash, job.Path), data, 0o644)
}

func (m *Manager) removeSession(hash, path string) {
	_ = os.Remove(m.sessionPath(hash, path))
}
