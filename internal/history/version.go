// Package history models a path's change history as an append-only chain of
// content-addressed versions and classifies how two replicas' heads relate.
package history

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"
)

// FileVersion is one immutable snapshot of a path. Versions form a chain
// through ParentHash, and VersionNumber strictly increases along the chain.
// Seq is assigned by the store and orders versions across all paths.
type FileVersion struct {
	Seq           int64     `json:"seq,omitempty" db:"seq"`
	Path          string    `json:"path" db:"path"`
	Hash          string    `json:"hash" db:"hash"`
	Size          int64     `json:"size" db:"size"`
	VersionNumber int64     `json:"version_number" db:"version_number"`
	ParentHash    string    `json:"parent_hash,omitempty" db:"parent_hash"`
	ReplicaID     string    `json:"replica_id" db:"replica_id"`
	Tombstone     bool      `json:"tombstone,omitempty" db:"tombstone"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

func (v *FileVersion) String() string {
	if v.Tombstone {
		return fmt.Sprintf("%s@%d (deleted)", v.Path, v.VersionNumber)
	}
	return fmt.Sprintf("%s@%d %s", v.Path, v.VersionNumber, ShortHash(v.Hash))
}

// HashBytes returns the hex sha256 digest of the content.
func HashBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// HashReader digests r to EOF and returns the hex sha256 and byte count.
func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashFile digests the file at path.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return HashReader(f)
}

// TombstoneHash derives a deletion marker's identity from the version it
// deletes, so a delete is distinguishable from any content snapshot.
func TombstoneHash(parentHash string) string {
	return HashBytes([]byte("tombstone:" + parentHash))
}

// ShortHash abbreviates a hex digest for logs.
func ShortHash(hash string) string {
	if len(hash) <= 8 {
		return hash
	}
	return hash[:8]
}
