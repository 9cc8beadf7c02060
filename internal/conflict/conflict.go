// Package conflict classifies divergent edits of one path and resolves them
// under a policy, by three-way merge where the content allows it.
package conflict

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Kind is the shape of a divergence.
type Kind string

const (
	KindEditEdit   Kind = "edit-edit"
	KindEditDelete Kind = "edit-delete"
	KindBinary     Kind = "binary"
)

// Policy selects how a conflict is settled.
type Policy string

const (
	PolicyKeepLocal  Policy = "keep-local"
	PolicyKeepRemote Policy = "keep-remote"
	PolicyKeepNewer  Policy = "keep-newer"
	PolicyAutoMerge  Policy = "auto-merge"
	PolicyManual     Policy = "manual"
)

// ParsePolicy validates a policy name from config.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(s)); p {
	case PolicyKeepLocal, PolicyKeepRemote, PolicyKeepNewer, PolicyAutoMerge, PolicyManual:
		return p, nil
	default:
		return "", fmt.Errorf("unknown conflict policy %q", s)
	}
}

// Outcome is the state a resolution left the conflict in.
type Outcome string

const (
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeAutoMerged Outcome = "auto-merged"
	OutcomeKeptLocal  Outcome = "kept-local"
	OutcomeKeptRemote Outcome = "kept-remote"
	OutcomeDeferred   Outcome = "deferred"

	// OutcomeSuperseded closes a record whose divergence ended without an
	// explicit resolution, such as a replica whose chain caught up.
	OutcomeSuperseded Outcome = "superseded"
)

// ParseOutcome validates a resolution outcome name. Unresolved is not a
// valid resolution, only a starting state.
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(strings.ToLower(s)); o {
	case OutcomeAutoMerged, OutcomeKeptLocal, OutcomeKeptRemote, OutcomeDeferred, OutcomeSuperseded:
		return o, nil
	default:
		return "", fmt.Errorf("unknown conflict outcome %q", s)
	}
}

// Conflict is a durable record of one detected divergence. It refers to
// versions by content hash only, never by reference, so records can be
// serialized and the version arena stays the single owner of version data.
type Conflict struct {
	ID         string    `json:"id" db:"id"`
	Path       string    `json:"path" db:"path"`
	BaseHash   string    `json:"base_hash" db:"base_hash"`
	LocalHash  string    `json:"local_hash" db:"local_hash"`
	RemoteHash string    `json:"remote_hash" db:"remote_hash"`
	ReplicaID  string    `json:"replica_id,omitempty" db:"replica_id"`
	Kind       Kind      `json:"kind" db:"kind"`
	Outcome    Outcome   `json:"outcome" db:"outcome"`
	Resolved   string    `json:"resolved_hash,omitempty" db:"resolved_hash"`
	Detail     string    `json:"detail,omitempty" db:"detail"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	ResolvedAt time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// New opens a conflict record for a path whose heads diverged.
func New(path, baseHash, localHash, remoteHash string, kind Kind) *Conflict {
	return &Conflict{
		ID:         uuid.NewString(),
		Path:       path,
		BaseHash:   baseHash,
		LocalHash:  localHash,
		RemoteHash: remoteHash,
		Kind:       kind,
		Outcome:    OutcomeUnresolved,
		CreatedAt:  time.Now().UTC(),
	}
}

// MarkResolved closes the record with the version hash the resolution
// produced.
func (c *Conflict) MarkResolved(outcome Outcome, resolvedHash string) {
	c.Outcome = outcome
	c.Resolved = resolvedHash
	c.ResolvedAt = time.Now().UTC()
}

// Open reports whether the conflict still needs attention.
func (c *Conflict) Open() bool {
	return c.Outcome == OutcomeUnresolved || c.Outcome == OutcomeDeferred
}

// binaryExtensions are formats never worth diffing line by line.
var binaryExtensions = map[string]bool{
	".exe": true, ".dll": true, ".so": true, ".dylib": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".pdf": true, ".zip": true, ".gz": true, ".wasm": true,
}

// maxMergeableSize caps the content the text and structured mergers take
// on. Bigger content resolves like binary: a policy picks a side and the
// loser is preserved as a backup.
const maxMergeableSize = 4 << 20

// Classify decides the conflict kind for a diverged path. Tombstones on
// either side make it edit-delete; content that is not valid text on either
// side, or too large to merge, makes it binary; everything else is a
// mergeable edit-edit.
func Classify(path string, localDeleted, remoteDeleted bool, localContent, remoteContent []byte) Kind {
	if localDeleted || remoteDeleted {
		return KindEditDelete
	}
	if IsBinaryPath(path) ||
		len(localContent) > maxMergeableSize || len(remoteContent) > maxMergeableSize ||
		isBinaryContent(localContent) || isBinaryContent(remoteContent) {
		return KindBinary
	}
	return KindEditEdit
}

// IsBinaryPath reports whether the extension marks the path as binary.
func IsBinaryPath(path string) bool {
	return binaryExtensions[strings.ToLower(filepath.Ext(path))]
}

func isBinaryContent(content []byte) bool {
	return bytes.IndexByte(content, 0) >= 0 || !utf8.Valid(content)
}

// BackupPath names the timestamped copy that preserves a losing version next
// to the original.
func BackupPath(path string, at time.Time) string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	return fmt.Sprintf("%s.backup-%s%s", stem, at.UTC().Format("20060102-150405"), ext)
}
