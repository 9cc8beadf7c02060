package relaysdk

import (
	"github.com/confsync/confsync/internal/conflict"
	"github.com/confsync/confsync/internal/history"
)

// ReportStatus is the relay's verdict on one reported version.
type ReportStatus string

const (
	ReportAccepted  ReportStatus = "accepted"
	ReportDuplicate ReportStatus = "duplicate"
	ReportConflict  ReportStatus = "conflict"
)

type ReportParams struct {
	ReplicaID string                `json:"replica_id"`
	Versions  []history.FileVersion `json:"versions"`
}

// ReportResult is the per-version outcome of a sync report. Conflict
// results carry the relay head the report collided with and the id of
// the conflict record the relay opened.
type ReportResult struct {
	Path       string               `json:"path"`
	Status     ReportStatus         `json:"status"`
	Version    *history.FileVersion `json:"version,omitempty"`
	Current    *history.FileVersion `json:"current,omitempty"`
	ConflictID string               `json:"conflict_id,omitempty"`
}

type ReportResponse struct {
	Results []*ReportResult `json:"results"`
}

// ChangesParams pages through the relay's change feed. Since is the
// cursor from the previous page, zero for the beginning. Pattern
// optionally narrows the feed to matching paths.
type ChangesParams struct {
	Since   int64
	Pattern string
	Limit   int
}

type ChangesResponse struct {
	Versions  []*history.FileVersion `json:"versions"`
	NextSince int64                  `json:"next_since"`
}

type ConflictsResponse struct {
	Conflicts []*conflict.Conflict `json:"conflicts"`
}

type ResolveConflictParams struct {
	Outcome      conflict.Outcome `json:"outcome"`
	ResolvedHash string           `json:"resolved_hash,omitempty"`
}
