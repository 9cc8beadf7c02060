package controlplane

import (
	"time"

	"github.com/gin-gonic/gin"
)

const (
	ErrCodeBadRequest  = "ERR_BAD_REQUEST"
	ErrCodeNotReady    = "ERR_DAEMON_NOT_READY"
	ErrCodePassRunning = "ERR_PASS_RUNNING"
	ErrCodeSyncFailed  = "ERR_SYNC_FAILED"
	ErrCodeResolve     = "ERR_RESOLVE_FAILED"
)

type CPError struct {
	ErrorCode string `json:"code"`
	Error     string `json:"error"`
}

func AbortWithError(c *gin.Context, status int, code string, err error) {
	c.Abort()
	c.Error(err)
	c.PureJSON(status, CPError{
		ErrorCode: code,
		Error:     err.Error(),
	})
}

type DaemonStatus struct {
	Status       string      `json:"status"`
	Timestamp    time.Time   `json:"timestamp"`
	Version      string      `json:"version"`
	Revision     string      `json:"revision"`
	BuildDate    string      `json:"build_date"`
	Email        string      `json:"email"`
	ServerURL    string      `json:"server_url"`
	ReplicaID    string      `json:"replica_id"`
	DataDir      string      `json:"data_dir"`
	Connectivity string      `json:"connectivity"`
	QueuedPaths  int         `json:"queued_paths"`
	Sync         SyncSummary `json:"sync"`
}

// SyncSummary counts tracked paths by where they sit. Settled paths are
// untracked, so a converged tree reports all zeroes.
type SyncSummary struct {
	Comparing    int `json:"comparing"`
	Transferring int `json:"transferring"`
	Resolving    int `json:"resolving"`
	Conflicted   int `json:"conflicted"`
	Errored      int `json:"errored"`
}

type PathStatusInfo struct {
	Path       string    `json:"path"`
	State      string    `json:"state"`
	Conflicted bool      `json:"conflicted,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorCount int       `json:"error_count,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type SyncStatusResponse struct {
	Files   []PathStatusInfo `json:"files"`
	Summary SyncSummary      `json:"summary"`
}

type PassResponse struct {
	Processed  int               `json:"processed"`
	Succeeded  int               `json:"succeeded"`
	Failed     int               `json:"failed"`
	Conflicted int               `json:"conflicted"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// ConflictInfo is one path held back for manual resolution, enriched
// with the relay's record when it is reachable.
type ConflictInfo struct {
	Path       string    `json:"path"`
	ConflictID string    `json:"conflict_id"`
	Kind       string    `json:"kind,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	ReportedAt time.Time `json:"reported_at,omitempty"`
}

type ConflictsResponse struct {
	Conflicts []ConflictInfo `json:"conflicts"`
}

type ResolveRequest struct {
	Path   string `json:"path" binding:"required"`
	Policy string `json:"policy"`
}

type ResolveResponse struct {
	Path     string       `json:"path"`
	Resolved bool         `json:"resolved"`
	Pass     PassResponse `json:"pass"`
}

type TransferInfo struct {
	ID             string    `json:"id"`
	Path           string    `json:"path"`
	Hash           string    `json:"hash"`
	Direction      string    `json:"direction"`
	Status         string    `json:"status"`
	Size           int64     `json:"size"`
	Chunks         int       `json:"chunks"`
	Completed      int       `json:"completed"`
	CompletedBytes int64     `json:"completed_bytes"`
	StartedAt      time.Time `json:"started_at"`
}

type TransfersResponse struct {
	Transfers []TransferInfo `json:"transfers"`
}
