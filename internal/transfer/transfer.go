// Package transfer moves version content between the local tree and the
// relay's byte store in fixed-size chunks. Jobs survive restarts: progress
// is journaled after every chunk, so a resumed job requests only the
// indices it is missing, and a transfer whose reassembled bytes do not
// hash to the expected version is thrown away whole.
package transfer

import (
	"context"
	"errors"
	"fmt"
)

const (
	// DefaultChunkSize is the fixed chunk size content is split into.
	DefaultChunkSize = int64(4 * 1024 * 1024)

	// DefaultUploadWorkers bounds chunk uploads in flight across all jobs.
	DefaultUploadWorkers = 4

	// DefaultDownloadWorkers bounds chunk downloads in flight across all jobs.
	DefaultDownloadWorkers = 8
)

// Direction tells which way content moves.
type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

// Status is the lifecycle state of a transfer job.
type Status string

const (
	StatusQueued        Status = "queued"
	StatusActive        Status = "active"
	StatusPausedOffline Status = "paused-offline"
	StatusFailed        Status = "failed"
	StatusDone          Status = "done"
)

// ChunkRef addresses one chunk of one version's content.
type ChunkRef struct {
	Hash  string `json:"hash"`
	Index int    `json:"index"`
	Count int    `json:"count"`
}

func (r ChunkRef) String() string {
	return fmt.Sprintf("%.8s[%d/%d]", r.Hash, r.Index, r.Count)
}

// Transport is the remote half of a transfer: chunk-granular access to the
// relay's content-addressed byte store.
type Transport interface {
	// HasContent reports whether the store already holds the full content.
	HasContent(ctx context.Context, hash string) (bool, error)

	// UploadChunk stores one chunk. Re-sending a stored chunk is a no-op.
	UploadChunk(ctx context.Context, ref ChunkRef, data []byte) error

	// DownloadChunk fetches one chunk.
	DownloadChunk(ctx context.Context, ref ChunkRef) ([]byte, error)

	// RegisterContent finalizes an upload once every chunk is stored. The
	// store verifies the reassembled content against hash.
	RegisterContent(ctx context.Context, hash string, size int64, chunks int) error
}

// ErrTransferActive means a job for the same content and path is already
// running; the caller should wait for it rather than race it.
var ErrTransferActive = errors.New("transfer already active for this path")

// IntegrityError means reassembled content did not hash to the expected
// version. The job's progress has been discarded; a fresh attempt starts
// from zero.
type IntegrityError struct {
	Hash   string
	Actual string
	Path   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("content of %s hashed to %.8s, want %.8s", e.Path, e.Actual, e.Hash)
}

func chunkCount(size, chunkSize int64) int {
	if size <= 0 {
		return 0
	}
	count := size / chunkSize
	if size%chunkSize != 0 {
		count++
	}
	return int(count)
}

// chunkSpan returns the byte offset and length of chunk index.
func chunkSpan(index int, size, chunkSize int64) (offset, length int64) {
	offset = int64(index) * chunkSize
	if offset >= size {
		return offset, 0
	}
	if remaining := size - offset; remaining < chunkSize {
		return offset, remaining
	}
	return offset, chunkSize
}
