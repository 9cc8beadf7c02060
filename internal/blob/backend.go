package blob

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

const chunkPrefix = "chunks/"

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Backend is the raw object store under the chunk service. Keys are
// slash-separated and opaque to the backend.
type Backend interface {
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Put(ctx context.Context, key string, body io.Reader, size int64) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	ListPrefix(ctx context.Context, prefix string) ([]*ObjectInfo, error)
}

func chunkKey(hash string, index int) string {
	return fmt.Sprintf("%s%s/%d", chunkPrefix, hash, index)
}

// chunkKeyParts splits a chunk key back into its content hash and
// index segment. Returns ok=false for keys outside the chunk prefix.
func chunkKeyParts(key string) (hash string, index string, ok bool) {
	rest, found := strings.CutPrefix(key, chunkPrefix)
	if !found {
		return "", "", false
	}
	hash, index, found = strings.Cut(rest, "/")
	if !found || hash == "" || index == "" {
		return "", "", false
	}
	return hash, index, true
}
