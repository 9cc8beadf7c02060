package sync

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/confsync/confsync/internal/client/workspace"
	"github.com/confsync/confsync/internal/history"
)

// LocalFile is one scanned file in the tree: its tree-relative path, its
// content hash, and the stat fields the scan cache keys on.
type LocalFile struct {
	Path    string
	Hash    string
	Size    int64
	ModTime time.Time
}

// Scanner walks the workspace tree and hashes what it finds. Unchanged
// files are recognized by size and mtime and reuse the cached hash, so
// steady-state scans cost one stat per file instead of one read.
type Scanner struct {
	ws     *workspace.Workspace
	ignore *IgnoreList

	mu    sync.Mutex
	cache map[string]*LocalFile
}

func NewScanner(ws *workspace.Workspace, ignore *IgnoreList) *Scanner {
	return &Scanner{
		ws:     ws,
		ignore: ignore,
		cache:  make(map[string]*LocalFile),
	}
}

// Scan builds the current local state keyed by tree-relative path.
func (s *Scanner) Scan(ctx context.Context) (map[string]*LocalFile, error) {
	state := make(map[string]*LocalFile)

	walkFn := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// a file vanished mid-walk or a subdir is unreadable
			slog.Warn("scan skipping entry", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if d.IsDir() {
			if s.ws.IsMetadataPath(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		relPath, err := s.ws.RelPath(path)
		if err != nil {
			return err
		}
		if s.ignore.ShouldIgnore(relPath) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			slog.Warn("scan stat failed", "path", relPath, "error", err)
			return nil
		}

		file, err := s.lookup(relPath, path, info.Size(), info.ModTime())
		if err != nil {
			slog.Warn("scan hash failed", "path", relPath, "error", err)
			return nil
		}
		state[relPath] = file
		return nil
	}

	if err := filepath.WalkDir(s.ws.Root, walkFn); err != nil {
		return nil, err
	}

	s.prune(state)
	return state, nil
}

// Invalidate drops a path from the cache so the next scan rehashes it.
func (s *Scanner) Invalidate(relPath string) {
	s.mu.Lock()
	delete(s.cache, relPath)
	s.mu.Unlock()
}

// StatFile hashes a single file immediately, bypassing the walk. The
// watcher path uses it to react to one change without a full scan.
func (s *Scanner) StatFile(relPath string) (*LocalFile, error) {
	absPath := s.ws.AbsPath(relPath)
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", relPath)
	}
	return s.lookup(relPath, absPath, info.Size(), info.ModTime())
}

func (s *Scanner) lookup(relPath, absPath string, size int64, modTime time.Time) (*LocalFile, error) {
	s.mu.Lock()
	cached, ok := s.cache[relPath]
	s.mu.Unlock()

	if ok && cached.Size == size && cached.ModTime.Equal(modTime) {
		return cached, nil
	}

	hash, hashedSize, err := history.HashFile(absPath)
	if err != nil {
		return nil, err
	}

	file := &LocalFile{Path: relPath, Hash: hash, Size: hashedSize, ModTime: modTime}
	s.mu.Lock()
	s.cache[relPath] = file
	s.mu.Unlock()
	return file, nil
}

// prune drops cache entries for paths the walk no longer saw.
func (s *Scanner) prune(state map[string]*LocalFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path := range s.cache {
		if _, live := state[path]; !live {
			delete(s.cache, path)
		}
	}
}
