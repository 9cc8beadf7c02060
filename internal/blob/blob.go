// Package blob is the relay's chunk store. Content is addressed by the
// hash of the whole file and stored as fixed-size chunks; a SQLite
// index tracks which hashes are complete. Chunks that never complete
// are swept out by the garbage loop.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/confsync/confsync/internal/history"
)

const (
	// MaxChunkSize bounds a single uploaded chunk. Callers split
	// content into 4 MiB pieces, only the last one may be smaller.
	MaxChunkSize = 4 * 1024 * 1024

	// OrphanTTL is how long unregistered chunks survive before the
	// sweeper reclaims them. Generous so slow uploads can resume.
	SweepPeriod = 1 * time.Hour
	OrphanTTL   = 24 * time.Hour
)

var (
	ErrChunkMissing       = errors.New("chunk missing")
	ErrChunkTooLarge      = errors.New("chunk exceeds size limit")
	ErrChunkCountMismatch = errors.New("chunk count mismatch")
	ErrUnknownContent     = errors.New("content not registered")
)

// VerifyError reports that assembled chunks do not hash to the
// registered content hash.
type VerifyError struct {
	Hash   string
	Actual string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("content %.8s failed verification: assembled hash %.8s", e.Hash, e.Actual)
}

type Service struct {
	backend   Backend
	index     *contentIndex
	chunkSize int64
}

func NewService(cfg *Config, idxCfg *IndexConfig) (*Service, error) {
	index, err := createIndex(idxCfg)
	if err != nil {
		return nil, err
	}

	var backend Backend
	if cfg.S3 != nil {
		backend, err = NewS3Backend(cfg.S3)
	} else {
		backend, err = NewLocalBackend(cfg.Dir)
	}
	if err != nil {
		return nil, err
	}

	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = MaxChunkSize
	}

	return &Service{backend: backend, index: index, chunkSize: chunkSize}, nil
}

// Start runs the orphan sweeper until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	go func() {
		slog.Debug("blob sweeper started")
		ticker := time.NewTicker(SweepPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Debug("blob sweeper stopped")
				return
			case <-ticker.C:
				if n, err := s.Sweep(ctx, OrphanTTL); err != nil {
					slog.Error("blob sweep", "error", err)
				} else if n > 0 {
					slog.Info("blob sweep reclaimed chunks", "count", n)
				}
			}
		}
	}()
}

// PutChunk stores one chunk of the content identified by hash. Writing
// a chunk that is already present, or belongs to registered content,
// is a no-op so retried uploads stay cheap.
func (s *Service) PutChunk(ctx context.Context, hash string, index int, body io.Reader, size int64) error {
	if index < 0 {
		return fmt.Errorf("negative chunk index %d", index)
	}
	if size > s.chunkSize {
		return fmt.Errorf("%w: %s", ErrChunkTooLarge, humanize.IBytes(uint64(size)))
	}

	if registered, err := s.index.Has(hash); err != nil {
		return err
	} else if registered {
		slog.Debug("chunk for registered content skipped", "hash", hash, "index", index)
		return nil
	}

	key := chunkKey(hash, index)
	if exists, err := s.backend.Exists(ctx, key); err != nil {
		return err
	} else if exists {
		return nil
	}

	// the extra byte makes an oversized body fail the size check
	// rather than arrive clipped at exactly the limit
	return s.backend.Put(ctx, key, io.LimitReader(body, s.chunkSize+1), size)
}

// GetChunk streams one stored chunk. The caller closes the reader.
func (s *Service) GetChunk(ctx context.Context, hash string, index int) (io.ReadCloser, int64, error) {
	rc, size, err := s.backend.Get(ctx, chunkKey(hash, index))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %.8s[%d]", ErrChunkMissing, hash, index)
	}
	return rc, size, nil
}

func (s *Service) HasChunk(ctx context.Context, hash string, index int) (bool, error) {
	return s.backend.Exists(ctx, chunkKey(hash, index))
}

// HasContent reports whether every chunk of hash is present and the
// assembly was verified.
func (s *Service) HasContent(ctx context.Context, hash string) (bool, error) {
	return s.index.Has(hash)
}

func (s *Service) Content(hash string) (*ContentInfo, bool) {
	return s.index.Get(hash)
}

func (s *Service) Stats() (*IndexStats, error) {
	return s.index.Stats()
}

// Register marks content complete once all chunks are present and the
// assembled bytes hash back to the declared hash. Registering a hash
// twice is a no-op.
func (s *Service) Register(ctx context.Context, hash string, size int64, chunks int) error {
	if registered, err := s.index.Has(hash); err != nil {
		return err
	} else if registered {
		return nil
	}

	expected := s.chunkCount(size)
	if chunks != expected {
		return fmt.Errorf("%w: content %.8s declared %d chunks, size %s needs %d",
			ErrChunkCountMismatch, hash, chunks, humanize.IBytes(uint64(size)), expected)
	}

	for i := range chunks {
		exists, err := s.backend.Exists(ctx, chunkKey(hash, i))
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %.8s[%d/%d]", ErrChunkMissing, hash, i, chunks)
		}
	}

	actual, total, err := s.assembledHash(ctx, hash, chunks)
	if err != nil {
		return err
	}
	if actual != hash || total != size {
		return &VerifyError{Hash: hash, Actual: actual}
	}

	err = s.index.Set(&ContentInfo{
		Hash:         hash,
		Size:         size,
		Chunks:       chunks,
		RegisteredAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	slog.Info("content registered", "hash", hash, "size", humanize.IBytes(uint64(size)), "chunks", chunks)
	return nil
}

// DeleteContent drops the index row and every stored chunk.
func (s *Service) DeleteContent(ctx context.Context, hash string) error {
	info, ok := s.index.Get(hash)
	if !ok {
		return ErrUnknownContent
	}
	if err := s.index.Remove(hash); err != nil {
		return err
	}
	for i := range info.Chunks {
		if err := s.backend.Delete(ctx, chunkKey(hash, i)); err != nil {
			return err
		}
	}
	return nil
}

// Sweep deletes chunks of unregistered content whose newest write is
// older than ttl. Returns the number of chunks removed.
func (s *Service) Sweep(ctx context.Context, ttl time.Duration) (int, error) {
	objects, err := s.backend.ListPrefix(ctx, chunkPrefix)
	if err != nil {
		return 0, err
	}

	type group struct {
		keys   []string
		newest time.Time
	}
	groups := make(map[string]*group)
	for _, obj := range objects {
		hash, _, ok := chunkKeyParts(obj.Key)
		if !ok {
			continue
		}
		g := groups[hash]
		if g == nil {
			g = &group{}
			groups[hash] = g
		}
		g.keys = append(g.keys, obj.Key)
		if obj.ModTime.After(g.newest) {
			g.newest = obj.ModTime
		}
	}

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for hash, g := range groups {
		registered, err := s.index.Has(hash)
		if err != nil {
			return removed, err
		}
		if registered || g.newest.After(cutoff) {
			continue
		}
		for _, key := range g.keys {
			if err := s.backend.Delete(ctx, key); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

func (s *Service) chunkCount(size int64) int {
	if size <= 0 {
		return 0
	}
	return int((size + s.chunkSize - 1) / s.chunkSize)
}

func (s *Service) assembledHash(ctx context.Context, hash string, chunks int) (string, int64, error) {
	stream := &chunkStream{ctx: ctx, svc: s, hash: hash, chunks: chunks}
	defer stream.Close()
	return history.HashReader(stream)
}

// chunkStream reads the chunks of one content hash back to back,
// opening each lazily so only one chunk is held open at a time.
type chunkStream struct {
	ctx    context.Context
	svc    *Service
	hash   string
	chunks int
	next   int
	cur    io.ReadCloser
}

func (cs *chunkStream) Read(p []byte) (int, error) {
	for {
		if cs.cur == nil {
			if cs.next >= cs.chunks {
				return 0, io.EOF
			}
			rc, _, err := cs.svc.GetChunk(cs.ctx, cs.hash, cs.next)
			if err != nil {
				return 0, err
			}
			cs.cur = rc
			cs.next++
		}

		n, err := cs.cur.Read(p)
		if errors.Is(err, io.EOF) {
			cs.cur.Close()
			cs.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (cs *chunkStream) Close() error {
	if cs.cur != nil {
		err := cs.cur.Close()
		cs.cur = nil
		return err
	}
	return nil
}
