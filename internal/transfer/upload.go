package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/confsync/confsync/internal/history"
)

// Upload pushes the version's content from srcPath into the byte store.
// Content the store already holds short-circuits to a metadata-only
// registration with zero chunks sent. Progress survives restarts; a
// resumed upload sends only the missing chunk indices.
func (m *Manager) Upload(ctx context.Context, version *history.FileVersion, srcPath string) (*Job, error) {
	if err := m.ensureSessionDir(); err != nil {
		return nil, fmt.Errorf("ensure session dir: %w", err)
	}

	info, err := os.Stat(srcPath)
	if err != nil {
		return nil, fmt.Errorf("stat upload source: %w", err)
	}
	if info.Size() != version.Size {
		return nil, fmt.Errorf("upload source %s is %d bytes, version %s records %d",
			srcPath, info.Size(), version.String(), version.Size)
	}
	fingerprint := fmt.Sprintf("%d:%d", info.Size(), info.ModTime().UnixNano())

	job := newJob(DirectionUpload, version.Hash, srcPath, version.Size, m.chunkSize)
	if err := m.begin(job); err != nil {
		return nil, err
	}
	defer m.end(job)

	sess, err := m.loadSession(job.Hash, job.Path, fingerprint, job.Size)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		job.adoptProgress(sess.Completed)
	}

	job.addAttempt()
	job.setStatus(StatusActive)

	err = m.runUpload(ctx, job, srcPath, fingerprint)
	finish(job, err)
	m.noteIntegrity(job.Hash, err)
	if err != nil {
		return job, err
	}

	m.removeSession(job.Hash, job.Path)
	slog.Info("upload complete",
		"path", srcPath,
		"hash", history.ShortHash(job.Hash),
		"size", humanize.Bytes(uint64(job.Size)),
		"chunks", job.Chunks)
	return job, nil
}

func (m *Manager) runUpload(ctx context.Context, job *Job, srcPath, fingerprint string) error {
	exists, err := m.transport.HasContent(ctx, job.Hash)
	if err != nil {
		return fmt.Errorf("probe content: %w", err)
	}
	if exists {
		slog.Debug("content already stored, skipping chunks",
			"hash", history.ShortHash(job.Hash), "path", srcPath)
		return nil
	}

	missing := job.Missing()
	if len(missing) > 0 {
		if err := m.uploadChunks(ctx, job, srcPath, fingerprint, missing); err != nil {
			return err
		}
	}

	// The source may have been edited while chunks were in flight; the
	// store would then assemble bytes that no longer match the version.
	actual, _, err := history.HashFile(srcPath)
	if err != nil {
		return fmt.Errorf("verify upload source: %w", err)
	}
	if actual != job.Hash {
		job.resetProgress()
		m.removeSession(job.Hash, job.Path)
		return &IntegrityError{Hash: job.Hash, Actual: actual, Path: srcPath}
	}

	if err := m.transport.RegisterContent(ctx, job.Hash, job.Size, job.Chunks); err != nil {
		return fmt.Errorf("register content: %w", err)
	}
	return nil
}

func (m *Manager) uploadChunks(ctx context.Context, job *Job, srcPath, fingerprint string, missing []int) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open upload source: %w", err)
	}
	defer file.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.upWorkers)

	for _, index := range missing {
		g.Go(func() error {
			if err := m.upSem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer m.upSem.Release(1)

			offset, length := chunkSpan(index, job.Size, job.ChunkSize)
			data := make([]byte, length)
			if _, err := io.ReadFull(io.NewSectionReader(file, offset, length), data); err != nil {
				return fmt.Errorf("read chunk %d: %w", index, err)
			}

			if err := m.transport.UploadChunk(ctx, job.ref(index), data); err != nil {
				return fmt.Errorf("upload chunk %d: %w", index, err)
			}

			job.markCompleted(index)
			if err := m.saveSession(job, fingerprint); err != nil {
				return err
			}

			slog.Debug("chunk uploaded",
				"ref", job.ref(index).String(),
				"sent", humanize.Bytes(uint64(job.CompletedBytes())),
				"total", humanize.Bytes(uint64(job.Size)))
			return nil
		})
	}
	return g.Wait()
}
