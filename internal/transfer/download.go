package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/confsync/confsync/internal/history"
	"github.com/confsync/confsync/internal/utils"
)

const downloadPartSuffix = ".confsync-part"

// Download fetches the version's content into destPath. Chunks land in a
// part file next to the destination, which is renamed into place only after
// the reassembled bytes hash to the expected version, so the destination
// never holds partial content. A resumed download requests only the chunk
// indices it is missing.
func (m *Manager) Download(ctx context.Context, version *history.FileVersion, destPath string) (*Job, error) {
	if err := m.ensureSessionDir(); err != nil {
		return nil, fmt.Errorf("ensure session dir: %w", err)
	}

	job := newJob(DirectionDownload, version.Hash, destPath, version.Size, m.chunkSize)

	// Destination already holds the content; nothing to fetch.
	if actual, _, err := history.HashFile(destPath); err == nil && actual == version.Hash {
		job.setStatus(StatusDone)
		return job, nil
	}

	if err := m.begin(job); err != nil {
		return nil, err
	}
	defer m.end(job)

	sess, err := m.loadSession(job.Hash, job.Path, "", job.Size)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		job.adoptProgress(sess.Completed)
	}

	job.addAttempt()
	job.setStatus(StatusActive)

	err = m.runDownload(ctx, job, destPath)
	finish(job, err)
	m.noteIntegrity(job.Hash, err)
	if err != nil {
		return job, err
	}

	m.removeSession(job.Hash, job.Path)
	slog.Info("download complete",
		"path", destPath,
		"hash", history.ShortHash(job.Hash),
		"size", humanize.Bytes(uint64(job.Size)),
		"chunks", job.Chunks)
	return job, nil
}

func (m *Manager) runDownload(ctx context.Context, job *Job, destPath string) error {
	partPath := destPath + downloadPartSuffix
	if err := utils.EnsureParent(partPath); err != nil {
		return fmt.Errorf("ensure download dir: %w", err)
	}

	// Journaled progress only counts if the part file it refers to is
	// still there at the expected size.
	if info, err := os.Stat(partPath); err != nil || info.Size() != job.Size {
		job.resetProgress()
	}

	part, err := os.OpenFile(partPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open part file: %w", err)
	}
	if err := part.Truncate(job.Size); err != nil {
		part.Close()
		return fmt.Errorf("allocate part file: %w", err)
	}

	if missing := job.Missing(); len(missing) > 0 {
		if err := m.downloadChunks(ctx, job, part, missing); err != nil {
			part.Close()
			return err
		}
	}
	if err := part.Close(); err != nil {
		return fmt.Errorf("close part file: %w", err)
	}

	actual, _, err := history.HashFile(partPath)
	if err != nil {
		return fmt.Errorf("verify download: %w", err)
	}
	if actual != job.Hash {
		job.resetProgress()
		m.removeSession(job.Hash, job.Path)
		_ = os.Remove(partPath)
		return &IntegrityError{Hash: job.Hash, Actual: actual, Path: destPath}
	}

	if err := os.Rename(partPath, destPath); err != nil {
		return fmt.Errorf("finalize download: %w", err)
	}
	return nil
}

func (m *Manager) downloadChunks(ctx context.Context, job *Job, part *os.File, missing []int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.downWorkers)

	for _, index := range missing {
		g.Go(func() error {
			if err := m.downSem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer m.downSem.Release(1)

			offset, length := chunkSpan(index, job.Size, job.ChunkSize)
			data, err := m.transport.DownloadChunk(ctx, job.ref(index))
			if err != nil {
				return fmt.Errorf("download chunk %d: %w", index, err)
			}
			if int64(len(data)) != length {
				return fmt.Errorf("chunk %d: got %d bytes, want %d", index, len(data), length)
			}

			if _, err := part.WriteAt(data, offset); err != nil {
				return fmt.Errorf("write chunk %d: %w", index, err)
			}

			job.markCompleted(index)
			if err := m.saveSession(job, ""); err != nil {
				return err
			}

			slog.Debug("chunk downloaded",
				"ref", job.ref(index).String(),
				"have", humanize.Bytes(uint64(job.CompletedBytes())),
				"total", humanize.Bytes(uint64(job.Size)))
			return nil
		})
	}
	return g.Wait()
}
