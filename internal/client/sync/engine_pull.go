package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
)

// pullFile downloads the relay head over the local path. The watcher is
// told first so the write does not bounce back as a local change.
func (e *Engine) pullFile(ctx context.Context, op *Operation, _ *Summary) error {
	rv := op.Remote
	absPath := e.ws.AbsPath(op.Path)

	e.tracker.SetTransferring(op.Path)
	e.markSelfWrite(absPath)
	if _, err := e.transfers.Download(ctx, rv, absPath); err != nil {
		return fmt.Errorf("download: %w", err)
	}

	e.scanner.Invalidate(op.Path)
	if err := e.journal.Set(rv); err != nil {
		return err
	}

	slog.Info("sync",
		"op", op.Op,
		"path", op.Path,
		"version", rv.VersionNumber,
		"size", humanize.Bytes(uint64(rv.Size)))
	return nil
}

// pullDelete applies a relay tombstone by removing the local file. The
// tombstone is journaled so the deletion survives restarts and future
// re-creates chain through it.
func (e *Engine) pullDelete(_ context.Context, op *Operation, _ *Summary) error {
	absPath := e.ws.AbsPath(op.Path)

	e.markSelfWrite(absPath)
	if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove: %w", err)
	}

	e.scanner.Invalidate(op.Path)
	if err := e.journal.Set(op.Remote); err != nil {
		return err
	}

	slog.Info("sync", "op", op.Op, "path", op.Path, "version", op.Remote.VersionNumber)
	return nil
}
