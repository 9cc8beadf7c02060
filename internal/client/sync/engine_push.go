package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/confsync/confsync/internal/history"
	"github.com/confsync/confsync/internal/relaysdk"
)

// nextVersion builds the version a push will report: the next link in
// the path's chain. A path re-created over a relay tombstone the journal
// never recorded chains through that tombstone.
func (e *Engine) nextVersion(op *Operation) *history.FileVersion {
	parent := op.Synced
	if parent == nil && op.Remote != nil && op.Remote.Tombstone {
		parent = op.Remote
	}

	v := &history.FileVersion{
		Path:          op.Path,
		Hash:          op.Local.Hash,
		Size:          op.Local.Size,
		VersionNumber: 1,
		ReplicaID:     e.replicaID,
		CreatedAt:     time.Now().UTC(),
	}
	if parent != nil {
		v.VersionNumber = parent.VersionNumber + 1
		v.ParentHash = parent.Hash
	}
	return v
}

// tombstoneVersion builds the deletion marker for a locally removed
// path. Reconcile only emits deletions for journaled paths, so the
// parent always exists.
func (e *Engine) tombstoneVersion(op *Operation) *history.FileVersion {
	parent := op.Synced
	return &history.FileVersion{
		Path:          op.Path,
		Hash:          history.TombstoneHash(parent.Hash),
		VersionNumber: parent.VersionNumber + 1,
		ParentHash:    parent.Hash,
		ReplicaID:     e.replicaID,
		Tombstone:     true,
		CreatedAt:     time.Now().UTC(),
	}
}

// report sends one version to the relay and returns its verdict.
func (e *Engine) report(ctx context.Context, v *history.FileVersion) (*relaysdk.ReportResult, error) {
	resp, err := e.sdk.Sync.Report(ctx, &relaysdk.ReportParams{
		ReplicaID: e.replicaID,
		Versions:  []history.FileVersion{*v},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Results) != 1 {
		return nil, fmt.Errorf("report returned %d results for one version", len(resp.Results))
	}
	return resp.Results[0], nil
}

// pushFile uploads the local head and reports it. A conflict verdict
// means the relay head moved since reconcile; resolution takes over.
func (e *Engine) pushFile(ctx context.Context, op *Operation, sum *Summary) error {
	v := e.nextVersion(op)

	e.tracker.SetTransferring(op.Path)
	if _, err := e.transfers.Upload(ctx, v, e.ws.AbsPath(op.Path)); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	res, err := e.report(ctx, v)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return e.settleReport(ctx, op, v, res, sum)
}

// pushDelete reports a tombstone for a locally deleted path. Nothing
// uploads; the marker is pure metadata.
func (e *Engine) pushDelete(ctx context.Context, op *Operation, sum *Summary) error {
	v := e.tombstoneVersion(op)

	res, err := e.report(ctx, v)
	if err != nil {
		return fmt.Errorf("report tombstone: %w", err)
	}
	return e.settleReport(ctx, op, v, res, sum)
}

// settleReport finishes a push according to the relay's verdict.
func (e *Engine) settleReport(ctx context.Context, op *Operation, v *history.FileVersion, res *relaysdk.ReportResult, sum *Summary) error {
	switch res.Status {
	case relaysdk.ReportAccepted, relaysdk.ReportDuplicate:
		committed := res.Version
		if committed == nil {
			committed = v
		}
		if err := e.journal.Set(committed); err != nil {
			return err
		}

		// a clean report ends any divergence this replica had open for
		// the path; the relay superseded the record on its side already
		if stored, serr := e.journal.OpenConflict(op.Path); serr == nil && stored != "" {
			if err := e.journal.ClearOpenConflict(op.Path); err != nil {
				slog.Warn("clear open conflict failed", "path", op.Path, "error", err)
			}
			e.tracker.ClearConflicted(op.Path)
		}

		slog.Info("sync",
			"op", op.Op,
			"path", op.Path,
			"version", committed.VersionNumber,
			"status", res.Status)
		return nil

	case relaysdk.ReportConflict:
		sum.RecordConflict(op.Path)
		return e.settleConflict(ctx, op, v, res)

	default:
		return fmt.Errorf("unexpected report status %q", res.Status)
	}
}
