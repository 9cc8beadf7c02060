package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/confsync/confsync/internal/conflict"
	"github.com/confsync/confsync/internal/history"
	"github.com/confsync/confsync/internal/relaysdk"
	"github.com/confsync/confsync/internal/utils"
)

// resolveFile settles a diverged path. The local state is pushed first:
// the relay answers with a conflict verdict naming the open record and
// the head we diverged from, and settleConflict takes it from there.
// Pushing first means every resolution, planned or stumbled into
// mid-push, runs through the same door.
func (e *Engine) resolveFile(ctx context.Context, op *Operation, sum *Summary) error {
	if op.Local != nil {
		return e.pushFile(ctx, op, sum)
	}
	return e.pushDelete(ctx, op, sum)
}

// settleConflict materializes both sides of a divergence, asks the
// resolver what to do under the operation's policy and applies the
// answer.
func (e *Engine) settleConflict(ctx context.Context, op *Operation, pushed *history.FileVersion, verdict *relaysdk.ReportResult) error {
	e.tracker.SetResolving(op.Path)

	current := verdict.Current
	if current == nil {
		return fmt.Errorf("conflict verdict for %s names no relay head", op.Path)
	}

	sides, err := e.materializeSides(ctx, op, pushed, current)
	if err != nil {
		return fmt.Errorf("materialize conflict sides: %w", err)
	}

	record := &conflict.Conflict{
		ID:         verdict.ConflictID,
		Path:       op.Path,
		BaseHash:   pushed.ParentHash,
		LocalHash:  pushed.Hash,
		RemoteHash: current.Hash,
		ReplicaID:  e.replicaID,
		Kind:       conflict.Classify(op.Path, sides.LocalDeleted, sides.RemoteDeleted, sides.Local, sides.Remote),
		Outcome:    conflict.OutcomeUnresolved,
	}

	res, err := e.resolver.Resolve(record, sides, op.Policy)
	if err != nil {
		return fmt.Errorf("resolve %s conflict: %w", record.Kind, err)
	}

	return e.applyResolution(ctx, op, record, sides, res, current)
}

// materializeSides gathers the contents a resolution works from. The
// local side reads from disk, the remote side downloads into scratch
// space, and the base comes from the journaled common ancestor when one
// exists. A base that cannot be fetched degrades the merge, not the
// resolution: both sides then look fully changed.
func (e *Engine) materializeSides(ctx context.Context, op *Operation, pushed, current *history.FileVersion) (conflict.Sides, error) {
	sides := conflict.Sides{
		LocalHash:  pushed.Hash,
		RemoteHash: current.Hash,
		RemoteTime: current.CreatedAt,
	}

	if op.Local != nil {
		data, err := os.ReadFile(e.ws.AbsPath(op.Path))
		if err != nil {
			return sides, fmt.Errorf("read local side: %w", err)
		}
		sides.Local = data
		sides.LocalTime = op.Local.ModTime
	} else {
		sides.LocalDeleted = true
		if op.Synced != nil {
			sides.LocalTime = op.Synced.CreatedAt
		}
	}

	if current.Tombstone {
		sides.RemoteDeleted = true
	} else {
		data, err := e.fetchContent(ctx, current)
		if err != nil {
			return sides, fmt.Errorf("fetch remote side: %w", err)
		}
		sides.Remote = data
	}

	if base := op.Synced; base != nil && !base.Tombstone && base.Hash == pushed.ParentHash {
		data, err := e.fetchContent(ctx, base)
		if err != nil {
			slog.Warn("conflict base unavailable, merging without it", "path", op.Path, "error", err)
		} else {
			sides.Base = data
		}
	}
	return sides, nil
}

// fetchContent downloads a version's bytes through the chunk store into
// scratch space. The scratch name is unique per call so concurrent
// fetches of the same content never share a partial file.
func (e *Engine) fetchContent(ctx context.Context, v *history.FileVersion) ([]byte, error) {
	scratch := filepath.Join(e.ws.ScratchDir, fmt.Sprintf("%s-%d", history.ShortHash(v.Hash), time.Now().UnixNano()))
	defer os.Remove(scratch)

	if _, err := e.transfers.Download(ctx, v, scratch); err != nil {
		return nil, err
	}
	return os.ReadFile(scratch)
}

// applyResolution lands a resolution: winners commit a child version,
// deferrals park the path, a dirty merge stages its markers locally for
// the user to finish.
func (e *Engine) applyResolution(ctx context.Context, op *Operation, record *conflict.Conflict, sides conflict.Sides, res *conflict.Resolution, current *history.FileVersion) error {
	switch res.Outcome {
	case conflict.OutcomeKeptLocal, conflict.OutcomeKeptRemote, conflict.OutcomeAutoMerged:
		return e.commitResolved(ctx, op, record, res, current)

	case conflict.OutcomeDeferred:
		return e.deferConflict(op.Path, record, res.Detail)

	case conflict.OutcomeUnresolved:
		backup, err := e.writeBackup(op.Path, sides.Local)
		if err != nil {
			return fmt.Errorf("back up local side: %w", err)
		}
		if err := e.writeLocal(op.Path, res.Content); err != nil {
			return fmt.Errorf("write merge markers: %w", err)
		}
		if err := e.deferConflict(op.Path, record, res.Detail); err != nil {
			return err
		}
		slog.Warn("merge left conflicts, path held for manual fix",
			"path", op.Path,
			"backup", backup,
			"detail", res.Detail)
		return nil

	default:
		return fmt.Errorf("unexpected resolution outcome %q", res.Outcome)
	}
}

// deferConflict parks a path until someone resolves it explicitly. The
// open record id is journaled so the block survives restarts.
func (e *Engine) deferConflict(path string, record *conflict.Conflict, detail string) error {
	if err := e.journal.SetOpenConflict(path, record.ID); err != nil {
		return err
	}
	e.tracker.SetConflicted(path)
	slog.Info("conflict deferred",
		"path", path,
		"kind", record.Kind,
		"conflict", record.ID,
		"detail", detail)
	return nil
}

// commitResolved writes the winning content locally, reports it as a
// child of the head the divergence was resolved against and closes the
// relay record. A conflict verdict on the commit itself means the head
// moved while we were resolving; the next pass resolves against the new
// head, under the same record id.
func (e *Engine) commitResolved(ctx context.Context, op *Operation, record *conflict.Conflict, res *conflict.Resolution, current *history.FileVersion) error {
	backup, err := e.writeBackup(op.Path, res.Backup)
	if err != nil {
		return fmt.Errorf("back up losing side: %w", err)
	}

	// when the relay head is already the deletion the resolution keeps,
	// adopting it beats chaining a second tombstone onto the first
	if res.Deleted && current.Tombstone {
		if err := e.removeLocal(op.Path); err != nil {
			return fmt.Errorf("remove local copy: %w", err)
		}
		if err := e.journal.Set(current); err != nil {
			return err
		}
		e.closeConflict(ctx, op.Path, record, res, current.Hash)
		slog.Info("conflict resolved",
			"path", op.Path,
			"kind", record.Kind,
			"outcome", res.Outcome,
			"version", current.VersionNumber,
			"backup", backup)
		return nil
	}

	var child *history.FileVersion
	if res.Deleted {
		child = e.childTombstone(op.Path, current)
		if err := e.removeLocal(op.Path); err != nil {
			return fmt.Errorf("remove local copy: %w", err)
		}
	} else {
		child = e.childVersion(op.Path, current, res.Content)
		if err := e.writeLocal(op.Path, res.Content); err != nil {
			return fmt.Errorf("write resolved content: %w", err)
		}
		if _, err := e.transfers.Upload(ctx, child, e.ws.AbsPath(op.Path)); err != nil {
			return fmt.Errorf("upload resolved content: %w", err)
		}
	}

	rep, err := e.report(ctx, child)
	if err != nil {
		return fmt.Errorf("report resolution: %w", err)
	}
	if rep.Status == relaysdk.ReportConflict {
		return fmt.Errorf("relay head moved during resolution of %s, retrying next pass", op.Path)
	}

	committed := rep.Version
	if committed == nil {
		committed = child
	}
	if err := e.journal.Set(committed); err != nil {
		return err
	}

	e.closeConflict(ctx, op.Path, record, res, child.Hash)

	slog.Info("conflict resolved",
		"path", op.Path,
		"kind", record.Kind,
		"outcome", res.Outcome,
		"version", committed.VersionNumber,
		"backup", backup)
	return nil
}

// childVersion chains resolved content onto the relay head that won
// nothing on its own: the resolution is a regular next version, visible
// to every replica through the ordinary feed.
func (e *Engine) childVersion(path string, parent *history.FileVersion, content []byte) *history.FileVersion {
	return &history.FileVersion{
		Path:          path,
		Hash:          history.HashBytes(content),
		Size:          int64(len(content)),
		VersionNumber: parent.VersionNumber + 1,
		ParentHash:    parent.Hash,
		ReplicaID:     e.replicaID,
		CreatedAt:     time.Now().UTC(),
	}
}

func (e *Engine) childTombstone(path string, parent *history.FileVersion) *history.FileVersion {
	return &history.FileVersion{
		Path:          path,
		Hash:          history.TombstoneHash(parent.Hash),
		VersionNumber: parent.VersionNumber + 1,
		ParentHash:    parent.Hash,
		ReplicaID:     e.replicaID,
		Tombstone:     true,
		CreatedAt:     time.Now().UTC(),
	}
}

// closeConflict records the precise outcome on the relay and drops the
// local bookkeeping. The relay already superseded the record when the
// commit report landed, so a failed call here costs only the outcome
// label.
func (e *Engine) closeConflict(ctx context.Context, path string, record *conflict.Conflict, res *conflict.Resolution, resolvedHash string) {
	_, err := e.sdk.Sync.ResolveConflict(ctx, record.ID, &relaysdk.ResolveConflictParams{
		Outcome:      res.Outcome,
		ResolvedHash: resolvedHash,
	})
	if err != nil {
		slog.Warn("conflict record close failed", "path", path, "conflict", record.ID, "error", err)
	}

	if err := e.journal.ClearOpenConflict(path); err != nil {
		slog.Warn("clear open conflict failed", "path", path, "error", err)
	}
	e.tracker.ClearConflicted(path)
}

// ResolvePath runs a targeted pass over one path with an explicit
// conflict policy, lifting a deferral first so the pass can reach it.
func (e *Engine) ResolvePath(ctx context.Context, relPath string, policy conflict.Policy) (*Summary, error) {
	if e.ignore.ShouldIgnore(relPath) {
		return nil, fmt.Errorf("%s is not synced", relPath)
	}

	e.tracker.ClearConflicted(relPath)

	if err := e.refreshRemoteState(ctx); err != nil {
		slog.Warn("resolve proceeding on stale relay state", "path", relPath, "error", err)
	}

	plan, err := e.planPath(relPath)
	if err != nil {
		return nil, err
	}
	if op, ok := plan.Resolves[relPath]; ok {
		op.Policy = policy
	}

	summary := e.execute(ctx, plan)
	if err := summary.Err(relPath); err != nil {
		return summary, err
	}

	// the divergence may have dissolved out of band, the user matching
	// the remote content by hand or reverting their edit; the pass then
	// plans no resolve, but the record still needs closing
	if len(plan.Resolves) == 0 {
		e.sweepSettledConflict(ctx, relPath)
	}
	return summary, nil
}

// sweepSettledConflict closes an open record for a path that no longer
// diverges. Content-wise nothing survived but the remote line, so that
// is the outcome it records.
func (e *Engine) sweepSettledConflict(ctx context.Context, relPath string) {
	stored, err := e.journal.OpenConflict(relPath)
	if err != nil || stored == "" {
		return
	}

	resolvedHash := ""
	if jv, err := e.journal.Get(relPath); err == nil && jv != nil {
		resolvedHash = jv.Hash
	}
	if _, err := e.sdk.Sync.ResolveConflict(ctx, stored, &relaysdk.ResolveConflictParams{
		Outcome:      conflict.OutcomeKeptRemote,
		ResolvedHash: resolvedHash,
	}); err != nil {
		slog.Warn("conflict record close failed", "path", relPath, "conflict", stored, "error", err)
	}
	if err := e.journal.ClearOpenConflict(relPath); err != nil {
		slog.Warn("clear open conflict failed", "path", relPath, "error", err)
	}
	e.tracker.ClearConflicted(relPath)
}

// DeferredConflicts lists paths parked behind open conflict records,
// keyed to the relay record id.
func (e *Engine) DeferredConflicts() (map[string]string, error) {
	return e.journal.OpenConflicts()
}

// writeLocal replaces a workspace file with resolved bytes. The write is
// atomic and marked as our own so the watcher does not chase it.
func (e *Engine) writeLocal(relPath string, content []byte) error {
	abs := e.ws.AbsPath(relPath)
	if err := utils.EnsureParent(abs); err != nil {
		return err
	}
	e.markSelfWrite(abs)
	if err := utils.WriteFileAtomic(abs, content, 0o644); err != nil {
		return err
	}
	e.scanner.Invalidate(relPath)
	return nil
}

func (e *Engine) removeLocal(relPath string) error {
	abs := e.ws.AbsPath(relPath)
	e.markSelfWrite(abs)
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return err
	}
	e.scanner.Invalidate(relPath)
	return nil
}

// writeBackup preserves losing bytes next to the original under a
// timestamped name. Backups are ignored by sync, so they never race
// back into the tree.
func (e *Engine) writeBackup(relPath string, content []byte) (string, error) {
	if len(content) == 0 {
		return "", nil
	}
	backupRel := conflict.BackupPath(relPath, time.Now())
	abs := e.ws.AbsPath(backupRel)
	if err := utils.EnsureParent(abs); err != nil {
		return "", err
	}
	if err := utils.WriteFileAtomic(abs, content, 0o644); err != nil {
		return "", err
	}
	return backupRel, nil
}
