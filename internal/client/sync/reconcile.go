package sync

import (
	"github.com/confsync/confsync/internal/history"
)

// reconcile runs the three-way compare for every path any of the three
// states knows about. Deletion folds into the hash space as the empty
// hash: a tombstoned remote head and an absent local file both compare
// as "", so creates, edits, deletes and divergence all fall out of
// history.Compare without a case explosion.
func (e *Engine) reconcile(local map[string]*LocalFile, remote, journal map[string]*history.FileVersion) *Plan {
	plan := NewPlan()

	allPaths := make(map[string]struct{}, len(local)+len(remote)+len(journal))
	for path := range local {
		allPaths[path] = struct{}{}
	}
	for path := range remote {
		allPaths[path] = struct{}{}
	}
	for path := range journal {
		allPaths[path] = struct{}{}
	}

	for path := range allPaths {
		if e.ignore.ShouldIgnore(path) || !e.rules.Admits(path) || e.tracker.IsBlocked(path) {
			plan.Skipped = append(plan.Skipped, path)
			continue
		}

		lf := local[path]
		rv := remote[path]
		jv := journal[path]
		op := &Operation{Path: path, Local: lf, Remote: rv, Synced: jv}

		localHead := ""
		if lf != nil {
			localHead = lf.Hash
		}
		remoteHead := ""
		if rv != nil && !rv.Tombstone {
			remoteHead = rv.Hash
		}
		base := ""
		if jv != nil && !jv.Tombstone {
			base = jv.Hash
		}

		switch history.Compare(localHead, remoteHead, base) {
		case history.RelationUnchanged:
			switch {
			case remoteHead != "" && (jv == nil || jv.Hash != remoteHead):
				// both sides hold content the journal never recorded
				plan.Adopts[path] = op
			case remoteHead == "" && rv != nil && rv.Tombstone && (jv == nil || jv.Hash != rv.Hash):
				// relay tombstone the journal never recorded
				plan.Adopts[path] = op
			case rv == nil && jv != nil:
				// the relay has no record of a path we once synced
				plan.Cleanups = append(plan.Cleanups, path)
			default:
				plan.Unchanged = append(plan.Unchanged, path)
			}

		case history.RelationFastForwardRemote:
			// only the local side moved
			if localHead == "" {
				op.Op = OpPushDelete
				plan.PushDeletes[path] = op
			} else {
				op.Op = OpPush
				plan.Pushes[path] = op
			}

		case history.RelationFastForwardLocal:
			// only the remote side moved
			switch {
			case remoteHead != "":
				op.Op = OpPull
				plan.Pulls[path] = op
			case rv != nil:
				op.Op = OpPullDelete
				plan.PullDeletes[path] = op
			default:
				// relay lost a path we hold unchanged; reseed it
				op.Op = OpPush
				plan.Pushes[path] = op
			}

		case history.RelationDiverged:
			op.Op = OpResolve
			plan.Resolves[path] = op
		}
	}

	return plan
}
