package history

// Relation classifies the local and remote heads of a path against their
// common ancestor. It is the sole gate deciding whether conflict resolution
// runs.
type Relation int

const (
	// RelationUnchanged means both heads carry the same content.
	RelationUnchanged Relation = iota

	// RelationFastForwardLocal means only the remote side moved; the local
	// replica can fast-forward by applying the remote head.
	RelationFastForwardLocal

	// RelationFastForwardRemote means only the local side moved; the remote
	// side can fast-forward by applying the local head.
	RelationFastForwardRemote

	// RelationDiverged means both sides moved past the ancestor with
	// different content.
	RelationDiverged
)

func (r Relation) String() string {
	switch r {
	case RelationUnchanged:
		return "unchanged"
	case RelationFastForwardLocal:
		return "fast_forward_local"
	case RelationFastForwardRemote:
		return "fast_forward_remote"
	case RelationDiverged:
		return "diverged"
	default:
		return "unknown"
	}
}

// Compare classifies localHead and remoteHead against base, all given as
// content hashes. An empty hash stands for "path absent on that side", which
// makes new-path cases fall out naturally: a path created on one side only is
// a fast-forward, created on both sides with different content is diverged.
func Compare(localHead, remoteHead, base string) Relation {
	switch {
	case localHead == remoteHead:
		return RelationUnchanged
	case localHead == base:
		return RelationFastForwardLocal
	case remoteHead == base:
		return RelationFastForwardRemote
	default:
		return RelationDiverged
	}
}
