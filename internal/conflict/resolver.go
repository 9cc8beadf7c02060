package conflict

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Sides carries the material a resolution works from. Content is passed in
// by the caller; the record itself only ever holds hashes.
type Sides struct {
	Base   []byte
	Local  []byte
	Remote []byte

	LocalDeleted  bool
	RemoteDeleted bool

	LocalHash  string
	RemoteHash string

	LocalTime  time.Time
	RemoteTime time.Time
}

// Resolution is what a policy decided to do with a conflict. Content is the
// bytes the path should now hold; Deleted means the path goes away instead.
// Backup preserves the losing side whenever one side's edits are discarded.
type Resolution struct {
	Outcome Outcome
	Content []byte
	Deleted bool
	Backup  []byte
	Detail  string
}

// Resolver settles conflicts under a default policy, overridable per call.
type Resolver struct {
	policy Policy
}

// NewResolver creates a resolver whose default policy applies whenever a
// call does not name one.
func NewResolver(defaultPolicy Policy) *Resolver {
	if defaultPolicy == "" {
		defaultPolicy = PolicyAutoMerge
	}
	return &Resolver{policy: defaultPolicy}
}

// Resolve settles the conflict using policy, or the resolver default when
// policy is empty. Structured content that cannot be decoded downgrades to
// binary treatment instead of failing the resolution.
func (r *Resolver) Resolve(c *Conflict, sides Sides, policy Policy) (*Resolution, error) {
	if policy == "" {
		policy = r.policy
	}

	var (
		res *Resolution
		err error
	)
	switch c.Kind {
	case KindEditDelete:
		res, err = r.resolveEditDelete(sides, policy)
	case KindBinary:
		res, err = r.resolveBinary(sides, policy)
	case KindEditEdit:
		res, err = r.resolveEditEdit(c.Path, sides, policy)
	default:
		return nil, fmt.Errorf("unknown conflict kind %q", c.Kind)
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("conflict resolved",
		"path", c.Path,
		"kind", c.Kind,
		"policy", policy,
		"outcome", res.Outcome)
	return res, nil
}

// resolveEditDelete picks a side between an edit and a delete. There is
// nothing to merge, so auto-merge and manual both defer.
func (r *Resolver) resolveEditDelete(sides Sides, policy Policy) (*Resolution, error) {
	switch policy {
	case PolicyKeepLocal:
		return keepSide(sides, SideLocal), nil
	case PolicyKeepRemote:
		return keepSide(sides, SideRemote), nil
	case PolicyKeepNewer:
		return keepSide(sides, newerSide(sides)), nil
	case PolicyAutoMerge, PolicyManual:
		return &Resolution{
			Outcome: OutcomeDeferred,
			Detail:  "edit-delete cannot be merged; pick a side",
		}, nil
	default:
		return nil, fmt.Errorf("unknown conflict policy %q", policy)
	}
}

// resolveBinary picks a side for content that cannot be diffed. Auto-merge
// falls back to keep-newer here; the losing bytes always go to backup.
func (r *Resolver) resolveBinary(sides Sides, policy Policy) (*Resolution, error) {
	switch policy {
	case PolicyKeepLocal:
		return keepSide(sides, SideLocal), nil
	case PolicyKeepRemote:
		return keepSide(sides, SideRemote), nil
	case PolicyKeepNewer, PolicyAutoMerge:
		return keepSide(sides, newerSide(sides)), nil
	case PolicyManual:
		return &Resolution{
			Outcome: OutcomeDeferred,
			Detail:  "binary conflict held for manual resolution",
		}, nil
	default:
		return nil, fmt.Errorf("unknown conflict policy %q", policy)
	}
}

func (r *Resolver) resolveEditEdit(path string, sides Sides, policy Policy) (*Resolution, error) {
	switch policy {
	case PolicyKeepLocal:
		return keepSide(sides, SideLocal), nil
	case PolicyKeepRemote:
		return keepSide(sides, SideRemote), nil
	case PolicyKeepNewer:
		return keepSide(sides, newerSide(sides)), nil
	case PolicyManual:
		return &Resolution{
			Outcome: OutcomeDeferred,
			Detail:  "held for manual resolution",
		}, nil
	case PolicyAutoMerge:
	default:
		return nil, fmt.Errorf("unknown conflict policy %q", policy)
	}

	if IsStructuredPath(path) {
		merge, err := MergeStructured(path, sides.Base, sides.Local, sides.Remote, SideNone)
		if err != nil {
			// Undecodable structured content; treat as binary.
			slog.Warn("structured merge failed, treating as binary",
				"path", path, "error", err)
			res, rerr := r.resolveBinary(sides, PolicyKeepNewer)
			if rerr != nil {
				return nil, rerr
			}
			res.Detail = fmt.Sprintf("downgraded to binary: %v", err)
			return res, nil
		}
		if merge.Clean() {
			return &Resolution{Outcome: OutcomeAutoMerged, Content: merge.Content}, nil
		}
		return &Resolution{
			Outcome: OutcomeUnresolved,
			Content: merge.Content,
			Detail:  "unresolved keys: " + strings.Join(merge.Conflicts, ", "),
		}, nil
	}

	merge := MergeText(string(sides.Base), string(sides.Local), string(sides.Remote))
	if merge.Clean() {
		return &Resolution{Outcome: OutcomeAutoMerged, Content: []byte(merge.Content)}, nil
	}
	return &Resolution{
		Outcome: OutcomeUnresolved,
		Content: []byte(merge.Content),
		Detail:  fmt.Sprintf("%d conflicting regions marked", merge.Conflicts),
	}, nil
}

// keepSide builds the resolution that keeps one side whole. The other
// side's content, when it had any, becomes the backup.
func keepSide(sides Sides, side Side) *Resolution {
	if side == SideLocal {
		return &Resolution{
			Outcome: OutcomeKeptLocal,
			Content: sides.Local,
			Deleted: sides.LocalDeleted,
			Backup:  sides.Remote,
		}
	}
	return &Resolution{
		Outcome: OutcomeKeptRemote,
		Content: sides.Remote,
		Deleted: sides.RemoteDeleted,
		Backup:  sides.Local,
	}
}

// newerSide prefers the later modification time. Equal times fall back to
// hash order so every replica breaks the tie the same way.
func newerSide(sides Sides) Side {
	switch {
	case sides.LocalTime.After(sides.RemoteTime):
		return SideLocal
	case sides.RemoteTime.After(sides.LocalTime):
		return SideRemote
	case sides.LocalHash > sides.RemoteHash:
		return SideLocal
	default:
		return SideRemote
	}
}
