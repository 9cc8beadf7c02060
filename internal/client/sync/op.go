package sync

import (
	"fmt"

	"github.com/confsync/confsync/internal/conflict"
	"github.com/confsync/confsync/internal/history"
)

// OpType names what reconciliation decided for one path.
type OpType uint8

const (
	// OpPush uploads the local head and reports it to the relay.
	OpPush OpType = iota
	// OpPushDelete reports a tombstone for a locally deleted path.
	OpPushDelete
	// OpPull downloads the relay head and writes it into the tree.
	OpPull
	// OpPullDelete applies a relay tombstone by deleting the local file.
	OpPullDelete
	// OpResolve runs conflict resolution for diverged heads.
	OpResolve
)

var opTypeNames = []string{
	"Push",
	"PushDelete",
	"Pull",
	"PullDelete",
	"Resolve",
}

func (op OpType) String() string {
	if int(op) < len(opTypeNames) {
		return opTypeNames[op]
	}
	return fmt.Sprintf("OpType(%d)", op)
}

// Operation is one unit of sync work for one path, carrying the three
// states reconciliation compared. Policy overrides the engine's default
// conflict policy when set; only forced resolutions set it.
type Operation struct {
	Op     OpType
	Path   string
	Local  *LocalFile
	Remote *history.FileVersion
	Synced *history.FileVersion
	Policy conflict.Policy
}

// Plan is the outcome of one reconciliation pass, operations bucketed by
// kind. Pushes and pulls execute in parallel under separate limits;
// resolves serialize per path through the resolver. Adopts are paths
// whose local and relay heads already agree while the journal lags;
// executing them only rewrites the journal row.
type Plan struct {
	Pushes      map[string]*Operation
	PushDeletes map[string]*Operation
	Pulls       map[string]*Operation
	PullDeletes map[string]*Operation
	Resolves    map[string]*Operation
	Adopts      map[string]*Operation

	Unchanged []string
	Cleanups  []string
	Skipped   []string
}

func NewPlan() *Plan {
	return &Plan{
		Pushes:      make(map[string]*Operation),
		PushDeletes: make(map[string]*Operation),
		Pulls:       make(map[string]*Operation),
		PullDeletes: make(map[string]*Operation),
		Resolves:    make(map[string]*Operation),
		Adopts:      make(map[string]*Operation),
	}
}

// Total counts the operations that will actually run.
func (p *Plan) Total() int {
	return len(p.Pushes) + len(p.PushDeletes) + len(p.Pulls) + len(p.PullDeletes) + len(p.Resolves)
}
