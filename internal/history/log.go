package history

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrUnknownPath    = errors.New("path has no recorded versions")
	ErrBrokenChain    = errors.New("version does not extend the chain head")
	ErrStoreComplaint = errors.New("version store rejected append")
)

// Log is the version arena for one replica. Chains are append-only and keyed
// by content hash; lookups hand out shared references, never copies, so
// callers must treat versions as read-only.
type Log struct {
	mu        sync.RWMutex
	chains    map[string]*chain
	replicaID string
	store     *Store
}

type chain struct {
	byHash map[string]*FileVersion
	order  []*FileVersion
}

// LogOption configures a Log.
type LogOption func(*Log)

// WithStore makes the log durable: existing chains load at construction and
// every append writes through.
func WithStore(store *Store) LogOption {
	return func(l *Log) {
		l.store = store
	}
}

// NewLog creates a version log for the given replica.
func NewLog(replicaID string, opts ...LogOption) (*Log, error) {
	l := &Log{
		chains:    make(map[string]*chain),
		replicaID: replicaID,
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.store != nil {
		versions, err := l.store.All()
		if err != nil {
			return nil, fmt.Errorf("load version log: %w", err)
		}
		for _, v := range versions {
			l.chainFor(v.Path).append(v)
		}
	}

	return l, nil
}

// ReplicaID returns the replica identity stamped on recorded versions.
func (l *Log) ReplicaID() string {
	return l.replicaID
}

// RecordLocalChange records a content snapshot for path. Recording bytes
// identical to the current head is a no-op returning the head and false. A
// new version's number is head+1 and its parent is the head's hash.
func (l *Log) RecordLocalChange(path string, content []byte) (*FileVersion, bool, error) {
	hash := HashBytes(content)

	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.chainFor(path)
	head := c.head()
	if head != nil && head.Hash == hash {
		return head, false, nil
	}

	v := &FileVersion{
		Path:          path,
		Hash:          hash,
		Size:          int64(len(content)),
		VersionNumber: nextNumber(head),
		ParentHash:    headHash(head),
		ReplicaID:     l.replicaID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := l.persist(v); err != nil {
		return nil, false, err
	}
	c.append(v)
	return v, true, nil
}

// RecordTombstone appends a deletion marker for path. Unknown paths and
// already-deleted heads are no-ops.
func (l *Log) RecordTombstone(path string) (*FileVersion, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.chains[path]
	if !ok {
		return nil, false, nil
	}
	head := c.head()
	if head == nil || head.Tombstone {
		return head, false, nil
	}

	v := &FileVersion{
		Path:          path,
		Hash:          TombstoneHash(head.Hash),
		VersionNumber: head.VersionNumber + 1,
		ParentHash:    head.Hash,
		ReplicaID:     l.replicaID,
		Tombstone:     true,
		CreatedAt:     time.Now().UTC(),
	}
	if err := l.persist(v); err != nil {
		return nil, false, err
	}
	c.append(v)
	return v, true, nil
}

// ObserveRemote folds versions learned from another replica into the local
// arena. Duplicates by hash are skipped; the chain stays ordered by version
// number.
func (l *Log) ObserveRemote(path string, versions ...*FileVersion) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.chainFor(path)
	changed := false
	for _, v := range versions {
		if v.Path != path {
			return fmt.Errorf("%w: version for %q observed under %q", ErrBrokenChain, v.Path, path)
		}
		if _, seen := c.byHash[v.Hash]; seen {
			continue
		}
		if err := l.persist(v); err != nil {
			return err
		}
		c.append(v)
		changed = true
	}
	if changed {
		sort.SliceStable(c.order, func(i, j int) bool {
			return c.order[i].VersionNumber < c.order[j].VersionNumber
		})
	}
	return nil
}

// Head returns the newest version of path, or nil when unknown.
func (l *Log) Head(path string) *FileVersion {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if c, ok := l.chains[path]; ok {
		return c.head()
	}
	return nil
}

// HeadHash returns the newest hash of path, or "" when unknown or deleted.
// Deleted heads read as absent so Compare treats deletion like a new-path
// edge rather than ordinary content.
func (l *Log) HeadHash(path string) string {
	head := l.Head(path)
	if head == nil || head.Tombstone {
		return ""
	}
	return head.Hash
}

// Get returns the version of path with the given hash.
func (l *Log) Get(path, hash string) (*FileVersion, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	c, ok := l.chains[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPath, path)
	}
	v, ok := c.byHash[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", ErrUnknownPath, path, ShortHash(hash))
	}
	return v, nil
}

// Since returns versions of path with numbers strictly greater than after,
// oldest first.
func (l *Log) Since(path string, after int64) []*FileVersion {
	l.mu.RLock()
	defer l.mu.RUnlock()

	c, ok := l.chains[path]
	if !ok {
		return nil
	}
	var out []*FileVersion
	for _, v := range c.order {
		if v.VersionNumber > after {
			out = append(out, v)
		}
	}
	return out
}

// Chain returns every known version of path, oldest first.
func (l *Log) Chain(path string) []*FileVersion {
	return l.Since(path, 0)
}

// Paths lists every path with at least one recorded version.
func (l *Log) Paths() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	paths := make([]string, 0, len(l.chains))
	for p := range l.chains {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (l *Log) chainFor(path string) *chain {
	c, ok := l.chains[path]
	if !ok {
		c = &chain{byHash: make(map[string]*FileVersion)}
		l.chains[path] = c
	}
	return c
}

func (l *Log) persist(v *FileVersion) error {
	if l.store == nil {
		return nil
	}
	if err := l.store.Append(v); err != nil {
		return fmt.Errorf("%w: %s", ErrStoreComplaint, err)
	}
	return nil
}

func (c *chain) head() *FileVersion {
	if len(c.order) == 0 {
		return nil
	}
	return c.order[len(c.order)-1]
}

func (c *chain) append(v *FileVersion) {
	c.byHash[v.Hash] = v
	c.order = append(c.order, v)
}

func nextNumber(head *FileVersion) int64 {
	if head == nil {
		return 1
	}
	return head.VersionNumber + 1
}

func headHash(head *FileVersion) string {
	if head == nil {
		return ""
	}
	return head.Hash
}
