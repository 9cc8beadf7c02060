package sync

import (
	"sync"
	"time"
)

const statusEventBufferSize = 16

// PathState is where a path sits in its sync lifecycle. Every path rests
// at idle; a pass moves it through comparing into transferring or
// resolving and back.
type PathState string

const (
	StateIdle         PathState = "idle"
	StateComparing    PathState = "comparing"
	StateTransferring PathState = "transferring"
	StateResolving    PathState = "resolving"
)

// PathStatus is the tracked condition of one path.
type PathStatus struct {
	State       PathState
	Conflicted  bool
	Error       error
	ErrorCount  int
	LastUpdated time.Time
}

// StatusEvent is broadcast to subscribers on every status change.
type StatusEvent struct {
	Path   string
	Status PathStatus
}

// StatusTracker holds per-path sync state and serializes same-path work:
// Begin claims a path for one worker at a time, End releases it. Status
// changes fan out to subscribers without ever blocking the engine.
type StatusTracker struct {
	mu    sync.RWMutex
	paths map[string]*PathStatus
	busy  map[string]struct{}

	subMu sync.RWMutex
	subs  []chan StatusEvent
}

func NewStatusTracker() *StatusTracker {
	return &StatusTracker{
		paths: make(map[string]*PathStatus),
		busy:  make(map[string]struct{}),
	}
}

// Begin claims the path and moves it to comparing. It returns false when
// another worker already holds the path.
func (t *StatusTracker) Begin(path string) bool {
	t.mu.Lock()
	if _, held := t.busy[path]; held {
		t.mu.Unlock()
		return false
	}
	t.busy[path] = struct{}{}
	status := t.setLocked(path, StateComparing)
	t.mu.Unlock()

	t.broadcast(path, status)
	return true
}

// End releases the path. A nil err clears the error streak and returns
// the path to idle; a non-nil err keeps the streak growing.
func (t *StatusTracker) End(path string, err error) {
	t.mu.Lock()
	delete(t.busy, path)
	s := t.getOrCreateLocked(path)
	s.State = StateIdle
	s.LastUpdated = time.Now()
	if err != nil {
		s.Error = err
		s.ErrorCount++
	} else {
		s.Error = nil
		s.ErrorCount = 0
	}
	status := *s
	if err == nil && !s.Conflicted {
		delete(t.paths, path)
	}
	t.mu.Unlock()

	t.broadcast(path, status)
}

func (t *StatusTracker) SetTransferring(path string) {
	t.set(path, StateTransferring)
}

func (t *StatusTracker) SetResolving(path string) {
	t.set(path, StateResolving)
}

// SetConflicted blocks the path from further passes until the conflict is
// settled.
func (t *StatusTracker) SetConflicted(path string) {
	t.mu.Lock()
	s := t.getOrCreateLocked(path)
	s.Conflicted = true
	s.LastUpdated = time.Now()
	status := *s
	t.mu.Unlock()

	t.broadcast(path, status)
}

// ClearConflicted lifts the block after a conflict was settled.
func (t *StatusTracker) ClearConflicted(path string) {
	t.mu.Lock()
	s, ok := t.paths[path]
	if !ok {
		t.mu.Unlock()
		return
	}
	s.Conflicted = false
	s.LastUpdated = time.Now()
	status := *s
	t.mu.Unlock()

	t.broadcast(path, status)
}

// IsBlocked reports whether reconciliation should leave the path alone,
// either because it sits in an unsettled conflict or because it is being
// worked on right now.
func (t *StatusTracker) IsBlocked(path string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, held := t.busy[path]; held {
		return true
	}
	if s, ok := t.paths[path]; ok && s.Conflicted {
		return true
	}
	return false
}

func (t *StatusTracker) Get(path string) (PathStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.paths[path]
	if !ok {
		return PathStatus{}, false
	}
	return *s, true
}

func (t *StatusTracker) ErrorCount(path string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.paths[path]; ok {
		return s.ErrorCount
	}
	return 0
}

// ConflictedPaths lists every path currently blocked on a conflict.
func (t *StatusTracker) ConflictedPaths() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var paths []string
	for path, s := range t.paths {
		if s.Conflicted {
			paths = append(paths, path)
		}
	}
	return paths
}

// Snapshot copies all tracked statuses.
func (t *StatusTracker) Snapshot() map[string]PathStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]PathStatus, len(t.paths))
	for path, s := range t.paths {
		out[path] = *s
	}
	return out
}

// Subscribe returns a channel of status events. Slow subscribers lose
// events instead of stalling sync work.
func (t *StatusTracker) Subscribe() <-chan StatusEvent {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	ch := make(chan StatusEvent, statusEventBufferSize)
	t.subs = append(t.subs, ch)
	return ch
}

func (t *StatusTracker) Unsubscribe(ch <-chan StatusEvent) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for i, sub := range t.subs {
		if sub == ch {
			close(sub)
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			return
		}
	}
}

func (t *StatusTracker) Close() {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for _, sub := range t.subs {
		close(sub)
	}
	t.subs = nil
}

func (t *StatusTracker) set(path string, state PathState) {
	t.mu.Lock()
	status := t.setLocked(path, state)
	t.mu.Unlock()
	t.broadcast(path, status)
}

func (t *StatusTracker) setLocked(path string, state PathState) PathStatus {
	s := t.getOrCreateLocked(path)
	s.State = state
	s.LastUpdated = time.Now()
	return *s
}

func (t *StatusTracker) getOrCreateLocked(path string) *PathStatus {
	if s, ok := t.paths[path]; ok {
		return s
	}
	s := &PathStatus{State: StateIdle, LastUpdated: time.Now()}
	t.paths[path] = s
	return s
}

func (t *StatusTracker) broadcast(path string, status PathStatus) {
	t.subMu.RLock()
	defer t.subMu.RUnlock()
	event := StatusEvent{Path: path, Status: status}
	for _, sub := range t.subs {
		select {
		case sub <- event:
		default:
		}
	}
}
