package rules

import (
	"sync/atomic"
)

// Engine holds the active rule set and supports atomic hot swaps. Readers
// take a snapshot so an in-flight evaluation never sees a half-updated set.
type Engine struct {
	set atomic.Pointer[Set]
}

// NewEngine creates an engine serving the given set.
func NewEngine(set *Set) *Engine {
	e := &Engine{}
	e.set.Store(set)
	return e
}

// Snapshot returns the currently active set. The returned set stays valid
// for the caller even if the engine is swapped concurrently.
func (e *Engine) Snapshot() *Set {
	return e.set.Load()
}

// Swap installs a new set and returns the previous one. Evaluations that
// started against the old set finish against the old set.
func (e *Engine) Swap(set *Set) *Set {
	return e.set.Swap(set)
}

// Admits evaluates the path against the currently active set.
func (e *Engine) Admits(path string) bool {
	return e.set.Load().Admits(path)
}

// Category returns the category of the winning rule in the active set.
func (e *Engine) Category(path string) string {
	return e.set.Load().Category(path)
}
