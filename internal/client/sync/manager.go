package sync

import (
	"context"
	"fmt"

	"github.com/confsync/confsync/internal/client/workspace"
	"github.com/confsync/confsync/internal/conflict"
	"github.com/confsync/confsync/internal/relaysdk"
)

// Manager wires the watcher, the ignore list and the engine together for
// one workspace and drives their shared lifecycle.
type Manager struct {
	sdk     *relaysdk.SDK
	ws      *workspace.Workspace
	engine  *Engine
	watcher *Watcher
	ignore  *IgnoreList
}

func NewManager(ws *workspace.Workspace, sdk *relaysdk.SDK, policy conflict.Policy) (*Manager, error) {
	watcher := NewWatcher(ws.Root)
	// metadata writes never reach the debouncer; everything else is
	// filtered against the ignore list once it is path-relative
	watcher.FilterPaths(ws.IsMetadataPath)

	ignore := NewIgnoreList(ws.IgnorePath)

	engine, err := NewEngine(ws, sdk, ignore, watcher, policy)
	if err != nil {
		return nil, fmt.Errorf("create sync engine: %w", err)
	}

	return &Manager{
		sdk:     sdk,
		ws:      ws,
		engine:  engine,
		watcher: watcher,
		ignore:  ignore,
	}, nil
}

// Engine exposes the sync engine for status, transfers and explicit
// conflict resolution.
func (m *Manager) Engine() *Engine {
	return m.engine
}

// SDK exposes the relay client the manager syncs through.
func (m *Manager) SDK() *relaysdk.SDK {
	return m.sdk
}

func (m *Manager) Start(ctx context.Context) error {
	if err := m.watcher.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	if err := m.engine.Start(ctx); err != nil {
		return fmt.Errorf("start sync engine: %w", err)
	}
	return nil
}

func (m *Manager) Stop() error {
	m.watcher.Stop()
	return m.engine.Stop()
}
