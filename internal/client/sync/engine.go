package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/confsync/confsync/internal/client/workspace"
	"github.com/confsync/confsync/internal/conflict"
	"github.com/confsync/confsync/internal/history"
	"github.com/confsync/confsync/internal/relaysdk"
	"github.com/confsync/confsync/internal/resilience"
	"github.com/confsync/confsync/internal/rules"
	"github.com/confsync/confsync/internal/transfer"
	"github.com/confsync/confsync/internal/wire"
)

const (
	fullSyncInterval = 5 * time.Second
	changesPageSize  = 500

	pushConcurrency = 4
	pullConcurrency = 8

	eventsRetryDelay    = 2 * time.Second
	eventsRetryMaxDelay = 1 * time.Minute
)

var ErrPassRunning = errors.New("sync pass already running")

// Engine drives synchronization for one workspace: periodic full passes,
// targeted passes for watcher and relay change events, and conflict
// resolution under the configured policy.
type Engine struct {
	ws        *workspace.Workspace
	sdk       *relaysdk.SDK
	journal   *Journal
	scanner   *Scanner
	ignore    *IgnoreList
	rules     *rules.Engine
	tracker   *StatusTracker
	watcher   *Watcher
	transfers *transfer.Manager
	resolver  *conflict.Resolver
	retrier   *resilience.Retrier
	netmon    *resilience.Monitor[string]
	replicaID string

	pushSem *semaphore.Weighted
	pullSem *semaphore.Weighted

	// heldMu guards held, the paths currently parked in the offline
	// queue. It keeps a path from being queued twice per outage.
	heldMu sync.Mutex
	held   map[string]struct{}

	muPass sync.Mutex
	wg     sync.WaitGroup
}

// opFunc executes one operation. Implementations record conflicts they
// run into on the summary; the returned error is the operation's fate.
type opFunc func(ctx context.Context, op *Operation, sum *Summary) error

func NewEngine(ws *workspace.Workspace, sdk *relaysdk.SDK, ignore *IgnoreList, watcher *Watcher, policy conflict.Policy) (*Engine, error) {
	journal, err := NewJournal(ws.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("create sync journal: %w", err)
	}

	ruleSet, err := ws.LoadRules()
	if err != nil {
		journal.Close()
		return nil, fmt.Errorf("load rules: %w", err)
	}

	e := &Engine{
		ws:        ws,
		sdk:       sdk,
		journal:   journal,
		scanner:   NewScanner(ws, ignore),
		ignore:    ignore,
		rules:     rules.NewEngine(ruleSet),
		tracker:   NewStatusTracker(),
		watcher:   watcher,
		transfers: transfer.NewManager(sdk.Chunks, transfer.WithSessionDir(ws.TransferDir)),
		resolver:  conflict.NewResolver(policy),
		retrier:   resilience.NewRetrier(resilience.DefaultRetryConfig()),
		replicaID: sdk.ReplicaID(),
		pushSem:   semaphore.NewWeighted(pushConcurrency),
		pullSem:   semaphore.NewWeighted(pullConcurrency),
		held:      make(map[string]struct{}),
	}

	netmon, err := resilience.NewMonitor(e.probeRelay, e.replayPath,
		resilience.WithQueueFile(ws.OfflineQueuePath))
	if err != nil {
		journal.Close()
		return nil, fmt.Errorf("create offline queue: %w", err)
	}
	e.netmon = netmon

	return e, nil
}

// Status exposes per-path sync state for CLIs and the daemon.
func (e *Engine) Status() *StatusTracker {
	return e.tracker
}

// Transfers exposes in-flight transfer jobs.
func (e *Engine) Transfers() *transfer.Manager {
	return e.transfers
}

// Rules exposes the active rule engine so rule edits can be hot-swapped.
func (e *Engine) Rules() *rules.Engine {
	return e.rules
}

// Connectivity exposes the relay reachability monitor and its backlog of
// paths waiting out an outage.
func (e *Engine) Connectivity() *resilience.Monitor[string] {
	return e.netmon
}

func (e *Engine) Start(ctx context.Context) error {
	slog.Info("sync engine start", "replica", e.replicaID)

	if deferred, err := e.journal.OpenConflicts(); err != nil {
		slog.Warn("cannot restore deferred conflicts", "error", err)
	} else {
		for path := range deferred {
			e.tracker.SetConflicted(path)
		}
		if len(deferred) > 0 {
			slog.Info("deferred conflicts restored", "count", len(deferred))
		}
	}

	// one pass before the event sources come up, so a fresh replica
	// converges immediately instead of waiting out the first interval
	if _, err := e.runPass(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("initial sync failed, continuing on the timer", "error", err)
		if resilience.IsTransient(err) {
			e.netmon.MarkOffline()
		}
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.netmon.Start(ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.handleConnectivity(ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.connectEvents(ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		// a timer, not a ticker, so a pass that overruns the interval
		// does not pile up queued ticks behind it
		timer := time.NewTimer(fullSyncInterval)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				// while the relay is known down, recovery belongs to
				// the prober; burning retries here adds nothing
				if e.netmon.Status() == resilience.StatusOffline {
					timer.Reset(fullSyncInterval)
					continue
				}
				err := e.retrier.Do(ctx, "sync pass", func(ctx context.Context) error {
					_, err := e.runPass(ctx)
					return err
				})
				if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrPassRunning) {
					slog.Error("sync pass failed", "error", err)
					if resilience.IsTransient(err) {
						e.netmon.MarkOffline()
					}
				}
				timer.Reset(fullSyncInterval)
			}
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.handleSocketEvents(ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.handleWatcherEvents(ctx)
	}()

	return nil
}

// Stop waits for in-flight work and releases the journal. Cancel the
// Start context first.
func (e *Engine) Stop() error {
	slog.Info("sync engine stop")
	e.wg.Wait()
	return e.journal.Close()
}

// connectEvents dials the relay event stream, retrying with capped
// backoff so an offline start still comes up in periodic-only mode.
func (e *Engine) connectEvents(ctx context.Context) {
	delay := eventsRetryDelay
	for {
		err := e.sdk.Events.Connect(ctx)
		if err == nil {
			return
		}
		slog.Warn("event stream unavailable, will retry", "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, eventsRetryMaxDelay)
	}
}

// RunPass performs one full reconcile of local, relay and journal state.
// Returns ErrPassRunning when a pass is already in flight.
func (e *Engine) RunPass(ctx context.Context) (*Summary, error) {
	return e.runPass(ctx)
}

func (e *Engine) runPass(ctx context.Context) (*Summary, error) {
	if !e.muPass.TryLock() {
		return nil, ErrPassRunning
	}
	defer e.muPass.Unlock()

	tstart := time.Now()

	if err := e.refreshRemoteState(ctx); err != nil {
		return nil, fmt.Errorf("refresh remote state: %w", err)
	}

	remoteState, err := e.journal.RemoteState()
	if err != nil {
		return nil, err
	}

	localState, err := e.scanner.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan workspace: %w", err)
	}

	journalState, err := e.journal.State()
	if err != nil {
		return nil, err
	}

	plan := e.reconcile(localState, remoteState, journalState)
	summary := e.execute(ctx, plan)

	if plan.Total() > 0 || len(plan.Adopts) > 0 || len(plan.Cleanups) > 0 {
		slog.Info("sync pass",
			"took", time.Since(tstart).Round(time.Millisecond),
			"pushes", len(plan.Pushes)+len(plan.PushDeletes),
			"pulls", len(plan.Pulls)+len(plan.PullDeletes),
			"resolves", len(plan.Resolves),
			"adopts", len(plan.Adopts),
			"cleanups", len(plan.Cleanups),
			"unchanged", len(plan.Unchanged),
			"failed", summary.Failed,
		)
	}

	return summary, nil
}

// refreshRemoteState pages the relay change feed from the persisted
// cursor and folds each version into the remote head table. Folding
// before advancing the cursor keeps a crash mid-page harmless; the page
// replays and the upserts repeat.
func (e *Engine) refreshRemoteState(ctx context.Context) error {
	cursor, err := e.journal.Cursor()
	if err != nil {
		return err
	}

	for {
		resp, err := e.sdk.Sync.Changes(ctx, &relaysdk.ChangesParams{Since: cursor, Limit: changesPageSize})
		if err != nil {
			return fmt.Errorf("fetch changes since %d: %w", cursor, err)
		}
		for _, v := range resp.Versions {
			if err := e.journal.SetRemoteHead(v); err != nil {
				return err
			}
		}
		if resp.NextSince == cursor {
			return nil
		}
		cursor = resp.NextSince
		if err := e.journal.SetCursor(cursor); err != nil {
			return err
		}
	}
}

// execute runs a plan: push and pull batches fan out under their own
// limits, resolves run serially, journal housekeeping rides along.
func (e *Engine) execute(ctx context.Context, plan *Plan) *Summary {
	summary := NewSummary()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.runBatch(ctx, plan.Pushes, e.pushSem, summary, e.pushFile)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.runBatch(ctx, plan.PushDeletes, e.pushSem, summary, e.pushDelete)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.runBatch(ctx, plan.Pulls, e.pullSem, summary, e.pullFile)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.runBatch(ctx, plan.PullDeletes, e.pullSem, summary, e.pullDelete)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		// resolves serialize; a conflict storm should not amplify itself
		for _, op := range plan.Resolves {
			e.runOp(ctx, op, summary, e.resolveFile)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, op := range plan.Adopts {
			if err := e.journal.Set(op.Remote); err != nil {
				slog.Warn("journal adopt failed", "path", op.Path, "error", err)
			}
		}
		for _, path := range plan.Cleanups {
			if err := e.journal.Delete(path); err != nil {
				slog.Warn("journal cleanup failed", "path", path, "error", err)
			}
		}
	}()

	wg.Wait()
	return summary
}

// runBatch fans a batch out one goroutine per operation, bounded by the
// direction's semaphore. A failed path never aborts the batch.
func (e *Engine) runBatch(ctx context.Context, batch map[string]*Operation, sem *semaphore.Weighted, sum *Summary, fn opFunc) {
	if len(batch) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, op := range batch {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(op *Operation) {
			defer wg.Done()
			defer sem.Release(1)
			e.runOp(ctx, op, sum, fn)
		}(op)
	}
	wg.Wait()
}

// runOp claims the path, runs the operation and records the outcome.
func (e *Engine) runOp(ctx context.Context, op *Operation, sum *Summary, fn opFunc) {
	if !e.tracker.Begin(op.Path) {
		slog.Debug("path busy, skipping", "op", op.Op, "path", op.Path)
		return
	}

	var err error
	defer func() { e.tracker.End(op.Path, err) }()

	err = fn(ctx, op, sum)
	sum.Record(op.Path, err)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("sync", "op", op.Op, "path", op.Path, "error", err)
		if resilience.IsTransient(err) {
			e.holdForReconnect(ctx, op.Path)
		}
	}
}

// planPath reconciles a single path against the journaled relay head.
func (e *Engine) planPath(relPath string) (*Plan, error) {
	local := make(map[string]*LocalFile, 1)
	lf, err := e.scanner.StatFile(relPath)
	switch {
	case err == nil:
		local[relPath] = lf
	case errors.Is(err, fs.ErrNotExist):
		// absent locally; reconcile sees the deletion
	default:
		return nil, fmt.Errorf("stat %s: %w", relPath, err)
	}

	remote := make(map[string]*history.FileVersion, 1)
	rv, err := e.journal.RemoteHead(relPath)
	if err != nil {
		return nil, err
	}
	if rv != nil {
		remote[relPath] = rv
	}

	journal := make(map[string]*history.FileVersion, 1)
	jv, err := e.journal.Get(relPath)
	if err != nil {
		return nil, err
	}
	if jv != nil {
		journal[relPath] = jv
	}

	return e.reconcile(local, remote, journal), nil
}

// syncPath reconciles and executes a single path outside the full pass.
// Watcher and relay change events land here. While the relay is known
// unreachable the path is queued for the reconnect drain instead.
func (e *Engine) syncPath(ctx context.Context, relPath string) {
	if e.netmon.Status() == resilience.StatusOffline {
		e.holdForReconnect(ctx, relPath)
		return
	}

	plan, err := e.planPath(relPath)
	if err != nil {
		slog.Warn("targeted sync skipped", "path", relPath, "error", err)
		return
	}
	e.execute(ctx, plan)
}

// holdForReconnect parks a path in the offline queue. Paths drain in
// first-failure order once the prober sees the relay again, so one
// replica's edits replay in the order they happened.
func (e *Engine) holdForReconnect(ctx context.Context, relPath string) {
	e.heldMu.Lock()
	if _, dup := e.held[relPath]; dup {
		e.heldMu.Unlock()
		return
	}
	e.held[relPath] = struct{}{}
	e.heldMu.Unlock()

	e.netmon.MarkOffline()
	if _, err := e.netmon.Submit(ctx, relPath); err != nil {
		e.forgetHeld(relPath)
		slog.Warn("cannot queue path for reconnect", "path", relPath, "error", err)
		return
	}
	slog.Debug("path queued until reconnect", "path", relPath, "pending", e.netmon.Pending())
}

func (e *Engine) forgetHeld(relPath string) {
	e.heldMu.Lock()
	delete(e.held, relPath)
	e.heldMu.Unlock()
}

// replayPath is the offline queue's executor: one queued path, re-planned
// against fresh relay state and run to completion. The path stays marked
// held until it goes through, so a mid-drain failure requeues it exactly
// once.
func (e *Engine) replayPath(ctx context.Context, relPath string) error {
	if err := e.refreshRemoteState(ctx); err != nil {
		return fmt.Errorf("refresh remote state: %w", err)
	}

	plan, err := e.planPath(relPath)
	if err != nil {
		return err
	}
	summary := e.execute(ctx, plan)
	if err := summary.Err(relPath); err != nil {
		return err
	}
	e.forgetHeld(relPath)
	return nil
}

// probeRelay is the reachability check behind the connectivity monitor.
func (e *Engine) probeRelay(ctx context.Context) error {
	return e.sdk.Healthz(ctx)
}

// handleConnectivity turns a reconnect into an immediate full pass, so
// recovery does not sit out the rest of the periodic interval.
func (e *Engine) handleConnectivity(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case status, ok := <-e.netmon.Transitions():
			if !ok {
				return
			}
			if status != resilience.StatusOnline {
				continue
			}
			if _, err := e.runPass(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrPassRunning) {
				slog.Warn("post-reconnect sync failed", "error", err)
			}
		}
	}
}

func (e *Engine) handleSocketEvents(ctx context.Context) {
	events := e.sdk.Events.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}

			switch msg.Type {
			case wire.MsgSystem:
				sys := msg.Data.(wire.System)
				slog.Info("relay hello", "serverVersion", sys.Version)
			case wire.MsgError:
				werr := msg.Data.(wire.Error)
				slog.Warn("relay error", "code", werr.Code, "message", werr.Message)
			case wire.MsgChangeNotify:
				change := msg.Data.(wire.Change)
				e.handleRemoteChange(ctx, change.Version)
			default:
				slog.Debug("event stream unhandled type", "type", msg.Type)
			}
		}
	}
}

// handleRemoteChange folds a pushed notification into the head table and
// pulls the path right away instead of waiting for the next pass.
func (e *Engine) handleRemoteChange(ctx context.Context, v history.FileVersion) {
	if v.ReplicaID == e.replicaID {
		return
	}
	slog.Debug("relay change", "path", v.Path, "version", v.VersionNumber, "tombstone", v.Tombstone)

	if err := e.journal.SetRemoteHead(&v); err != nil {
		slog.Warn("cannot record relay head", "path", v.Path, "error", err)
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.syncPath(ctx, v.Path)
	}()
}

func (e *Engine) handleWatcherEvents(ctx context.Context) {
	if e.watcher == nil {
		return
	}

	events := e.watcher.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}

			relPath, err := e.ws.RelPath(ev.Path())
			if err != nil {
				continue
			}
			if e.ignore.ShouldIgnore(relPath) || !e.rules.Admits(relPath) {
				continue
			}

			slog.Debug("local change", "path", relPath)
			e.scanner.Invalidate(relPath)

			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				e.syncPath(ctx, relPath)
			}()
		}
	}
}

// markSelfWrite tells the watcher the next event for a path is our own.
func (e *Engine) markSelfWrite(absPath string) {
	if e.watcher != nil {
		e.watcher.IgnoreOnce(absPath)
	}
}
