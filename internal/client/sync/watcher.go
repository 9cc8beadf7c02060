package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	defaultIgnoreOnceTimeout = time.Second
	defaultCleanupInterval   = 15 * time.Second
	defaultDebounceTimeout   = 50 * time.Millisecond
	watcherBufferSize        = 64
)

// FilterFunc reports whether a raw event path should be discarded before
// debouncing.
type FilterFunc func(absPath string) bool

// Watcher surfaces write events from the tree. Bursts of writes to one
// path collapse into a single event after a short debounce, and paths the
// engine itself writes are suppressed once via IgnoreOnce so the daemon
// never reacts to its own output.
type Watcher struct {
	watchDir string

	rawEvents chan notify.EventInfo
	events    chan notify.EventInfo

	ignoreMu sync.Mutex
	ignore   map[string]time.Time

	debounceMu    sync.Mutex
	pending       map[string]notify.EventInfo
	timers        map[string]*time.Timer
	debounceDelay time.Duration

	filterMu sync.RWMutex
	filter   FilterFunc

	cleanupInterval time.Duration
	done            chan struct{}
	wg              sync.WaitGroup
}

func NewWatcher(watchDir string) *Watcher {
	return &Watcher{
		watchDir:        watchDir,
		ignore:          make(map[string]time.Time),
		pending:         make(map[string]notify.EventInfo),
		timers:          make(map[string]*time.Timer),
		debounceDelay:   defaultDebounceTimeout,
		cleanupInterval: defaultCleanupInterval,
		done:            make(chan struct{}),
	}
}

// SetDebounce overrides the debounce delay. Tests shorten it.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounceDelay = d
}

// FilterPaths installs a raw-event filter, invoked before debouncing.
func (w *Watcher) FilterPaths(fn FilterFunc) {
	w.filterMu.Lock()
	w.filter = fn
	w.filterMu.Unlock()
}

func (w *Watcher) Start(ctx context.Context) error {
	slog.Info("watcher start", "dir", w.watchDir)

	w.rawEvents = make(chan notify.EventInfo, watcherBufferSize)
	w.events = make(chan notify.EventInfo, watcherBufferSize)

	if err := notify.Watch(w.watchDir+"/...", w.rawEvents, notify.Write, notify.Remove, notify.Rename); err != nil {
		return err
	}

	w.wg.Add(2)
	go w.filterLoop(ctx)
	go w.cleanupLoop(ctx)
	return nil
}

func (w *Watcher) Stop() {
	close(w.done)
	if w.rawEvents != nil {
		notify.Stop(w.rawEvents)
	}
	w.wg.Wait()
	slog.Info("watcher stopped")
}

// Events delivers debounced change events. The channel closes on Stop.
func (w *Watcher) Events() <-chan notify.EventInfo {
	return w.events
}

// IgnoreOnce suppresses the next event for an absolute path. The mark
// expires after a second in case the expected event never fires.
func (w *Watcher) IgnoreOnce(absPath string) {
	w.IgnoreOnceFor(absPath, defaultIgnoreOnceTimeout)
}

func (w *Watcher) IgnoreOnceFor(absPath string, timeout time.Duration) {
	w.ignoreMu.Lock()
	w.ignore[absPath] = time.Now().Add(timeout)
	w.ignoreMu.Unlock()
}

// consumeIgnoreMark removes a live mark for the path and reports whether
// one was present.
func (w *Watcher) consumeIgnoreMark(absPath string) bool {
	w.ignoreMu.Lock()
	defer w.ignoreMu.Unlock()

	expiry, ok := w.ignore[absPath]
	if !ok {
		return false
	}
	delete(w.ignore, absPath)
	return !time.Now().After(expiry)
}

func (w *Watcher) filterLoop(ctx context.Context) {
	defer func() {
		w.flushPending()
		w.wg.Done()
		close(w.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.rawEvents:
			if !ok {
				return
			}

			w.filterMu.RLock()
			filter := w.filter
			w.filterMu.RUnlock()
			if filter != nil && filter(event.Path()) {
				continue
			}

			// editors and atomic writers fire bursts per save; the
			// debounce folds each burst into one event
			w.debounce(event)
		}
	}
}

func (w *Watcher) debounce(event notify.EventInfo) {
	path := event.Path()

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, ok := w.timers[path]; ok {
		timer.Stop()
	}
	w.pending[path] = event
	w.timers[path] = time.AfterFunc(w.debounceDelay, func() {
		w.flush(path)
	})
}

func (w *Watcher) flush(path string) {
	w.debounceMu.Lock()
	event, ok := w.pending[path]
	if !ok {
		w.debounceMu.Unlock()
		return
	}
	delete(w.pending, path)
	delete(w.timers, path)
	w.debounceMu.Unlock()

	if w.consumeIgnoreMark(path) {
		slog.Debug("watcher suppressed self-write", "path", path)
		return
	}

	select {
	case w.events <- event:
		slog.Debug("watcher", "event", event.Event(), "path", path)
	default:
		slog.Warn("watcher dropped event", "reason", "channel full", "path", path)
	}
}

// flushPending drains whatever the debounce still holds at shutdown.
func (w *Watcher) flushPending() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	for path, timer := range w.timers {
		timer.Stop()
		if event, ok := w.pending[path]; ok {
			select {
			case w.events <- event:
			default:
				slog.Warn("watcher dropped event at shutdown", "path", path)
			}
		}
	}
	w.pending = make(map[string]notify.EventInfo)
	w.timers = make(map[string]*time.Timer)
}

// cleanupLoop expires stale ignore-once marks.
func (w *Watcher) cleanupLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			w.ignoreMu.Lock()
			now := time.Now()
			for path, expiry := range w.ignore {
				if now.After(expiry) {
					delete(w.ignore, path)
				}
			}
			w.ignoreMu.Unlock()
		}
	}
}
