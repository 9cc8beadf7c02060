package transfer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/confsync/confsync/internal/history"
	"github.com/confsync/confsync/internal/resilience"
	"github.com/confsync/confsync/internal/utils"
)

// integrityWarnAfter is how many integrity failures the same content may
// accumulate before the manager logs a warning about it.
const integrityWarnAfter = 2

type Option func(*Manager)

// WithSessionDir sets where progress journals live. Defaults to a
// confsync-transfer dir under the OS temp dir.
func WithSessionDir(dir string) Option {
	return func(m *Manager) {
		if dir != "" {
			m.sessionDir = dir
		}
	}
}

// WithChunkSize overrides the chunk size. Changing it orphans sessions
// journaled under the old size; they restart from zero.
func WithChunkSize(size int64) Option {
	return func(m *Manager) {
		if size > 0 {
			m.chunkSize = size
		}
	}
}

// WithUploadWorkers bounds concurrent chunk uploads across all jobs.
func WithUploadWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.upWorkers = n
		}
	}
}

// WithDownloadWorkers bounds concurrent chunk downloads across all jobs.
func WithDownloadWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.downWorkers = n
		}
	}
}

// Manager owns transfer jobs. Uploads and downloads draw from separate
// worker budgets since they compete for different bandwidth directions.
type Manager struct {
	transport  Transport
	sessionDir string
	chunkSize  int64

	upWorkers   int
	downWorkers int
	upSem       *semaphore.Weighted
	downSem     *semaphore.Weighted

	mu             sync.Mutex
	active         map[string]*Job
	integrityFails map[string]int
}

func NewManager(transport Transport, opts ...Option) *Manager {
	m := &Manager{
		transport:      transport,
		sessionDir:     filepath.Join(os.TempDir(), "confsync-transfer"),
		chunkSize:      DefaultChunkSize,
		upWorkers:      DefaultUploadWorkers,
		downWorkers:    DefaultDownloadWorkers,
		active:         make(map[string]*Job),
		integrityFails: make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.upSem = semaphore.NewWeighted(int64(m.upWorkers))
	m.downSem = semaphore.NewWeighted(int64(m.downWorkers))
	return m
}

// Jobs snapshots the currently running jobs.
func (m *Manager) Jobs() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs := make([]*Job, 0, len(m.active))
	for _, j := range m.active {
		jobs = append(jobs, j)
	}
	return jobs
}

// begin registers a job as the only one for its content+path, or fails with
// ErrTransferActive.
func (m *Manager) begin(job *Job) error {
	key := sessionKey(job.Hash, job.Path)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, running := m.active[key]; running {
		return ErrTransferActive
	}
	m.active[key] = job
	return nil
}

func (m *Manager) end(job *Job) {
	key := sessionKey(job.Hash, job.Path)
	m.mu.Lock()
	delete(m.active, key)
	m.mu.Unlock()
}

func (m *Manager) ensureSessionDir() error {
	return utils.EnsureDir(m.sessionDir)
}

// noteIntegrity tracks integrity failures per content hash. A clean
// transfer of the content clears its count; the same content failing
// verification integrityWarnAfter times or more logs a warning.
func (m *Manager) noteIntegrity(hash string, err error) {
	var ierr *IntegrityError
	if !errors.As(err, &ierr) {
		if err == nil {
			m.mu.Lock()
			delete(m.integrityFails, hash)
			m.mu.Unlock()
		}
		return
	}

	m.mu.Lock()
	m.integrityFails[hash]++
	count := m.integrityFails[hash]
	m.mu.Unlock()

	if count >= integrityWarnAfter {
		slog.Warn("content keeps failing integrity verification",
			"path", ierr.Path,
			"hash", history.ShortHash(hash),
			"failures", count)
	}
}

// finish settles the job's terminal status from the error it ended with.
// Cancellation and transient network loss both pause: progress is
// journaled and a later attempt resumes. Only non-transient errors fail
// the job outright.
func finish(job *Job, err error) {
	switch {
	case err == nil:
		job.setStatus(StatusDone)
	case errors.Is(err, context.Canceled), resilience.IsTransient(err):
		job.setStatus(StatusPausedOffline)
	default:
		job.setStatus(StatusFailed)
	}
}
