// Package workspace owns the on-disk layout of a replica: the synced
// configuration tree plus the .confsync metadata directory beside it. A
// flock on the metadata dir guarantees a single daemon per tree.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/confsync/confsync/internal/rules"
	"github.com/confsync/confsync/internal/utils"
)

const (
	metadataDir  = ".confsync"
	logsDir      = "logs"
	transfersDir = "transfers"
	scratchDir   = "tmp"
	lockFile     = "confsync.lock"
	journalFile  = "journal.db"
	rulesFile    = "confsync.rules"
	ignoreFile   = ".confsyncignore"
	offlineFile  = "offline-queue.json"
)

var ErrWorkspaceLocked = errors.New("workspace locked by another process")

const defaultIgnoreFileContent = `# Paths listed here are never synced. Gitignore syntax.

# Editor droppings
*.swp
*.swo
*~

# OS noise
.DS_Store
Thumbs.db

# Version control
.git/
.svn/
.hg/
`

type Workspace struct {
	Root             string
	MetadataDir      string
	LogsDir          string
	TransferDir      string
	ScratchDir       string
	JournalPath      string
	RulesPath        string
	IgnorePath       string
	OfflineQueuePath string

	flock *flock.Flock
}

func NewWorkspace(rootDir string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root %q: %w", rootDir, err)
	}

	meta := filepath.Join(root, metadataDir)
	return &Workspace{
		Root:             root,
		MetadataDir:      meta,
		LogsDir:          filepath.Join(meta, logsDir),
		TransferDir:      filepath.Join(meta, transfersDir),
		ScratchDir:       filepath.Join(meta, scratchDir),
		JournalPath:      filepath.Join(meta, journalFile),
		RulesPath:        filepath.Join(meta, rulesFile),
		IgnorePath:       filepath.Join(root, ignoreFile),
		OfflineQueuePath: filepath.Join(meta, offlineFile),
		flock:            flock.New(filepath.Join(meta, lockFile)),
	}, nil
}

// Lock takes the single-daemon lock. It fails fast with ErrWorkspaceLocked
// instead of blocking behind another running instance.
func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.MetadataDir); err != nil {
		return fmt.Errorf("create metadata dir %s: %w", w.MetadataDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}
	return nil
}

func (w *Workspace) Unlock() error {
	// never remove a lock file owned by another process
	if !w.flock.Locked() {
		return nil
	}
	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("unlock workspace: %w", err)
	}
	return os.Remove(w.flock.Path())
}

// Setup locks the workspace and materializes the layout: metadata
// directories, the stock rules file and the stock ignore file. Existing
// files are left untouched, so user edits survive restarts.
func (w *Workspace) Setup() error {
	if err := w.Lock(); err != nil {
		return err
	}

	slog.Info("workspace", "root", w.Root)

	for _, dir := range []string{w.LogsDir, w.TransferDir, w.ScratchDir} {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	if _, err := rules.LoadOrInit(w.RulesPath); err != nil {
		return fmt.Errorf("init rules file: %w", err)
	}

	if !utils.FileExists(w.IgnorePath) {
		if err := os.WriteFile(w.IgnorePath, []byte(defaultIgnoreFileContent), 0644); err != nil {
			return fmt.Errorf("write default ignore file: %w", err)
		}
	}

	return nil
}

// LoadRules reads the workspace rules file, materializing the defaults on
// first run.
func (w *Workspace) LoadRules() (*rules.Set, error) {
	return rules.LoadOrInit(w.RulesPath)
}

// AbsPath maps a tree-relative path to its absolute location on disk.
func (w *Workspace) AbsPath(relPath string) string {
	return filepath.Join(w.Root, filepath.FromSlash(relPath))
}

// RelPath maps an absolute path inside the tree back to its tree-relative
// slash form.
func (w *Workspace) RelPath(absPath string) (string, error) {
	rel, err := filepath.Rel(w.Root, absPath)
	if err != nil {
		return "", err
	}
	return NormPath(rel), nil
}

// IsMetadataPath reports whether an absolute path falls under the .confsync
// metadata dir. The scanner and watcher discard those outright.
func (w *Workspace) IsMetadataPath(absPath string) bool {
	rel, err := filepath.Rel(w.MetadataDir, absPath)
	if err != nil {
		return false
	}
	return rel == "." || !isDotDotPath(rel)
}
