package sync

import (
	"log/slog"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/confsync/confsync/internal/utils"
)

// defaultIgnoreLines are always in force, whatever the workspace ignore
// file says. They keep sync machinery artifacts and editor noise out of
// the version chains.
var defaultIgnoreLines = []string{
	".confsync/",
	".confsyncignore",
	"*.part",
	"*.backup-*",
	"*.tmp",
	"*.tmp-*",
	"*.swp",
	"*.swo",
	"*~",
	".DS_Store",
	"Thumbs.db",
	".git/",
	".svn/",
	".hg/",
}

// IgnoreList answers whether a tree-relative path is excluded from sync.
// It compiles the built-in defaults plus the workspace .confsyncignore.
type IgnoreList struct {
	ignore *gitignore.GitIgnore
}

func NewIgnoreList(ignoreFilePath string) *IgnoreList {
	if utils.FileExists(ignoreFilePath) {
		ign, err := gitignore.CompileIgnoreFileAndLines(ignoreFilePath, defaultIgnoreLines...)
		if err == nil {
			return &IgnoreList{ignore: ign}
		}
		slog.Warn("ignore file unreadable, using defaults only", "path", ignoreFilePath, "error", err)
	}
	return &IgnoreList{ignore: gitignore.CompileIgnoreLines(defaultIgnoreLines...)}
}

// ShouldIgnore matches a tree-relative slash path against the list.
func (l *IgnoreList) ShouldIgnore(relPath string) bool {
	return l.ignore.MatchesPath(relPath)
}
