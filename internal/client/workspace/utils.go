package workspace

import (
	"path/filepath"
	"strings"
)

// NormPath normalizes a tree path: cleaned, forward slashes, no leading
// slash. All journal keys and relay paths use this form.
func NormPath(path string) string {
	path = filepath.Clean(path)
	path = strings.ReplaceAll(path, "\\", "/")
	return strings.TrimLeft(path, "/")
}

// IsValidPath reports whether a tree-relative path is safe to sync: non
// empty, relative, and never escaping the tree root.
func IsValidPath(path string) bool {
	if path == "" || strings.HasPrefix(path, "/") || strings.Contains(path, "\\") {
		return false
	}
	clean := filepath.Clean(path)
	return clean != "." && !isDotDotPath(clean)
}

func isDotDotPath(clean string) bool {
	return clean == ".." || strings.HasPrefix(clean, "../")
}
