package blob

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/confsync/confsync/internal/utils"
)

// LocalBackend stores objects as plain files under a root directory.
// Writes go through a temp file and rename so readers never observe a
// partial object.
type LocalBackend struct {
	root string
}

func NewLocalBackend(root string) (*LocalBackend, error) {
	if err := utils.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("blob root: %w", err)
	}
	return &LocalBackend{root: root}, nil
}

func (b *LocalBackend) path(key string) string {
	return filepath.Join(b.root, filepath.FromSlash(key))
}

func (b *LocalBackend) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	f, err := os.Open(b.path(key))
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

func (b *LocalBackend) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	path := b.path(key)
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, body)
	if err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if size >= 0 && written != size {
		return fmt.Errorf("short write for %q: got %d bytes, want %d", key, written, size)
	}

	return os.Rename(tmp.Name(), path)
}

func (b *LocalBackend) Delete(ctx context.Context, key string) error {
	path := b.path(key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	// prune now-empty parents up to the root, best effort
	for dir := filepath.Dir(path); dir != b.root; dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break
		}
	}
	return nil
}

func (b *LocalBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(b.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (b *LocalBackend) ListPrefix(ctx context.Context, prefix string) ([]*ObjectInfo, error) {
	start := b.path(prefix)
	if _, err := os.Stat(start); os.IsNotExist(err) {
		return nil, nil
	}

	var objects []*ObjectInfo
	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(b.root, path)
		if err != nil {
			return err
		}
		objects = append(objects, &ObjectInfo{
			Key:     filepath.ToSlash(rel),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return objects, nil
}

var _ Backend = (*LocalBackend)(nil)
