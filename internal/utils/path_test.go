package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolvePath(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantError bool
	}{
		{
			name:      "empty path",
			input:     "",
			wantError: true,
		},
		{
			name:      "relative path",
			input:     "./test",
			wantError: false,
		},
		{
			name:      "absolute path",
			input:     "/tmp/test",
			wantError: false,
		},
		{
			name:      "home path",
			input:     "~/test",
			wantError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ResolvePath(tt.input)
			if (err != nil) != tt.wantError {
				t.Errorf("ResolvePath(%q) error = %v, wantError %v", tt.input, err, tt.wantError)
			}
			if !tt.wantError && result == "" {
				t.Errorf("ResolvePath(%q) returned empty string", tt.input)
			}
		})
	}
}

func TestEnsureDirAndExists(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")

	assert.NoError(t, EnsureDir(nested))
	assert.True(t, DirExists(nested))
	assert.False(t, FileExists(nested))

	file := filepath.Join(nested, "x.txt")
	assert.NoError(t, os.WriteFile(file, []byte("hi"), 0o644))
	assert.True(t, FileExists(file))
	assert.False(t, DirExists(file))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "out.json")

	assert.NoError(t, WriteFileAtomic(path, []byte(`{"ok":true}`), 0o644))

	data, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))

	// overwrite must replace contents fully
	assert.NoError(t, WriteFileAtomic(path, []byte(`{}`), 0o644))
	data, err = os.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, `{}`, string(data))

	// no temp litter left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
}
