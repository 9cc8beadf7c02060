package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confsync/confsync/internal/conflict"
)

func TestConfigValidateNormalizes(t *testing.T) {
	tmp := t.TempDir()
	cfg := &Config{
		DataDir:   tmp,
		Email:     "  Alice@Example.com ",
		ServerURL: "http://127.0.0.1:8080",
		ReplicaID: "replica-a",
		Path:      filepath.Join(tmp, "config.json"),
	}

	require.NoError(t, cfg.Validate())
	assert.True(t, filepath.IsAbs(cfg.DataDir))
	assert.Equal(t, "alice@example.com", cfg.Email)
}

func TestConfigValidateErrors(t *testing.T) {
	tmp := t.TempDir()
	base := func() *Config {
		return &Config{
			DataDir:   tmp,
			Email:     "alice@example.com",
			ServerURL: "http://127.0.0.1:8080",
			ReplicaID: "replica-a",
			Path:      filepath.Join(tmp, "config.json"),
		}
	}

	t.Run("bad email", func(t *testing.T) {
		cfg := base()
		cfg.Email = "not-an-email"
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad server url", func(t *testing.T) {
		cfg := base()
		cfg.ServerURL = "ftp://relay.example.com"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server url")
	})

	t.Run("bad conflict policy", func(t *testing.T) {
		cfg := base()
		cfg.ConflictPolicy = "coin-toss"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "conflict policy")
	})

	t.Run("missing data dir", func(t *testing.T) {
		cfg := base()
		cfg.DataDir = ""
		assert.Error(t, cfg.Validate())
	})
}

func TestConfigSaveLoadRoundtrip(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "confsync", "config.json")

	cfg := &Config{
		DataDir:        tmp,
		Email:          "alice@example.com",
		ServerURL:      "http://127.0.0.1:8080",
		ReplicaID:      "replica-a",
		RefreshToken:   "tok-1",
		ConflictPolicy: string(conflict.PolicyKeepNewer),
		Path:           path,
	}
	require.NoError(t, cfg.Save())

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Email, loaded.Email)
	assert.Equal(t, cfg.ReplicaID, loaded.ReplicaID)
	assert.Equal(t, "tok-1", loaded.RefreshToken)
	assert.Equal(t, conflict.PolicyKeepNewer, loaded.Policy())
	assert.Equal(t, path, loaded.Path)
}

func TestUpdateRefreshTokenPersists(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.json")

	cfg := &Config{
		DataDir:      tmp,
		Email:        "alice@example.com",
		ServerURL:    "http://127.0.0.1:8080",
		ReplicaID:    "replica-a",
		RefreshToken: "old",
		Path:         path,
	}
	require.NoError(t, cfg.Save())
	require.NoError(t, cfg.UpdateRefreshToken("new"))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", loaded.RefreshToken)
}

func TestLoadFromFileDefaults(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.json")
	cfg := &Config{
		DataDir: tmp,
		Email:   "alice@example.com",
		Path:    path,
	}
	cfg.ServerURL = ""
	require.NoError(t, cfg.Save())

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultServerURL, loaded.ServerURL)
	assert.NotEmpty(t, loaded.ReplicaID)
	assert.Equal(t, conflict.PolicyAutoMerge, loaded.Policy())
}

func TestDeriveReplicaIDStable(t *testing.T) {
	assert.Equal(t, DeriveReplicaID(), DeriveReplicaID())
	assert.Len(t, DeriveReplicaID(), 16)
}
