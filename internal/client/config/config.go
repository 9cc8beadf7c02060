// Package config holds the client-side configuration file. The file lives
// outside the synced tree so that syncing never touches its own settings.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/confsync/confsync/internal/conflict"
	"github.com/confsync/confsync/internal/utils"
)

var (
	home, _            = os.UserHomeDir()
	DefaultConfigPath  = filepath.Join(home, ".confsync", "config.json")
	DefaultLogFilePath = filepath.Join(home, ".confsync", "logs", "client.log")
	DefaultDataDir     = filepath.Join(home, "ConfSync")
	DefaultServerURL   = "https://relay.confsync.net"

	// DefaultClientURL is where the daemon's control plane listens and
	// where CLI subcommands reach it.
	DefaultClientURL = "http://localhost:7438"
)

type Config struct {
	DataDir        string `json:"data_dir"`
	Email          string `json:"email"`
	ServerURL      string `json:"server_url"`
	ClientURL      string `json:"client_url,omitempty"`
	ClientToken    string `json:"client_token,omitempty"`
	ReplicaID      string `json:"replica_id"`
	RefreshToken   string `json:"refresh_token,omitempty"`
	ConflictPolicy string `json:"conflict_policy,omitempty"`

	// Path is where this config was loaded from and where Save writes it.
	Path string `json:"-"`
}

func Default() *Config {
	return &Config{
		DataDir:        DefaultDataDir,
		ServerURL:      DefaultServerURL,
		ClientURL:      DefaultClientURL,
		ReplicaID:      DeriveReplicaID(),
		ConflictPolicy: string(conflict.PolicyAutoMerge),
		Path:           DefaultConfigPath,
	}
}

// DeriveReplicaID builds a stable machine-bound replica identity. The same
// machine always derives the same id, so reinstalls resume the same chain.
func DeriveReplicaID() string {
	return utils.HWID[:16]
}

func LoadFromFile(path string) (*Config, error) {
	resolved, err := utils.ResolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %q: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", resolved, err)
	}

	cfg.Path = resolved
	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
	}
	if cfg.ClientURL == "" {
		cfg.ClientURL = DefaultClientURL
	}
	if cfg.ReplicaID == "" {
		cfg.ReplicaID = DeriveReplicaID()
	}
	if cfg.ConflictPolicy == "" {
		cfg.ConflictPolicy = string(conflict.PolicyAutoMerge)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("config path is not set")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir is not set")
	}
	if err := utils.ValidateEmail(c.Email); err != nil {
		return fmt.Errorf("invalid email: %w", err)
	}
	if err := utils.ValidateURL(c.ServerURL); err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}
	if c.ClientURL != "" {
		if err := utils.ValidateURL(c.ClientURL); err != nil {
			return fmt.Errorf("invalid client url: %w", err)
		}
	}
	if c.ReplicaID == "" {
		return fmt.Errorf("replica id is not set")
	}
	if c.ConflictPolicy != "" {
		if _, err := conflict.ParsePolicy(c.ConflictPolicy); err != nil {
			return fmt.Errorf("invalid conflict policy: %w", err)
		}
	}

	dataDir, err := utils.ResolvePath(c.DataDir)
	if err != nil {
		return fmt.Errorf("resolve data dir %q: %w", c.DataDir, err)
	}
	c.DataDir = dataDir
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	return nil
}

// Save writes the config to its Path. The file carries the refresh token,
// so it is never group or world readable.
func (c *Config) Save() error {
	if c.Path == "" {
		return fmt.Errorf("config path is not set")
	}
	if err := utils.EnsureParent(c.Path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return utils.WriteFileAtomic(c.Path, data, 0600)
}

// UpdateRefreshToken persists a rotated refresh token so a restart after
// token rotation does not force a fresh login.
func (c *Config) UpdateRefreshToken(token string) error {
	c.RefreshToken = token
	if err := c.Save(); err != nil {
		return fmt.Errorf("persist refresh token: %w", err)
	}
	slog.Debug("refresh token persisted", "path", c.Path)
	return nil
}

func (c *Config) Policy() conflict.Policy {
	p, err := conflict.ParsePolicy(c.ConflictPolicy)
	if err != nil {
		return conflict.PolicyAutoMerge
	}
	return p
}

func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("data_dir", c.DataDir),
		slog.String("email", c.Email),
		slog.String("server_url", c.ServerURL),
		slog.String("client_url", c.ClientURL),
		slog.String("replica_id", c.ReplicaID),
		slog.String("refresh_token", utils.MaskSecret(c.RefreshToken)),
	)
}
