// Package client assembles a replica daemon: the workspace, the relay
// SDK, the sync manager, the local control plane and the heartbeat loop.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/confsync/confsync/internal/client/config"
	"github.com/confsync/confsync/internal/client/controlplane"
	"github.com/confsync/confsync/internal/client/sync"
	"github.com/confsync/confsync/internal/client/workspace"
	"github.com/confsync/confsync/internal/relaysdk"
)

const shutdownTimeout = 10 * time.Second

// ErrNotLoggedIn means no usable credentials exist for a relay that
// wants them.
var ErrNotLoggedIn = errors.New("not logged in, run `confsync login` first")

type Daemon struct {
	config  *config.Config
	ws      *workspace.Workspace
	sdk     *relaysdk.SDK
	sync    *sync.Manager
	control *controlplane.CPServer
}

func NewDaemon(cfg *config.Config, cpConfig *controlplane.CPServerConfig) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if relaysdk.AuthRequired(cfg.ServerURL) && cfg.RefreshToken == "" {
		return nil, ErrNotLoggedIn
	}

	ws, err := workspace.NewWorkspace(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	// Setup takes the workspace lock, so a second daemon on the same
	// tree fails here instead of fighting over the journal
	if err := ws.Setup(); err != nil {
		return nil, err
	}

	sdk, err := relaysdk.New(&relaysdk.Config{
		BaseURL:      cfg.ServerURL,
		Email:        cfg.Email,
		ReplicaID:    cfg.ReplicaID,
		RefreshToken: cfg.RefreshToken,
		OnTokensRefreshed: func(tokens *relaysdk.TokenResponse) {
			if err := cfg.UpdateRefreshToken(tokens.RefreshToken); err != nil {
				slog.Warn("cannot persist rotated refresh token", "error", err)
			}
		},
	})
	if err != nil {
		ws.Unlock()
		return nil, fmt.Errorf("create relay sdk: %w", err)
	}

	mgr, err := sync.NewManager(ws, sdk, cfg.Policy())
	if err != nil {
		sdk.Close()
		ws.Unlock()
		return nil, err
	}

	control, err := controlplane.NewCPServer(cpConfig, cfg, mgr)
	if err != nil {
		sdk.Close()
		ws.Unlock()
		return nil, err
	}

	return &Daemon{
		config:  cfg,
		ws:      ws,
		sdk:     sdk,
		sync:    mgr,
		control: control,
	}, nil
}

// Start runs the daemon until ctx is cancelled. A dead refresh token is
// reported but does not stop the boot; the engine retries relay calls on
// its own schedule.
func (d *Daemon) Start(ctx context.Context) error {
	slog.Info("daemon start", "config", d.config)

	if err := d.sdk.EnsureFreshTokens(ctx); err != nil {
		slog.Warn("token refresh failed, relay calls may be rejected", "error", err)
	}

	eg, egCtx := errgroup.WithContext(ctx)

	if err := d.sync.Start(egCtx); err != nil {
		d.Stop(context.Background())
		return fmt.Errorf("start sync manager: %w", err)
	}

	eg.Go(func() error {
		if err := d.control.Start(egCtx); err != nil {
			return fmt.Errorf("start control plane: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		d.runHeartbeat(egCtx)
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("daemon shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return d.Stop(shutdownCtx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("daemon failure", "error", err)
		return err
	}

	slog.Info("daemon stopped")
	return nil
}

// Stop tears the daemon down in dependency order: control plane first so
// no new work arrives, then sync, then the relay connection, and the
// workspace lock last.
func (d *Daemon) Stop(ctx context.Context) error {
	var firstErr error

	if err := d.control.Stop(ctx); err != nil {
		firstErr = fmt.Errorf("stop control plane: %w", err)
	}
	if err := d.sync.Stop(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("stop sync manager: %w", err)
	}
	d.sdk.Close()
	if err := d.ws.Unlock(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("unlock workspace: %w", err)
	}

	return firstErr
}
