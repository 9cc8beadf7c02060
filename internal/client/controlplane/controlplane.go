// Package controlplane is the daemon's local HTTP API. The CLI talks to
// the running daemon through it, since the workspace lock allows only one
// engine per tree.
package controlplane

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/confsync/confsync/internal/client/config"
	"github.com/confsync/confsync/internal/client/sync"
)

type CPServer struct {
	config *CPServerConfig
	server *http.Server
}

func NewCPServer(cpConfig *CPServerConfig, cfg *config.Config, mgr *sync.Manager) (*CPServer, error) {
	if err := cpConfig.Validate(); err != nil {
		return nil, err
	}

	httpServer := &http.Server{
		Addr:    cpConfig.Addr,
		Handler: SetupRoutes(cpConfig, cfg, mgr),
		// timeouts against slow or stuck local clients; writes get a
		// long leash because sync-now waits out a full pass
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return &CPServer{
		config: cpConfig,
		server: httpServer,
	}, nil
}

func (s *CPServer) Start(ctx context.Context) error {
	slog.Info("control plane start", "addr", fmt.Sprintf("http://%s", s.config.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control plane listen: %w", err)
	}
	return nil
}

func (s *CPServer) Stop(ctx context.Context) error {
	slog.Info("control plane stop")
	return s.server.Shutdown(ctx)
}
