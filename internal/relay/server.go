package relay

import (
	"context"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/confsync/confsync/internal/db"
	"github.com/confsync/confsync/internal/relay/ws"
	"github.com/confsync/confsync/internal/wire"
)

const presenceSweepPeriod = 30 * time.Second

type Server struct {
	config   *Config
	server   *http.Server
	hub      *ws.WebsocketHub
	services *Services
	db       *sqlx.DB
}

func New(config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var database *sqlx.DB
	var err error
	if config.DBPath != "" {
		database, err = db.NewSqliteDB(db.WithPath(config.DBPath))
	} else {
		slog.Warn("no db path configured, state will not survive restarts")
		database, err = db.NewSqliteDB(db.WithMaxOpenConns(1))
	}
	if err != nil {
		return nil, err
	}

	services, err := NewServices(config, database)
	if err != nil {
		database.Close()
		return nil, err
	}

	hub := ws.NewHub()
	hub.OnConnect = func(info *ws.ClientInfo) {
		if services.Presence.Connect(info.User, info.ReplicaID) {
			hub.Broadcast(wire.NewPresence(info.ReplicaID, true))
		}
	}
	hub.OnDisconnect = func(info *ws.ClientInfo) {
		if services.Presence.Disconnect(info.User, info.ReplicaID) {
			hub.Broadcast(wire.NewPresence(info.ReplicaID, false))
		}
	}

	return &Server{
		config:   config,
		hub:      hub,
		services: services,
		db:       database,
		server: &http.Server{
			Addr:    config.HTTP.Addr,
			Handler: SetupRoutes(services, hub),
		},
	}, nil
}

// Start runs the relay until ctx is cancelled, then shuts it down.
func (s *Server) Start(ctx context.Context) error {
	slog.Info("relay start", "addr", s.config.HTTP.Addr)
	defer slog.Info("relay stop")

	if err := s.services.Start(ctx); err != nil {
		return err
	}

	go s.hub.Run(ctx)
	go s.runPresenceSweeper(ctx)

	go func() {
		if err := s.runHttpServer(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	var workerWg sync.WaitGroup
	numWorkers := runtime.NumCPU()
	workerWg.Add(numWorkers)
	slog.Info("message handlers start", "count", numWorkers)
	for range numWorkers {
		go func() {
			defer workerWg.Done()
			s.handleSocketMessages(ctx)
		}()
	}

	<-ctx.Done()
	workerWg.Wait()
	slog.Info("relay shutdown signal")
	if err := s.Stop(context.Background()); err != nil {
		slog.Error("relay shutdown error", "error", err)
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	s.hub.Shutdown(ctx)

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return s.db.Close()
}

func (s *Server) runHttpServer() error {
	if s.config.HTTP.CertFile != "" && s.config.HTTP.KeyFile != "" {
		slog.Info("server start tls", "addr", s.config.HTTP.Addr, "cert", s.config.HTTP.CertFile, "key", s.config.HTTP.KeyFile)
		return s.server.ListenAndServeTLS(s.config.HTTP.CertFile, s.config.HTTP.KeyFile)
	}
	slog.Info("server start http", "addr", s.config.HTTP.Addr)
	return s.server.ListenAndServe()
}

func (s *Server) runPresenceSweeper(ctx context.Context) {
	ticker := time.NewTicker(presenceSweepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, tr := range s.services.Presence.Sweep(time.Now()) {
				slog.Info("replica offline", "user", tr.User, "replica", tr.ReplicaID)
				s.hub.Broadcast(wire.NewPresence(tr.ReplicaID, false))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleSocketMessages(ctx context.Context) {
	for {
		select {
		case msg := <-s.hub.Messages():
			s.onMessage(msg)

		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) onMessage(msg *ws.ClientMessage) {
	switch msg.Message.Type {
	case wire.MsgAck:
		slog.Debug("client ack", "connId", msg.ConnID, "msgId", msg.Message.Id)

	case wire.MsgNack:
		data, _ := msg.Message.Data.(wire.Nack)
		slog.Warn("client nack", "connId", msg.ConnID, "user", msg.ClientInfo.User, "originalId", data.OriginalId, "error", data.Error)

	case wire.MsgPresence:
		// replicas may ping presence over the socket between heartbeats
		if data, ok := msg.Message.Data.(wire.Presence); ok && data.Online {
			if s.services.Presence.Heartbeat(msg.ClientInfo.User, data.ReplicaID) {
				s.hub.Broadcast(wire.NewPresence(data.ReplicaID, true))
			}
		}

	default:
		slog.Info("unhandled message", "msgType", msg.Message.Type, "connId", msg.ConnID)
	}
}
