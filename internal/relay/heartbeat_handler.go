package relay

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"github.com/confsync/confsync/internal/relay/api"
	"github.com/confsync/confsync/internal/relay/middleware"
	"github.com/confsync/confsync/internal/relay/ws"
	"github.com/confsync/confsync/internal/wire"
)

type HeartbeatHandler struct {
	store    *SyncStore
	presence *Presence
	hub      *ws.WebsocketHub
}

func NewHeartbeatHandler(store *SyncStore, presence *Presence, hub *ws.WebsocketHub) *HeartbeatHandler {
	return &HeartbeatHandler{store: store, presence: presence, hub: hub}
}

// HeartbeatRequest carries the host stats a replica samples on every beat.
type HeartbeatRequest struct {
	ReplicaID     string `json:"replica_id" binding:"required"`
	Hostname      string `json:"hostname"`
	Platform      string `json:"platform"`
	ClientVersion string `json:"client_version"`
	UptimeSecs    uint64 `json:"uptime_secs"`
	ProcessRSS    uint64 `json:"process_rss"`
}

type HeartbeatResponse struct {
	Status         string    `json:"status"`
	ServerTime     time.Time `json:"server_time"`
	OnlineReplicas []string  `json:"online_replicas"`
}

type ReplicasResponse struct {
	Replicas []*ReplicaInfo `json:"replicas"`
	Online   []string       `json:"online"`
}

// Heartbeat records a replica checking in and refreshes its presence. A
// replica coming back online is announced to every connected client.
func (h *HeartbeatHandler) Heartbeat(ctx *gin.Context) {
	var req HeartbeatRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("failed to bind json: %w", err))
		return
	}

	user := ctx.GetString(middleware.UserContextKey)

	err := h.store.UpsertReplica(&ReplicaInfo{
		ReplicaID:     req.ReplicaID,
		User:          user,
		Hostname:      req.Hostname,
		Platform:      req.Platform,
		ClientVersion: req.ClientVersion,
		LastSeen:      time.Now().UTC(),
	})
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}

	if h.presence.Heartbeat(user, req.ReplicaID) {
		h.hub.Broadcast(wire.NewPresence(req.ReplicaID, true))
	}

	slog.Debug("heartbeat",
		"user", user,
		"replica", req.ReplicaID,
		"host", req.Hostname,
		"platform", req.Platform,
		"uptime", time.Duration(req.UptimeSecs)*time.Second,
		"rss", humanize.IBytes(req.ProcessRSS))

	ctx.PureJSON(http.StatusOK, &HeartbeatResponse{
		Status:         "ok",
		ServerTime:     time.Now().UTC(),
		OnlineReplicas: h.presence.Online(user),
	})
}

// Replicas lists every replica the relay has ever seen, plus which of the
// user's replicas are online right now.
func (h *HeartbeatHandler) Replicas(ctx *gin.Context) {
	user := ctx.GetString(middleware.UserContextKey)

	replicas, err := h.store.Replicas()
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}
	if replicas == nil {
		replicas = []*ReplicaInfo{}
	}

	ctx.PureJSON(http.StatusOK, &ReplicasResponse{
		Replicas: replicas,
		Online:   h.presence.Online(user),
	})
}
