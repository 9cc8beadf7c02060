package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gin-gonic/gin"

	"github.com/confsync/confsync/internal/conflict"
	"github.com/confsync/confsync/internal/history"
	"github.com/confsync/confsync/internal/relay/api"
	"github.com/confsync/confsync/internal/relay/middleware"
	"github.com/confsync/confsync/internal/relay/ws"
	"github.com/confsync/confsync/internal/wire"
)

const (
	defaultChangesLimit = 500
	maxChangesLimit     = 1000
)

type SyncHandler struct {
	store *SyncStore
	hub   *ws.WebsocketHub
}

func NewSyncHandler(store *SyncStore, hub *ws.WebsocketHub) *SyncHandler {
	return &SyncHandler{store: store, hub: hub}
}

// ReportRequest is a batch of versions a replica wants the relay to accept.
type ReportRequest struct {
	ReplicaID string                `json:"replica_id" binding:"required"`
	Versions  []history.FileVersion `json:"versions" binding:"required"`
}

type ReportResponse struct {
	Results []*ReportResult `json:"results"`
}

type ChangesResponse struct {
	Versions  []*history.FileVersion `json:"versions"`
	NextSince int64                  `json:"next_since"`
}

type ConflictsResponse struct {
	Conflicts []*conflict.Conflict `json:"conflicts"`
}

// ResolveConflictRequest closes a conflict with a chosen outcome.
type ResolveConflictRequest struct {
	Outcome      string `json:"outcome" binding:"required"`
	ResolvedHash string `json:"resolved_hash"`
}

// Report runs each version through the relay's accept/duplicate/conflict
// decision. Accepted versions fan out to the owner's other online replicas;
// conflicts notify every connection of the user. One bad version never
// blocks the rest of the batch.
func (h *SyncHandler) Report(ctx *gin.Context) {
	var req ReportRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("failed to bind json: %w", err))
		return
	}

	user := ctx.GetString(middleware.UserContextKey)

	results := make([]*ReportResult, 0, len(req.Versions))
	for i := range req.Versions {
		v := req.Versions[i]
		if v.ReplicaID == "" {
			v.ReplicaID = req.ReplicaID
		}
		if v.CreatedAt.IsZero() {
			v.CreatedAt = time.Now().UTC()
		}

		result, err := h.store.Report(&v)
		if err != nil {
			api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeSyncReportFailed, err)
			return
		}
		results = append(results, result)

		switch result.Status {
		case ReportAccepted:
			slog.Info("sync accepted", "user", user, "replica", req.ReplicaID, "path", v.Path, "version", v.VersionNumber, "seq", result.Version.Seq)
			h.hub.BroadcastFiltered(wire.NewChange(*result.Version), func(info *ws.ClientInfo) bool {
				return info.ReplicaID != req.ReplicaID
			})

		case ReportConflict:
			slog.Warn("sync conflict", "user", user, "replica", req.ReplicaID, "path", v.Path, "version", v.VersionNumber, "conflictId", result.ConflictID)
			if record, err := h.store.ConflictByID(result.ConflictID); err == nil && record != nil {
				h.hub.SendMessageUser(user, wire.NewConflictNotice(record.ID, record.Path, string(record.Kind), string(record.Outcome)))
			}
		}
	}

	ctx.PureJSON(http.StatusOK, &ReportResponse{Results: results})
}

// Changes streams the global version feed from a seq cursor, optionally
// narrowed to a doublestar path pattern.
func (h *SyncHandler) Changes(ctx *gin.Context) {
	since, err := strconv.ParseInt(ctx.DefaultQuery("since", "0"), 10, 64)
	if err != nil || since < 0 {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeSyncInvalidCursor, fmt.Errorf("invalid since cursor %q", ctx.Query("since")))
		return
	}

	limit, err := strconv.Atoi(ctx.DefaultQuery("limit", strconv.Itoa(defaultChangesLimit)))
	if err != nil || limit <= 0 {
		limit = defaultChangesLimit
	}
	if limit > maxChangesLimit {
		limit = maxChangesLimit
	}

	pattern := ctx.Query("pattern")
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid path pattern %q", pattern))
		return
	}

	versions, next, err := h.store.Changes(since, pattern, limit)
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}
	if versions == nil {
		versions = []*history.FileVersion{}
	}

	ctx.PureJSON(http.StatusOK, &ChangesResponse{Versions: versions, NextSince: next})
}

// Conflicts lists every open conflict record.
func (h *SyncHandler) Conflicts(ctx *gin.Context) {
	records, err := h.store.OpenConflicts()
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}
	if records == nil {
		records = []*conflict.Conflict{}
	}
	ctx.PureJSON(http.StatusOK, &ConflictsResponse{Conflicts: records})
}

// ResolveConflict closes a record and tells every connected replica of the
// user how it was settled.
func (h *SyncHandler) ResolveConflict(ctx *gin.Context) {
	id := ctx.Param("id")

	var req ResolveConflictRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("failed to bind json: %w", err))
		return
	}

	outcome, err := conflict.ParseOutcome(req.Outcome)
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	record, err := h.store.ResolveConflict(id, outcome, req.ResolvedHash)
	if err != nil {
		if errors.Is(err, ErrConflictNotFound) {
			api.AbortWithError(ctx, http.StatusNotFound, api.CodeConflictNotFound, err)
		} else {
			api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeConflictResolution, err)
		}
		return
	}

	slog.Info("conflict resolved", "conflictId", record.ID, "path", record.Path, "outcome", record.Outcome)
	h.hub.Broadcast(wire.NewConflictNotice(record.ID, record.Path, string(record.Kind), string(record.Outcome)))

	ctx.PureJSON(http.StatusOK, record)
}
