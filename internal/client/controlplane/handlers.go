package controlplane

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/confsync/confsync/internal/client/config"
	"github.com/confsync/confsync/internal/client/sync"
	"github.com/confsync/confsync/internal/conflict"
	"github.com/confsync/confsync/internal/version"
)

// handler serves the v1 API off the running daemon's sync manager.
type handler struct {
	cfg *config.Config
	mgr *sync.Manager
}

func newHandler(cfg *config.Config, mgr *sync.Manager) *handler {
	return &handler{cfg: cfg, mgr: mgr}
}

func (h *handler) engine() (*sync.Engine, error) {
	if h.mgr == nil {
		return nil, errors.New("sync manager not running")
	}
	return h.mgr.Engine(), nil
}

func (h *handler) Status(c *gin.Context) {
	engine, err := h.engine()
	if err != nil {
		AbortWithError(c, http.StatusServiceUnavailable, ErrCodeNotReady, err)
		return
	}

	netmon := engine.Connectivity()
	c.PureJSON(http.StatusOK, &DaemonStatus{
		Status:       "ok",
		Timestamp:    time.Now().UTC(),
		Version:      version.Version,
		Revision:     version.Revision,
		BuildDate:    version.BuildDate,
		Email:        h.cfg.Email,
		ServerURL:    h.cfg.ServerURL,
		ReplicaID:    h.cfg.ReplicaID,
		DataDir:      h.cfg.DataDir,
		Connectivity: string(netmon.Status()),
		QueuedPaths:  netmon.Pending(),
		Sync:         summarize(engine.Status().Snapshot()),
	})
}

func (h *handler) SyncStatus(c *gin.Context) {
	engine, err := h.engine()
	if err != nil {
		AbortWithError(c, http.StatusServiceUnavailable, ErrCodeNotReady, err)
		return
	}

	snapshot := engine.Status().Snapshot()
	files := make([]PathStatusInfo, 0, len(snapshot))
	for path, status := range snapshot {
		var errMsg string
		if status.Error != nil {
			errMsg = status.Error.Error()
		}
		files = append(files, PathStatusInfo{
			Path:       path,
			State:      string(status.State),
			Conflicted: status.Conflicted,
			Error:      errMsg,
			ErrorCount: status.ErrorCount,
			UpdatedAt:  status.LastUpdated,
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	c.JSON(http.StatusOK, SyncStatusResponse{
		Files:   files,
		Summary: summarize(snapshot),
	})
}

// SyncEvents streams status changes as server-sent events until the
// client hangs up.
func (h *handler) SyncEvents(c *gin.Context) {
	engine, err := h.engine()
	if err != nil {
		AbortWithError(c, http.StatusServiceUnavailable, ErrCodeNotReady, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	tracker := engine.Status()
	events := tracker.Subscribe()
	defer tracker.Unsubscribe(events)

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-events:
			if !ok {
				return false
			}
			var errMsg string
			if event.Status.Error != nil {
				errMsg = event.Status.Error.Error()
			}
			c.SSEvent("sync", PathStatusInfo{
				Path:       event.Path,
				State:      string(event.Status.State),
				Conflicted: event.Status.Conflicted,
				Error:      errMsg,
				ErrorCount: event.Status.ErrorCount,
				UpdatedAt:  event.Status.LastUpdated,
			})
			return true
		}
	})
}

// SyncNow runs one full pass inline and reports its tallies. A pass
// already in flight is a conflict, not an error.
func (h *handler) SyncNow(c *gin.Context) {
	engine, err := h.engine()
	if err != nil {
		AbortWithError(c, http.StatusServiceUnavailable, ErrCodeNotReady, err)
		return
	}

	summary, err := engine.RunPass(c.Request.Context())
	switch {
	case errors.Is(err, sync.ErrPassRunning):
		AbortWithError(c, http.StatusConflict, ErrCodePassRunning, err)
		return
	case err != nil:
		AbortWithError(c, http.StatusInternalServerError, ErrCodeSyncFailed, err)
		return
	}

	c.JSON(http.StatusOK, passResponse(summary))
}

// Conflicts lists paths deferred for manual resolution. Relay records
// fill in kind and detail when the relay answers; an unreachable relay
// degrades to ids only.
func (h *handler) Conflicts(c *gin.Context) {
	engine, err := h.engine()
	if err != nil {
		AbortWithError(c, http.StatusServiceUnavailable, ErrCodeNotReady, err)
		return
	}

	deferred, err := engine.DeferredConflicts()
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, ErrCodeSyncFailed, err)
		return
	}

	records := make(map[string]*conflict.Conflict)
	if remote, err := h.mgr.SDK().Sync.Conflicts(c.Request.Context()); err != nil {
		slog.Warn("relay conflict records unavailable", "error", err)
	} else {
		for _, rec := range remote {
			records[rec.ID] = rec
		}
	}

	conflicts := make([]ConflictInfo, 0, len(deferred))
	for path, id := range deferred {
		info := ConflictInfo{Path: path, ConflictID: id}
		if rec, ok := records[id]; ok {
			info.Kind = string(rec.Kind)
			info.Detail = rec.Detail
			info.ReportedAt = rec.CreatedAt
		}
		conflicts = append(conflicts, info)
	}
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Path < conflicts[j].Path })

	c.JSON(http.StatusOK, ConflictsResponse{Conflicts: conflicts})
}

func (h *handler) Resolve(c *gin.Context) {
	engine, err := h.engine()
	if err != nil {
		AbortWithError(c, http.StatusServiceUnavailable, ErrCodeNotReady, err)
		return
	}

	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}

	var policy conflict.Policy
	if req.Policy != "" {
		policy, err = conflict.ParsePolicy(req.Policy)
		if err != nil {
			AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
			return
		}
	}

	summary, err := engine.ResolvePath(c.Request.Context(), req.Path, policy)
	if err != nil {
		AbortWithError(c, http.StatusConflict, ErrCodeResolve, err)
		return
	}

	deferred, err := engine.DeferredConflicts()
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, ErrCodeResolve, err)
		return
	}
	_, stillOpen := deferred[req.Path]

	c.JSON(http.StatusOK, ResolveResponse{
		Path:     req.Path,
		Resolved: !stillOpen,
		Pass:     passResponse(summary),
	})
}

func (h *handler) Transfers(c *gin.Context) {
	engine, err := h.engine()
	if err != nil {
		AbortWithError(c, http.StatusServiceUnavailable, ErrCodeNotReady, err)
		return
	}

	jobs := engine.Transfers().Jobs()
	transfers := make([]TransferInfo, 0, len(jobs))
	for _, job := range jobs {
		transfers = append(transfers, TransferInfo{
			ID:             job.ID,
			Path:           job.Path,
			Hash:           job.Hash,
			Direction:      string(job.Direction),
			Status:         string(job.Status()),
			Size:           job.Size,
			Chunks:         job.Chunks,
			Completed:      job.Completed(),
			CompletedBytes: job.CompletedBytes(),
			StartedAt:      job.StartedAt,
		})
	}
	sort.Slice(transfers, func(i, j int) bool { return transfers[i].StartedAt.Before(transfers[j].StartedAt) })

	c.JSON(http.StatusOK, TransfersResponse{Transfers: transfers})
}

func summarize(snapshot map[string]sync.PathStatus) SyncSummary {
	var sum SyncSummary
	for _, status := range snapshot {
		switch status.State {
		case sync.StateComparing:
			sum.Comparing++
		case sync.StateTransferring:
			sum.Transferring++
		case sync.StateResolving:
			sum.Resolving++
		}
		if status.Conflicted {
			sum.Conflicted++
		}
		if status.Error != nil {
			sum.Errored++
		}
	}
	return sum
}

func passResponse(summary *sync.Summary) PassResponse {
	resp := PassResponse{
		Processed:  summary.Processed,
		Succeeded:  summary.Succeeded,
		Failed:     summary.Failed,
		Conflicted: summary.Conflicted,
	}
	if len(summary.Errors) > 0 {
		resp.Errors = make(map[string]string, len(summary.Errors))
		for path, err := range summary.Errors {
			resp.Errors[path] = err.Error()
		}
	}
	return resp
}
