package relay

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/confsync/confsync/internal/blob"
	"github.com/confsync/confsync/internal/relay/api"
)

type ChunkHandler struct {
	blob *blob.Service
}

func NewChunkHandler(blobSvc *blob.Service) *ChunkHandler {
	return &ChunkHandler{blob: blobSvc}
}

type UploadChunkResponse struct {
	Hash  string `json:"hash"`
	Index int    `json:"index"`
}

// RegisterContentRequest finalizes an upload once every chunk is stored.
// Size zero with zero chunks is a valid empty content.
type RegisterContentRequest struct {
	Size   int64 `json:"size"`
	Chunks int   `json:"chunks"`
}

// Upload stores one chunk of a content upload. The body is the raw chunk.
func (h *ChunkHandler) Upload(ctx *gin.Context) {
	hash := ctx.Param("hash")
	index, err := strconv.Atoi(ctx.Param("index"))
	if err != nil || index < 0 {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid chunk index %q", ctx.Param("index")))
		return
	}

	size := ctx.Request.ContentLength
	if q := ctx.Query("size"); q != "" {
		if size, err = strconv.ParseInt(q, 10, 64); err != nil {
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid chunk size %q", q))
			return
		}
	}

	if err := h.blob.PutChunk(ctx, hash, index, ctx.Request.Body, size); err != nil {
		if errors.Is(err, blob.ErrChunkTooLarge) {
			api.AbortWithError(ctx, http.StatusRequestEntityTooLarge, api.CodeChunkTooLarge, err)
		} else {
			api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeChunkPutFailed, err)
		}
		return
	}

	ctx.PureJSON(http.StatusOK, &UploadChunkResponse{Hash: hash, Index: index})
}

// Download streams one stored chunk.
func (h *ChunkHandler) Download(ctx *gin.Context) {
	hash := ctx.Param("hash")
	index, err := strconv.Atoi(ctx.Param("index"))
	if err != nil || index < 0 {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid chunk index %q", ctx.Param("index")))
		return
	}

	body, size, err := h.blob.GetChunk(ctx, hash, index)
	if err != nil {
		if errors.Is(err, blob.ErrChunkMissing) {
			api.AbortWithError(ctx, http.StatusNotFound, api.CodeChunkNotFound, err)
		} else {
			api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		}
		return
	}
	defer body.Close()

	ctx.DataFromReader(http.StatusOK, size, "application/octet-stream", body, nil)
}

// Stat answers whether the relay already holds the full content, so clients
// can skip uploads of deduplicated data.
func (h *ChunkHandler) Stat(ctx *gin.Context) {
	hash := ctx.Param("hash")

	ok, err := h.blob.HasContent(ctx, hash)
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}
	if !ok {
		ctx.Status(http.StatusNotFound)
		return
	}
	ctx.Status(http.StatusOK)
}

// Register verifies and indexes an upload whose chunks are all stored.
func (h *ChunkHandler) Register(ctx *gin.Context) {
	hash := ctx.Param("hash")

	var req RegisterContentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("failed to bind json: %w", err))
		return
	}

	if err := h.blob.Register(ctx, hash, req.Size, req.Chunks); err != nil {
		var verifyErr *blob.VerifyError
		switch {
		case errors.Is(err, blob.ErrChunkMissing):
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeChunkNotFound, err)
		case errors.Is(err, blob.ErrChunkCountMismatch):
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeContentInvalid, err)
		case errors.As(err, &verifyErr):
			api.AbortWithError(ctx, http.StatusUnprocessableEntity, api.CodeContentInvalid, err)
		default:
			api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeContentInvalid, err)
		}
		return
	}

	info, ok := h.blob.Content(hash)
	if !ok {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, fmt.Errorf("content %.8s vanished after register", hash))
		return
	}
	ctx.PureJSON(http.StatusOK, info)
}
