package relaysdk

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/imroc/req/v3"

	"github.com/confsync/confsync/internal/transfer"
)

const (
	v1Chunks = "/api/v1/chunks"
)

// ChunksAPI is chunk-granular access to the relay's content-addressed
// byte store. It is the remote half of a transfer.
type ChunksAPI struct {
	client *req.Client
}

var _ transfer.Transport = (*ChunksAPI)(nil)

func newChunksAPI(client *req.Client) *ChunksAPI {
	return &ChunksAPI{
		client: client,
	}
}

// HasContent reports whether the relay already holds the full content.
func (c *ChunksAPI) HasContent(ctx context.Context, hash string) (bool, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		Head(v1Chunks + "/" + hash)

	if err != nil {
		return false, fmt.Errorf("http request error: chunk stat %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.IsErrorState() {
		return false, fmt.Errorf("chunk stat %.8s: unexpected status %s", hash, resp.Status)
	}
	return true, nil
}

// UploadChunk stores one chunk of a version's content. Re-sending a
// chunk the relay already has is a no-op server side.
func (c *ChunksAPI) UploadChunk(ctx context.Context, ref transfer.ChunkRef, data []byte) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetContentType("application/octet-stream").
		SetQueryParam("size", strconv.Itoa(len(data))).
		SetBodyBytes(data).
		Put(fmt.Sprintf("%s/%s/%d", v1Chunks, ref.Hash, ref.Index))

	return handleAPIError(resp, err, "chunk upload "+ref.String())
}

// DownloadChunk fetches one chunk of a version's content.
func (c *ChunksAPI) DownloadChunk(ctx context.Context, ref transfer.ChunkRef) ([]byte, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		Get(fmt.Sprintf("%s/%s/%d", v1Chunks, ref.Hash, ref.Index))

	if err := handleAPIError(resp, err, "chunk download "+ref.String()); err != nil {
		return nil, err
	}

	return resp.Bytes(), nil
}

// RegisterContent finalizes an upload once every chunk is stored. The
// relay reassembles and verifies the content against hash before
// admitting it.
func (c *ChunksAPI) RegisterContent(ctx context.Context, hash string, size int64, chunks int) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(&RegisterContentParams{Size: size, Chunks: chunks}).
		Post(fmt.Sprintf("%s/%s/complete", v1Chunks, hash))

	return handleAPIError(resp, err, fmt.Sprintf("chunk register %.8s", hash))
}

// RegisterContentParams declares the shape of a fully uploaded content.
type RegisterContentParams struct {
	Size   int64 `json:"size"`
	Chunks int   `json:"chunks"`
}
