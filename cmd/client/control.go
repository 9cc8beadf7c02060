package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/confsync/confsync/internal/client/controlplane"
	"github.com/spf13/cobra"
)

// controlClient talks to the running daemon's control plane. Subcommands
// use it instead of spinning up a second engine, since the workspace lock
// allows only one engine per tree.
type controlClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newControlClient(cmd *cobra.Command) (*controlClient, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return &controlClient{
		baseURL: strings.TrimRight(cfg.ClientURL, "/"),
		token:   cfg.ClientToken,
		http:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *controlClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *controlClient) post(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *controlClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return fmt.Errorf("daemon not reachable at %s, is `confsync` running?", c.baseURL)
		}
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var cpErr controlplane.CPError
		if jsonErr := json.Unmarshal(data, &cpErr); jsonErr == nil && cpErr.Error != "" {
			return fmt.Errorf("%s: %s", cpErr.ErrorCode, cpErr.Error)
		}
		return fmt.Errorf("control plane returned %s", resp.Status)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
