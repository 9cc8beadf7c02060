package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/confsync/confsync/internal/client/controlplane"
	"github.com/stretchr/testify/require"
)

func TestControlClient_SendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	}))
	defer srv.Close()

	cp := &controlClient{baseURL: srv.URL, token: "sesame", http: srv.Client()}

	var st controlplane.DaemonStatus
	require.NoError(t, cp.get(context.Background(), "/v1/status", &st))
	require.Equal(t, "Bearer sesame", gotAuth)
	require.Equal(t, "ok", st.Status)
}

func TestControlClient_DecodesControlPlaneError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"code":"ERR_PASS_RUNNING","error":"a sync pass is already running"}`)
	}))
	defer srv.Close()

	cp := &controlClient{baseURL: srv.URL, http: srv.Client()}

	err := cp.post(context.Background(), "/v1/sync/now", nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "ERR_PASS_RUNNING")
	require.Contains(t, err.Error(), "already running")
}

func TestControlClient_PostsJSONBody(t *testing.T) {
	var gotContentType string
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"path":"app/config.yaml","resolved":true,"pass":{}}`)
	}))
	defer srv.Close()

	cp := &controlClient{baseURL: srv.URL, http: srv.Client()}

	req := &controlplane.ResolveRequest{Path: "app/config.yaml", Policy: "keep-local"}
	var resp controlplane.ResolveResponse
	require.NoError(t, cp.post(context.Background(), "/v1/conflicts/resolve", req, &resp))

	require.Equal(t, "application/json", gotContentType)
	require.JSONEq(t, `{"path":"app/config.yaml","policy":"keep-local"}`, gotBody)
	require.True(t, resp.Resolved)
}

func TestControlClient_ConnectionRefusedHint(t *testing.T) {
	// Grab a free port, then close it so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cp := &controlClient{
		baseURL: "http://" + addr,
		http:    &http.Client{Timeout: 2 * time.Second},
	}

	err = cp.get(context.Background(), "/v1/status", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "daemon not reachable")
}
