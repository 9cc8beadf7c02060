//go:build integration
// +build integration

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/confsync/confsync/internal/client/controlplane"
)

// stackHarness boots a full stack (MinIO, relay, N replica daemons of one
// account) inside t.TempDir and tears it down with the test.
type stackHarness struct {
	t         *testing.T
	root      string
	infraRoot string
	state     *stackState
	reps      []*replicaHelper
}

// replicaHelper wraps one running daemon with tree and control plane access.
type replicaHelper struct {
	t       *testing.T
	name    string
	state   replicaState
	dataDir string
	baseURL string
}

func skipUnlessIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if runtime.GOOS == "windows" {
		t.Skip("skipping devstack integration on Windows runner")
	}
}

// newStackHarness builds both binaries, boots the stack and waits until
// every replica's control plane answers. extraEnv is appended to each
// daemon's environment, which is how tests override the conflict policy.
func newStackHarness(t *testing.T, names []string, extraEnv []string) *stackHarness {
	t.Helper()

	root, err := filepath.Abs(filepath.Join(t.TempDir(), "stack"))
	if err != nil {
		t.Fatalf("resolve root: %v", err)
	}
	infraRoot := filepath.Join(root, infraDir)
	binDir := filepath.Join(infraRoot, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("create bin dir: %v", err)
	}

	repoRoot, err := filepath.Abs(filepath.Join(".", "..", ".."))
	if err != nil {
		t.Fatalf("find repo root: %v", err)
	}

	relayBin := addExe(filepath.Join(binDir, "confsync-relay"))
	clientBin := addExe(filepath.Join(binDir, "confsync"))

	t.Logf("Building binaries...")
	if err := buildBinary(relayBin, filepath.Join(repoRoot, "cmd", "relay"), relayBuildTags); err != nil {
		t.Fatalf("build relay: %v", err)
	}
	if err := buildBinary(clientBin, filepath.Join(repoRoot, "cmd", "client"), clientBuildTags); err != nil {
		t.Fatalf("build client: %v", err)
	}

	relayPort, _ := getFreePort()
	minioAPIPort, _ := getFreePort()
	minioConsolePort, _ := getFreePort()
	for minioConsolePort == minioAPIPort {
		minioConsolePort, _ = getFreePort()
	}

	t.Logf("Starting MinIO...")
	minioBin, err := ensureMinioBinary(binDir)
	if err != nil {
		t.Fatalf("minio binary unavailable: %v", err)
	}
	mState, err := startMinio("local", minioBin, infraRoot, minioAPIPort, minioConsolePort, false)
	if err != nil {
		t.Fatalf("start minio: %v", err)
	}
	t.Cleanup(func() { stopMinio(mState) })

	if err := setupBucket(mState.APIPort); err != nil {
		t.Fatalf("minio bootstrap: %v", err)
	}

	t.Logf("Starting relay on port %d...", relayPort)
	rState, err := startRelay(relayBin, infraRoot, relayPort, mState.APIPort)
	if err != nil {
		t.Fatalf("start relay: %v", err)
	}
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", relayPort)
	if err := waitForRelay(relayPort, 20*time.Second); err != nil {
		t.Fatalf("relay not healthy: %v", err)
	}

	h := &stackHarness{
		t:         t,
		root:      root,
		infraRoot: infraRoot,
		state: &stackState{
			Root:    root,
			Email:   defaultEmail,
			Relay:   rState,
			Minio:   mState,
			Created: time.Now().UTC(),
		},
	}
	t.Cleanup(func() {
		for _, rep := range h.state.Replicas {
			_ = killProcess(rep.PID)
		}
		_ = killProcess(h.state.Relay.PID)
	})

	t.Logf("Starting %d replicas...", len(names))
	for _, name := range names {
		port, _ := getFreePort()
		rep, err := startReplica(clientBin, root, name, defaultEmail, serverURL, port, extraEnv)
		if err != nil {
			t.Fatalf("start replica %s: %v", name, err)
		}
		h.state.Replicas = append(h.state.Replicas, rep)
		h.reps = append(h.reps, &replicaHelper{
			t:       t,
			name:    name,
			state:   rep,
			dataDir: rep.DataPath,
			baseURL: fmt.Sprintf("http://127.0.0.1:%d", rep.Port),
		})
	}

	if err := writeState(filepath.Join(infraRoot, stateFileName), h.state); err != nil {
		t.Logf("write state: %v", err)
	}

	for _, rep := range h.reps {
		if err := waitForReplica(rep.state.Port, 30*time.Second); err != nil {
			t.Fatalf("replica %s control plane not ready: %v\n%s", rep.name, err, tailFile(rep.state.LogPath))
		}
	}

	return h
}

// stopReplica kills one daemon, leaving its tree and config in place.
func (h *stackHarness) stopReplica(rep *replicaHelper) {
	h.t.Helper()
	h.t.Logf("Stopping replica %s (pid %d)", rep.name, rep.state.PID)
	if err := killProcess(rep.state.PID); err != nil {
		h.t.Fatalf("stop replica %s: %v", rep.name, err)
	}
}

// restartReplica boots a stopped replica again under the same name, so it
// resumes the same replica identity and journal.
func (h *stackHarness) restartReplica(rep *replicaHelper, extraEnv []string) {
	h.t.Helper()
	clientBin := rep.state.BinPath
	serverURL := rep.state.ServerURL
	state, err := startReplica(clientBin, h.root, rep.name, defaultEmail, serverURL, rep.state.Port, extraEnv)
	if err != nil {
		h.t.Fatalf("restart replica %s: %v", rep.name, err)
	}
	rep.state = state
	for i := range h.state.Replicas {
		if h.state.Replicas[i].Name == rep.name {
			h.state.Replicas[i] = state
		}
	}
	if err := waitForReplica(state.Port, 30*time.Second); err != nil {
		h.t.Fatalf("replica %s not ready after restart: %v", rep.name, err)
	}
}

// restartRelay boots the relay again on the same port and database.
func (h *stackHarness) restartRelay() {
	h.t.Helper()
	rState, err := startRelay(h.state.Relay.BinPath, h.infraRoot, h.state.Relay.Port, h.state.Minio.APIPort)
	if err != nil {
		h.t.Fatalf("restart relay: %v", err)
	}
	h.state.Relay = rState
	if err := waitForRelay(rState.Port, 20*time.Second); err != nil {
		h.t.Fatalf("relay not healthy after restart: %v", err)
	}
}

// write puts content into the replica's tree, creating parents.
func (r *replicaHelper) write(rel string, content []byte) {
	r.t.Helper()
	full := filepath.Join(r.dataDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		r.t.Fatalf("%s: mkdir for %s: %v", r.name, rel, err)
	}
	if err := os.WriteFile(full, content, 0o644); err != nil {
		r.t.Fatalf("%s: write %s: %v", r.name, rel, err)
	}
	r.t.Logf("%s wrote %s (%d bytes)", r.name, rel, len(content))
}

func (r *replicaHelper) read(rel string) []byte {
	r.t.Helper()
	data, err := r.tryRead(rel)
	if err != nil {
		r.t.Fatalf("%s: read %s: %v", r.name, rel, err)
	}
	return data
}

// tryRead is the non-fatal read used inside poll loops.
func (r *replicaHelper) tryRead(rel string) ([]byte, error) {
	return os.ReadFile(filepath.Join(r.dataDir, filepath.FromSlash(rel)))
}

func (r *replicaHelper) remove(rel string) {
	r.t.Helper()
	if err := os.Remove(filepath.Join(r.dataDir, filepath.FromSlash(rel))); err != nil {
		r.t.Fatalf("%s: remove %s: %v", r.name, rel, err)
	}
	r.t.Logf("%s removed %s", r.name, rel)
}

// waitForBytes polls until the path holds exactly want.
func (r *replicaHelper) waitForBytes(rel string, want []byte, timeout time.Duration) {
	r.t.Helper()
	full := filepath.Join(r.dataDir, filepath.FromSlash(rel))
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(full)
		if err == nil && bytes.Equal(data, want) {
			r.t.Logf("%s converged on %s", r.name, rel)
			return
		}
		time.Sleep(250 * time.Millisecond)
	}
	r.t.Fatalf("%s: %s did not converge within %s", r.name, rel, timeout)
}

// waitGone polls until the path no longer exists.
func (r *replicaHelper) waitGone(rel string, timeout time.Duration) {
	r.t.Helper()
	full := filepath.Join(r.dataDir, filepath.FromSlash(rel))
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(full); os.IsNotExist(err) {
			r.t.Logf("%s saw %s deleted", r.name, rel)
			return
		}
		time.Sleep(250 * time.Millisecond)
	}
	r.t.Fatalf("%s: %s still present after %s", r.name, rel, timeout)
}

// triggerSync asks the daemon for an immediate pass. Best effort: a pass
// already running answers 409 and the background interval covers the rest.
func (r *replicaHelper) triggerSync() {
	r.t.Helper()
	client := &http.Client{Timeout: 90 * time.Second}
	if err := postWithRetry(client, r.baseURL+"/v1/sync/now", "{}", 3, time.Second); err != nil {
		r.t.Logf("%s: sync trigger: %v", r.name, err)
	}
}

func (r *replicaHelper) status() controlplane.DaemonStatus {
	r.t.Helper()
	var out controlplane.DaemonStatus
	r.getJSON("/v1/status", &out)
	return out
}

func (r *replicaHelper) conflicts() []controlplane.ConflictInfo {
	r.t.Helper()
	var out controlplane.ConflictsResponse
	r.getJSON("/v1/conflicts", &out)
	return out.Conflicts
}

func (r *replicaHelper) resolve(path, policy string) controlplane.ResolveResponse {
	r.t.Helper()
	body, _ := json.Marshal(controlplane.ResolveRequest{Path: path, Policy: policy})
	req, err := http.NewRequest(http.MethodPost, r.baseURL+"/v1/conflicts/resolve", bytes.NewReader(body))
	if err != nil {
		r.t.Fatalf("%s: build resolve request: %v", r.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: 90 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		r.t.Fatalf("%s: resolve %s: %v", r.name, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var cpErr controlplane.CPError
		_ = json.NewDecoder(resp.Body).Decode(&cpErr)
		r.t.Fatalf("%s: resolve %s: %s %s", r.name, path, resp.Status, cpErr.Error)
	}
	var out controlplane.ResolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		r.t.Fatalf("%s: decode resolve response: %v", r.name, err)
	}
	return out
}

// waitSettled polls the status summary until nothing is in flight,
// conflicted or errored.
func (r *replicaHelper) waitSettled(timeout time.Duration) {
	r.t.Helper()
	deadline := time.Now().Add(timeout)
	var last controlplane.SyncSummary
	for time.Now().Before(deadline) {
		last = r.status().Sync
		if last == (controlplane.SyncSummary{}) {
			return
		}
		time.Sleep(250 * time.Millisecond)
	}
	r.t.Fatalf("%s: sync not settled after %s: %+v", r.name, timeout, last)
}

func (r *replicaHelper) getJSON(path string, out any) {
	r.t.Helper()
	resp, err := http.Get(r.baseURL + path)
	if err != nil {
		r.t.Fatalf("%s: GET %s: %v", r.name, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		r.t.Fatalf("%s: GET %s: %s", r.name, path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		r.t.Fatalf("%s: decode %s: %v", r.name, path, err)
	}
}

// tailFile returns the last chunk of a log for failure messages.
func tailFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	const tail = 2048
	if len(data) > tail {
		data = data[len(data)-tail:]
	}
	return string(data)
}
