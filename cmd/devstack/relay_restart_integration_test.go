//go:build integration
// +build integration

package main

import (
	"fmt"
	"net/http"
	"testing"
	"time"
)

// waitForRelayDown polls the health endpoint until the connection is
// refused, so the test knows writes made next really happen offline.
func waitForRelayDown(t *testing.T, port int, timeout time.Duration) {
	t.Helper()
	client := &http.Client{Timeout: 200 * time.Millisecond}
	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", port)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err != nil {
			t.Log("relay is down")
			return
		}
		resp.Body.Close()
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("relay still answering on port %d after %s", port, timeout)
}

// TestRelayRestartRecovery kills the relay mid-session, writes while it is
// gone and checks the stack catches up once the same relay database comes
// back on the same port.
func TestRelayRestartRecovery(t *testing.T) {
	skipUnlessIntegration(t)

	h := newStackHarness(t, []string{"laptop", "desktop"}, nil)
	laptop, desktop := h.reps[0], h.reps[1]

	one := []byte("retries = 3\n")
	laptop.write("app/one.conf", one)
	laptop.triggerSync()
	desktop.triggerSync()
	desktop.waitForBytes("app/one.conf", one, 45*time.Second)

	t.Logf("Killing relay (pid %d)", h.state.Relay.PID)
	if err := killProcess(h.state.Relay.PID); err != nil {
		t.Fatalf("kill relay: %v", err)
	}
	waitForRelayDown(t, h.state.Relay.Port, 15*time.Second)

	t.Log("Writing while the relay is unreachable")
	two := []byte("timeout = 30s\n")
	laptop.write("app/two.conf", two)
	laptop.triggerSync()

	t.Log("Restarting relay on the same port and database")
	h.restartRelay()

	laptop.triggerSync()
	desktop.triggerSync()
	desktop.waitForBytes("app/two.conf", two, 90*time.Second)

	// the earlier file survived the outage untouched
	desktop.waitForBytes("app/one.conf", one, 15*time.Second)
	laptop.waitForBytes("app/one.conf", one, 15*time.Second)

	laptop.waitSettled(60 * time.Second)
	desktop.waitSettled(60 * time.Second)
}
