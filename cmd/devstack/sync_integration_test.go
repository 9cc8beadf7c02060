//go:build integration
// +build integration

package main

import (
	"testing"
	"time"
)

// TestStackReplication runs two replicas of one account against a local
// relay and checks that creates, edits and deletes travel both ways.
func TestStackReplication(t *testing.T) {
	skipUnlessIntegration(t)

	h := newStackHarness(t, []string{"laptop", "desktop"}, nil)
	laptop, desktop := h.reps[0], h.reps[1]

	lst, dst := laptop.status(), desktop.status()
	if lst.Email != defaultEmail || dst.Email != defaultEmail {
		t.Fatalf("replicas report wrong account: %q vs %q", lst.Email, dst.Email)
	}
	if lst.ReplicaID == dst.ReplicaID {
		t.Fatalf("replicas share id %q, expected distinct identities", lst.ReplicaID)
	}

	t.Log("Step 1: create on laptop, expect it on desktop")
	v1 := []byte("listen_port = 8443\nlog_level = info\n")
	laptop.write("app/server.conf", v1)
	laptop.triggerSync()
	desktop.triggerSync()
	desktop.waitForBytes("app/server.conf", v1, 45*time.Second)

	t.Log("Step 2: edit on desktop, expect the edit back on laptop")
	v2 := []byte("listen_port = 8443\nlog_level = debug\n")
	desktop.write("app/server.conf", v2)
	desktop.triggerSync()
	laptop.triggerSync()
	laptop.waitForBytes("app/server.conf", v2, 45*time.Second)

	t.Log("Step 3: delete on laptop, expect removal on desktop")
	laptop.remove("app/server.conf")
	laptop.triggerSync()
	desktop.triggerSync()
	desktop.waitGone("app/server.conf", 45*time.Second)

	laptop.waitSettled(30 * time.Second)
	desktop.waitSettled(30 * time.Second)

	if got := laptop.conflicts(); len(got) != 0 {
		t.Fatalf("laptop reports conflicts after clean run: %+v", got)
	}
	if got := desktop.conflicts(); len(got) != 0 {
		t.Fatalf("desktop reports conflicts after clean run: %+v", got)
	}
}
