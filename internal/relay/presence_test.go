package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPresenceConnectDisconnect(t *testing.T) {
	p := NewPresence(0)

	assert.True(t, p.Connect("alice@example.com", "replica-a"))
	assert.False(t, p.Connect("alice@example.com", "replica-a"))
	assert.True(t, p.IsOnline("replica-a"))
	assert.Equal(t, []string{"replica-a"}, p.Online("alice@example.com"))

	assert.True(t, p.Disconnect("alice@example.com", "replica-a"))
	assert.False(t, p.Disconnect("alice@example.com", "replica-a"))
	assert.False(t, p.IsOnline("replica-a"))
	assert.Empty(t, p.Online("alice@example.com"))
}

func TestPresencePerUserSets(t *testing.T) {
	p := NewPresence(0)

	p.Heartbeat("alice@example.com", "replica-a")
	p.Heartbeat("alice@example.com", "replica-b")
	p.Heartbeat("bob@example.com", "replica-c")

	assert.Equal(t, []string{"replica-a", "replica-b"}, p.Online("alice@example.com"))
	assert.Equal(t, []string{"replica-c"}, p.Online("bob@example.com"))
	assert.Empty(t, p.Online("carol@example.com"))
	assert.Equal(t, []string{"replica-a", "replica-b", "replica-c"}, p.OnlineAll())
}

func TestPresenceHeartbeatReportsTransition(t *testing.T) {
	p := NewPresence(0)

	assert.True(t, p.Heartbeat("alice@example.com", "replica-a"))
	assert.False(t, p.Heartbeat("alice@example.com", "replica-a"))
}

func TestPresenceSweepExpires(t *testing.T) {
	p := NewPresence(time.Minute)

	p.Heartbeat("alice@example.com", "replica-a")
	p.Heartbeat("bob@example.com", "replica-b")

	// nothing has aged out yet
	assert.Empty(t, p.Sweep(time.Now()))

	expired := p.Sweep(time.Now().Add(2 * time.Minute))
	assert.Len(t, expired, 2)
	for _, tr := range expired {
		assert.False(t, tr.Online)
	}
	assert.Empty(t, p.OnlineAll())

	// sweeping again is a no-op
	assert.Empty(t, p.Sweep(time.Now().Add(3*time.Minute)))
}

func TestPresenceSweepSkipsConnected(t *testing.T) {
	p := NewPresence(time.Minute)

	p.Connect("alice@example.com", "replica-a")
	p.Heartbeat("alice@example.com", "replica-b")

	expired := p.Sweep(time.Now().Add(2 * time.Minute))
	assert.Len(t, expired, 1)
	assert.Equal(t, "replica-b", expired[0].ReplicaID)

	// the socket pin keeps replica-a online
	assert.True(t, p.IsOnline("replica-a"))
	assert.False(t, p.IsOnline("replica-b"))
}
