package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confsync/confsync/internal/history"
	"github.com/confsync/confsync/internal/relay/middleware"
	"github.com/confsync/confsync/internal/version"
	"github.com/confsync/confsync/internal/wire"
)

const testUser = "alice@example.com"

func newTestHub(t *testing.T) (*WebsocketHub, *httptest.Server) {
	t.Helper()

	gin.SetMode(gin.TestMode)

	hub := NewHub()

	router := gin.New()
	router.GET("/events", func(ctx *gin.Context) {
		ctx.Set(middleware.UserContextKey, testUser)
	}, hub.WebsocketHandler)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	return hub, server
}

func dialTestHub(t *testing.T, server *httptest.Server, replicaID string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/events"
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{
			ReplicaIDHeader: []string{replicaID},
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close(websocket.StatusNormalClosure, "test done")
	})
	return conn
}

func readWireMessage(t *testing.T, conn *websocket.Conn) *wire.Message {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var msg *wire.Message
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	return msg
}

func TestHubHelloOnConnect(t *testing.T) {
	hub, server := newTestHub(t)

	conn := dialTestHub(t, server, "replica-1")

	msg := readWireMessage(t, conn)
	assert.Equal(t, wire.MsgSystem, msg.Type)

	sys, ok := msg.Data.(wire.System)
	require.True(t, ok)
	assert.Equal(t, version.Version, sys.Version)

	require.Eventually(t, func() bool {
		return hub.ConnectedCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubConnectDisconnectCallbacks(t *testing.T) {
	hub, server := newTestHub(t)

	var connects, disconnects atomic.Int32
	hub.OnConnect = func(info *ClientInfo) {
		assert.Equal(t, testUser, info.User)
		assert.Equal(t, "replica-1", info.ReplicaID)
		connects.Add(1)
	}
	hub.OnDisconnect = func(info *ClientInfo) {
		assert.Equal(t, "replica-1", info.ReplicaID)
		disconnects.Add(1)
	}

	conn := dialTestHub(t, server, "replica-1")
	readWireMessage(t, conn)

	require.Eventually(t, func() bool {
		return connects.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close(websocket.StatusNormalClosure, "bye")

	require.Eventually(t, func() bool {
		return disconnects.Load() == 1 && hub.ConnectedCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubBroadcastReachesAllClients(t *testing.T) {
	hub, server := newTestHub(t)

	conn1 := dialTestHub(t, server, "replica-1")
	conn2 := dialTestHub(t, server, "replica-2")
	readWireMessage(t, conn1)
	readWireMessage(t, conn2)

	require.Eventually(t, func() bool {
		return hub.ConnectedCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(wire.NewChange(history.FileVersion{
		Path:          "app/config.yaml",
		Hash:          "abc123",
		VersionNumber: 3,
		ReplicaID:     "replica-9",
	}))

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		msg := readWireMessage(t, conn)
		require.Equal(t, wire.MsgChangeNotify, msg.Type)
		change, ok := msg.Data.(wire.Change)
		require.True(t, ok)
		assert.Equal(t, "app/config.yaml", change.Version.Path)
		assert.Equal(t, int64(3), change.Version.VersionNumber)
	}
}

func TestHubSendMessageUser(t *testing.T) {
	hub, server := newTestHub(t)

	conn := dialTestHub(t, server, "replica-1")
	readWireMessage(t, conn)

	require.Eventually(t, func() bool {
		return hub.ConnectedCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	sent := hub.SendMessageUser(testUser, wire.NewPresence("replica-2", true))
	assert.True(t, sent)

	msg := readWireMessage(t, conn)
	require.Equal(t, wire.MsgPresence, msg.Type)
	presence, ok := msg.Data.(wire.Presence)
	require.True(t, ok)
	assert.Equal(t, "replica-2", presence.ReplicaID)
	assert.True(t, presence.Online)

	assert.False(t, hub.SendMessageUser("nobody@example.com", wire.NewPresence("replica-3", false)))
}

func TestHubReceivesClientMessages(t *testing.T) {
	hub, server := newTestHub(t)

	conn := dialTestHub(t, server, "replica-1")
	readWireMessage(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, wire.NewAck("m123")))

	select {
	case clientMsg := <-hub.Messages():
		assert.NotEmpty(t, clientMsg.ConnID)
		assert.Equal(t, testUser, clientMsg.ClientInfo.User)
		assert.Equal(t, "replica-1", clientMsg.ClientInfo.ReplicaID)
		require.Equal(t, wire.MsgAck, clientMsg.Message.Type)
		ack, ok := clientMsg.Message.Data.(wire.Ack)
		require.True(t, ok)
		assert.Equal(t, "m123", ack.OriginalId)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client message")
	}
}

func TestWebsocketHandlerRejectsMissingReplicaHeader(t *testing.T) {
	_, server := newTestHub(t)

	resp, err := http.Get(server.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebsocketHandlerRejectsMissingUser(t *testing.T) {
	gin.SetMode(gin.TestMode)

	hub := NewHub()
	router := gin.New()
	router.GET("/events", hub.WebsocketHandler)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	resp, err := http.Get(server.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
