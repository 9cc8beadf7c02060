package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/confsync/confsync/internal/relay/api"
	"github.com/confsync/confsync/internal/relay/middleware"
	"github.com/confsync/confsync/internal/version"
	"github.com/confsync/confsync/internal/wire"
)

const (
	// events carry version metadata and notifications, never chunk payloads
	maxMessageSize = 1 * 1024 * 1024

	// ReplicaIDHeader identifies the reporting replica on the event socket.
	ReplicaIDHeader = "X-Confsync-Replica"

	// ClientVersionHeader carries the client build version.
	ClientVersionHeader = "X-Confsync-Version"
)

type WebsocketHub struct {
	clients  map[string]*WebsocketClient // map of ConnectionID -> Client
	register chan *WebsocketClient
	msgs     chan *ClientMessage

	// OnConnect and OnDisconnect are invoked from the hub loop when a
	// client joins or leaves. Set them before calling Run.
	OnConnect    func(info *ClientInfo)
	OnDisconnect func(info *ClientInfo)

	wg sync.WaitGroup
	mu sync.RWMutex
}

func NewHub() *WebsocketHub {
	return &WebsocketHub{
		clients:  make(map[string]*WebsocketClient),
		register: make(chan *WebsocketClient),
		msgs:     make(chan *ClientMessage, 256),
	}
}

func (h *WebsocketHub) Run(ctx context.Context) {
	slog.Info("wshub started")
	defer slog.Info("wshub stopped")

	for {
		select {
		case client := <-h.register:

			h.mu.Lock()
			h.clients[client.ConnID] = client
			slog.Debug("wshub registered", "connId", client.ConnID, "user", client.Info.User, "replica", client.Info.ReplicaID, "active", len(h.clients))
			h.mu.Unlock()

			if h.OnConnect != nil {
				h.OnConnect(client.Info)
			}

			h.wg.Add(1)
			go client.Start(context.Background())
			go h.handleClientMessages(client)
			go func() {
				// if client closes, we just remove it from the hub
				<-client.Closed

				h.mu.Lock()
				delete(h.clients, client.ConnID)
				slog.Debug("wshub removed", "connId", client.ConnID, "user", client.Info.User, "replica", client.Info.ReplicaID, "active", len(h.clients))
				h.mu.Unlock()

				if h.OnDisconnect != nil {
					h.OnDisconnect(client.Info)
				}
				h.wg.Done()
			}()
		case <-ctx.Done():
			return
		}
	}
}

// Messages exposes the stream of inbound client messages.
func (h *WebsocketHub) Messages() <-chan *ClientMessage {
	return h.msgs
}

func (h *WebsocketHub) Shutdown(ctx context.Context) {
	close(h.register)

	for _, client := range h.clients {
		go func() {
			// will automatically remove client from hub using the Closed channel
			client.Close()
			slog.Debug("wshub killed", "connId", client.ConnID)
		}()
	}

	h.wg.Wait()
	h.clients = nil
	slog.Info("wshub shutdown")
}

// WebsocketHandler upgrades the http connection to a websocket and
// registers the client with the hub.
func (h *WebsocketHub) WebsocketHandler(ctx *gin.Context) {
	user := ctx.GetString(middleware.UserContextKey)
	if user == "" {
		api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeInvalidRequest, fmt.Errorf("user missing"))
		return
	}

	replicaID := ctx.GetHeader(ReplicaIDHeader)
	if replicaID == "" {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("%s header missing", ReplicaIDHeader))
		return
	}

	conn, err := websocket.Accept(ctx.Writer, ctx.Request, nil)
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("websocket accept failed: %w", err))
		return
	}
	conn.SetReadLimit(maxMessageSize)

	client := NewWebsocketClient(conn, &ClientInfo{
		User:      user,
		ReplicaID: replicaID,
		IPAddr:    ctx.ClientIP(),
		Version:   ctx.GetHeader(ClientVersionHeader),
	})

	client.MsgTx <- wire.NewSystem(version.Version, "ok")

	h.register <- client
}

// ConnectedCount reports the number of live connections.
func (h *WebsocketHub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WebsocketHub) SendMessage(connId string, msg *wire.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if client, ok := h.clients[connId]; ok {
		client.MsgTx <- msg
	}
}

// SendMessageUser sends a message to all clients with the specified username
func (h *WebsocketHub) SendMessageUser(user string, msg *wire.Message) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := false

	for _, client := range h.clients {
		if client.Info.User == user {
			slog.Info("wshub sending to user", "connId", client.ConnID, "user", user, "msgType", msg.Type, "msgId", msg.Id)
			select {
			case client.MsgTx <- msg:
				sent = true
			default:
				slog.Warn("wshub send buffer full", "connId", client.ConnID, "user", user)
			}
		}
	}

	if !sent {
		slog.Warn("wshub no client found for user", "user", user, "msgType", msg.Type, "msgId", msg.Id)
	}

	return sent
}

func (h *WebsocketHub) Broadcast(msg *wire.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.MsgTx <- msg:
		default:
			slog.Warn("wshub send buffer full", "connId", client.ConnID, "user", client.Info.User)
		}
	}
}

// BroadcastFiltered sends a message to all clients that match the filter
func (h *WebsocketHub) BroadcastFiltered(msg *wire.Message, predicate func(*ClientInfo) bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if predicate(client.Info) {
			select {
			case client.MsgTx <- msg:
			default:
				slog.Warn("wshub send buffer full", "connId", client.ConnID, "user", client.Info.User)
			}
		}
	}
}

// handleClientMessages forwards inbound messages to the hub stream.
func (h *WebsocketHub) handleClientMessages(client *WebsocketClient) {
	for {
		select {
		case <-client.Closed:
			return
		case msg, ok := <-client.MsgRx:
			if !ok {
				return
			}
			h.msgs <- &ClientMessage{
				ConnID:     client.ConnID,
				ClientInfo: client.Info,
				Message:    msg,
			}
		}
	}
}
