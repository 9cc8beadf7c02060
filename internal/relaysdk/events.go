package relaysdk

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/confsync/confsync/internal/wire"
)

const (
	eventsBufferSize        = 16
	eventsReconnectDelay    = 1 * time.Second
	eventsMaxReconnectDelay = 8 * time.Second
	eventsReconnectTimeout  = 10 * time.Second
	eventsMaxMessageSize    = 1 * 1024 * 1024
	eventsPath              = "/api/v1/events"
)

// EventsAPI manages real-time event communication with the relay. A
// dropped connection reconnects on its own with jittered backoff.
type EventsAPI struct {
	baseURL          string
	headers          func() http.Header
	wsClient         *wsClient
	messages         chan *wire.Message
	ctx              context.Context
	cancel           context.CancelFunc
	mu               sync.RWMutex
	connected        bool
	reconnectAttempt int
}

func newEventsAPI(baseURL string, headers func() http.Header) *EventsAPI {
	ctx, cancel := context.WithCancel(context.Background())

	return &EventsAPI{
		baseURL:  baseURL,
		headers:  headers,
		ctx:      ctx,
		cancel:   cancel,
		messages: make(chan *wire.Message, eventsBufferSize),
	}
}

// Connect initiates the WebSocket connection
func (e *EventsAPI) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.connected && e.wsClient != nil {
		return nil
	}

	wsClient, err := e.connectLocked(ctx)
	if err != nil {
		return fmt.Errorf("sdk: events: connect failed: %w", err)
	}

	go e.manageConnection(wsClient)
	return nil
}

// IsConnected returns the current connection status
func (e *EventsAPI) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.connected
}

// Get returns a channel for receiving relay messages
func (e *EventsAPI) Get() <-chan *wire.Message {
	return e.messages
}

// Send sends a message to the relay
func (e *EventsAPI) Send(msg *wire.Message) error {
	e.mu.RLock()
	wsClient := e.wsClient
	connected := e.connected
	e.mu.RUnlock()

	if !connected || wsClient == nil {
		return ErrEventsNotConnected
	}

	select {
	case wsClient.msgTx <- msg:
		slog.Debug("events tx", "id", msg.Id, "type", msg.Type)
		return nil
	default:
		return ErrEventsMessageQueueFull
	}
}

// Close terminates the WebSocket connection and cleans up
func (e *EventsAPI) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancel()

	if e.wsClient != nil {
		e.wsClient.Close()
		e.wsClient = nil
	}

	e.connected = false
	slog.Info("events closed")
}

// connectLocked creates a new WebSocket connection (must be called with lock held)
func (e *EventsAPI) connectLocked(ctx context.Context) (*wsClient, error) {
	// Clean up any existing connection
	if e.wsClient != nil {
		e.wsClient.Close()
		e.wsClient = nil
		e.connected = false
	}

	wsURL, err := e.fullURL()
	if err != nil {
		return nil, fmt.Errorf("sdk: events: failed to get full url: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: e.headers(),
	})
	if err != nil {
		return nil, fmt.Errorf("sdk: events: failed to connect to %s: %w", wsURL, err)
	}
	conn.SetReadLimit(eventsMaxMessageSize)

	wsClient := newWSClient(conn)
	wsClient.Start(e.ctx)

	e.wsClient = wsClient
	e.connected = true

	slog.Info("events connected")
	return wsClient, nil
}

// manageConnection handles the WebSocket connection lifecycle
func (e *EventsAPI) manageConnection(wsClient *wsClient) {
	go e.consumeMessages(wsClient)

	select {
	case <-wsClient.closed:
		slog.Info("events disconnected, will reconnect")

		e.mu.Lock()
		if e.wsClient == wsClient {
			e.wsClient = nil
			e.connected = false
			e.reconnectAttempt = 0
		}
		e.mu.Unlock()

		select {
		case <-e.ctx.Done():
			return
		default:
			e.reconnectWithBackoff()
		}

	case <-e.ctx.Done():
		return
	}
}

// consumeMessages moves incoming messages onto the subscriber channel
func (e *EventsAPI) consumeMessages(wsClient *wsClient) {
	for {
		select {
		case <-e.ctx.Done():
			return

		case <-wsClient.closed:
			return

		case msg := <-wsClient.msgRx:
			slog.Debug("events rx", "id", msg.Id, "type", msg.Type)

			select {
			case e.messages <- msg:
				// Successfully delivered
			default:
				slog.Warn("events rx buffer full. dropped", "id", msg.Id, "type", msg.Type)
			}
		}
	}
}

// reconnectWithBackoff attempts to reconnect with exponential backoff
func (e *EventsAPI) reconnectWithBackoff() {
	delay := eventsReconnectDelay

	for {
		e.reconnectAttempt++

		select {
		case <-e.ctx.Done():
			return
		case <-time.After(delay):
			// Continue with reconnect
		}

		slog.Info("events attempting reconnection", "attempt", e.reconnectAttempt, "delay", delay)

		ctx, cancel := context.WithTimeout(e.ctx, eventsReconnectTimeout)

		e.mu.Lock()
		wsClient, err := e.connectLocked(ctx)
		e.mu.Unlock()

		cancel()

		if err == nil {
			go e.manageConnection(wsClient)
			return
		}

		// Add some jitter to the delay
		delay = min(delay*2, eventsMaxReconnectDelay)
		jitterFactor := 0.75 + (rand.Float64() * 0.5)
		delay = time.Duration(float64(delay) * jitterFactor)
	}
}

// fullURL builds the complete WebSocket URL
func (e *EventsAPI) fullURL() (string, error) {
	fullUrl, err := url.JoinPath(e.baseURL, eventsPath)
	if err != nil {
		return "", fmt.Errorf("failed to join path: %w", err)
	}

	return toWebsocketURL(fullUrl), nil
}

// toWebsocketURL converts an HTTP URL to a WebSocket URL
func toWebsocketURL(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + url[8:]
	} else if strings.HasPrefix(url, "http://") {
		return "ws://" + url[7:]
	}
	return url
}
