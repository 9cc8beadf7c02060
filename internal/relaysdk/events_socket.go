package relaysdk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/confsync/confsync/internal/wire"
)

const (
	wsClientChannelSize  = 256
	wsClientPingPeriod   = 15 * time.Second
	wsClientPingTimeout  = 5 * time.Second
	wsClientWriteTimeout = 5 * time.Second
)

// wsClient is one live websocket connection to the relay.
type wsClient struct {
	conn      *websocket.Conn    // websocket connection
	msgRx     chan *wire.Message // messages received from the websocket
	msgTx     chan *wire.Message // messages sent to the websocket
	closed    chan struct{}      // websocket is closed
	closing   chan struct{}      // websocket is closing
	closeOnce sync.Once          // closeOnce ensures the connection is closed only once
	wg        sync.WaitGroup     // waitGroup for the read and write loops
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		msgRx:   make(chan *wire.Message, wsClientChannelSize),
		msgTx:   make(chan *wire.Message, wsClientChannelSize),
		closed:  make(chan struct{}),
		closing: make(chan struct{}),
		conn:    conn,
	}
}

func (c *wsClient) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.writeLoop(ctx)
	go c.readLoop(ctx)
}

func (c *wsClient) Close() {
	c.closeConnection(websocket.StatusNormalClosure, "shutdown")
	// wait for both read and write loops to finish
	c.wg.Wait()
}

func (c *wsClient) closeConnection(status websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		// trigger internal close
		close(c.closing)
		c.conn.Close(status, reason)

		// wait for both read and write loops to finish
		c.wg.Wait()

		// trigger client close. msgRx and msgTx stay open so a concurrent
		// Send never hits a closed channel.
		close(c.closed)
	})
}

func (c *wsClient) readLoop(ctx context.Context) {
	defer func() {
		slog.Debug("events socket reader shutdown")
		c.wg.Done()
		c.closeConnection(websocket.StatusNormalClosure, "shutdown")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-c.closing:
			return

		default:
			// Continue with read attempt
		}

		var msg wire.Message
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			if !isWSExpectedCloseError(err) {
				slog.Warn("events socket read", "error", err)
			}
			return
		}

		select {
		case <-c.closing:
			return

		case c.msgRx <- &msg:
			// do nothing

		default:
			slog.Warn("events socket read buffer full", "dropped", msg.Id, "type", msg.Type)
		}
	}
}

func (c *wsClient) writeLoop(ctx context.Context) {
	pingTicker := time.NewTicker(wsClientPingPeriod)
	defer func() {
		slog.Debug("events socket writer shutdown")
		pingTicker.Stop()
		c.wg.Done()
		c.closeConnection(websocket.StatusNormalClosure, "shutdown")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-c.closing:
			return

		case msg := <-c.msgTx:
			slog.Debug("events socket send", "id", msg.Id, "type", msg.Type)

			// write message within timeout
			ctxWrite, cancel := context.WithTimeout(ctx, wsClientWriteTimeout)
			err := wsjson.Write(ctxWrite, c.conn, msg)
			cancel()

			if err != nil {
				slog.Error("events socket send", "error", err)
				return
			}

		case <-pingTicker.C:
			// Send ping to keep connection alive
			ctxPing, cancel := context.WithTimeout(ctx, wsClientPingTimeout)
			err := c.conn.Ping(ctxPing)
			cancel()

			if err != nil {
				slog.Error("events socket ping", "error", err)
				return
			}
		}
	}
}

// isWSExpectedCloseError returns true if the error is an expected connection closure
func isWSExpectedCloseError(err error) bool {
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return true
	}

	return errors.Is(err, io.EOF) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, net.ErrClosed)
}
