package ws

import (
	"github.com/confsync/confsync/internal/wire"
)

// ClientInfo describes a connected replica.
type ClientInfo struct {
	User      string
	ReplicaID string
	IPAddr    string
	Version   string
}

// ClientMessage pairs an incoming message with the connection it arrived on.
type ClientMessage struct {
	ConnID     string
	ClientInfo *ClientInfo
	Message    *wire.Message
}
