// Package wire defines the messages exchanged over the relay event
// stream. Every frame is a Message envelope with a short random id, a
// numeric type tag and a typed payload.
package wire

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/confsync/confsync/internal/utils"
)

const IdSize = 3

type Message struct {
	Id   string      `json:"id"`
	Type MessageType `json:"typ"`
	Data any         `json:"dat"`
}

// UnmarshalJSON implements the json.Unmarshaler interface for Message
func (m *Message) UnmarshalJSON(data []byte) error {
	// Create a temporary struct to hold the raw JSON data
	type tempMessage struct {
		Id   string          `json:"id"`
		Type MessageType     `json:"typ"`
		Data json.RawMessage `json:"dat"`
	}

	var temp tempMessage
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	// Copy the simple fields
	m.Id = temp.Id
	m.Type = temp.Type

	// Unmarshal Data based on the message type
	switch m.Type {
	case MsgSystem:
		var sys System
		if err := json.Unmarshal(temp.Data, &sys); err != nil {
			return err
		}
		m.Data = sys
	case MsgError:
		var werr Error
		if err := json.Unmarshal(temp.Data, &werr); err != nil {
			return err
		}
		m.Data = werr
	case MsgChangeNotify:
		var change Change
		if err := json.Unmarshal(temp.Data, &change); err != nil {
			return err
		}
		m.Data = change
	case MsgConflictNotify:
		var notice ConflictNotice
		if err := json.Unmarshal(temp.Data, &notice); err != nil {
			return err
		}
		m.Data = notice
	case MsgPresence:
		var pres Presence
		if err := json.Unmarshal(temp.Data, &pres); err != nil {
			return err
		}
		m.Data = pres
	case MsgAck:
		var ack Ack
		if err := json.Unmarshal(temp.Data, &ack); err != nil {
			return err
		}
		m.Data = ack
	case MsgNack:
		var nack Nack
		if err := json.Unmarshal(temp.Data, &nack); err != nil {
			return err
		}
		m.Data = nack
	default:
		return fmt.Errorf("unknown message type: %d", m.Type)
	}

	return nil
}

func generateID() string {
	return utils.TokenHex(IdSize)
}
