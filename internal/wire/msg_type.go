package wire

import "fmt"

type MessageType uint16

const (
	MsgSystem MessageType = iota
	MsgError
	MsgChangeNotify
	MsgConflictNotify
	MsgPresence
	MsgAck
	MsgNack
)

func (t MessageType) String() string {
	switch t {
	case MsgSystem:
		return "SYSTEM"
	case MsgError:
		return "ERROR"
	case MsgChangeNotify:
		return "CHANGE_NOTIFY"
	case MsgConflictNotify:
		return "CONFLICT_NOTIFY"
	case MsgPresence:
		return "PRESENCE"
	case MsgAck:
		return "ACK"
	case MsgNack:
		return "NACK"
	default:
		return fmt.Sprintf("???(%d)", t)
	}
}
