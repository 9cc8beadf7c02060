package wire

type Ack struct {
	OriginalId string `json:"oid"`
}

type Nack struct {
	OriginalId string `json:"oid"`
	Error      string `json:"err"`
}

func NewAck(originalID string) *Message {
	return &Message{
		Id:   generateID(),
		Type: MsgAck,
		Data: &Ack{
			OriginalId: originalID,
		},
	}
}

func NewNack(originalID string, errMsg string) *Message {
	return &Message{
		Id:   generateID(),
		Type: MsgNack,
		Data: &Nack{
			OriginalId: originalID,
			Error:      errMsg,
		},
	}
}
