package wire

type Presence struct {
	ReplicaID string `json:"rid"`
	Online    bool   `json:"on"`
}

func NewPresence(replicaID string, online bool) *Message {
	return &Message{
		Id:   generateID(),
		Type: MsgPresence,
		Data: &Presence{
			ReplicaID: replicaID,
			Online:    online,
		},
	}
}
