package wire

type System struct {
	Version string `json:"ver"`
	Message string `json:"msg,omitempty"`
}

func NewSystem(version string, msg string) *Message {
	return &Message{
		Id:   generateID(),
		Type: MsgSystem,
		Data: &System{
			Version: version,
			Message: msg,
		},
	}
}
