package wire

type Error struct {
	Code    string `json:"cod"`
	Path    string `json:"pth,omitempty"`
	Message string `json:"msg"`
}

func NewError(code string, path string, msg string) *Message {
	return &Message{
		Id:   generateID(),
		Type: MsgError,
		Data: &Error{
			Code:    code,
			Path:    path,
			Message: msg,
		},
	}
}
