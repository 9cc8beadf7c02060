package wire

// ConflictNotice tells subscribers a conflict record was opened or its
// outcome changed. Kind and Outcome travel as plain strings so the
// payload stays flat.
type ConflictNotice struct {
	ConflictID string `json:"cid"`
	Path       string `json:"pth"`
	Kind       string `json:"knd"`
	Outcome    string `json:"out"`
}

func NewConflictNotice(conflictID string, path string, kind string, outcome string) *Message {
	return &Message{
		Id:   generateID(),
		Type: MsgConflictNotify,
		Data: &ConflictNotice{
			ConflictID: conflictID,
			Path:       path,
			Kind:       kind,
			Outcome:    outcome,
		},
	}
}
