package wire

import "github.com/confsync/confsync/internal/history"

// Change announces a version the relay accepted. Deletes ride the same
// payload with Version.Tombstone set, so subscribers handle one shape.
type Change struct {
	Version history.FileVersion `json:"ver"`
}

func NewChange(version history.FileVersion) *Message {
	return &Message{
		Id:   generateID(),
		Type: MsgChangeNotify,
		Data: &Change{
			Version: version,
		},
	}
}
