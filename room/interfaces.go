package room

import "github.com/wfunc/impostorserver/models"

// Broadcaster defines the interface for broadcasting messages to a room.
// This is defined here to break the import cycle between room and broadcast.
type Broadcaster interface {
	BroadcastToRoom(roomID string, msgID uint16, data []byte) error
	// SendToParticipant delivers to exactly one participant, never the room.
	SendToParticipant(id models.ParticipantID, msgID uint16, data []byte) error
}

// Recorder receives a record for every resolved round. It is called on the
// room tick, so implementations must not block.
type Recorder interface {
	RecordRound(record models.RoundRecord)
}
