// broadcast/broadcast.go
package broadcast

import (
	"fmt"

	"github.com/wfunc/impostorserver/logger"
	"github.com/wfunc/impostorserver/models"
	"github.com/wfunc/impostorserver/room"
	"github.com/wfunc/impostorserver/session"
)

// 广播接口
type Broadcaster interface {
	BroadcastToRoom(roomID string, msgID uint16, data []byte) error
	BroadcastToAll(msgID uint16, data []byte) error
	SendToParticipant(id models.ParticipantID, msgID uint16, data []byte) error
}

// 基于房间的广播器
type RoomBroadcaster struct {
	roomManager    *room.Manager
	sessionManager *session.Manager
}

func NewRoomBroadcaster(roomManager *room.Manager, sessionManager *session.Manager) *RoomBroadcaster {
	return &RoomBroadcaster{
		roomManager:    roomManager,
		sessionManager: sessionManager,
	}
}

// SetRoomManager 房间管理器和广播器互相引用，先建广播器再回填
func (b *RoomBroadcaster) SetRoomManager(m *room.Manager) {
	b.roomManager = m
}

func (b *RoomBroadcaster) BroadcastToRoom(roomID string, msgID uint16, data []byte) error {
	r, exists := b.roomManager.GetRoom(roomID)
	if !exists {
		return models.ErrRoomNotFound
	}

	for _, id := range r.ParticipantIDs() {
		s, ok := b.sessionManager.GetByParticipant(id)
		if !ok {
			continue
		}
		if err := s.Send(msgID, data); err != nil {
			// 发送失败由连接的读循环负责清理
			logger.Log.Debugf("broadcast %d to %d in %s: %v", msgID, id, roomID, err)
		}
	}

	return nil
}

func (b *RoomBroadcaster) BroadcastToAll(msgID uint16, data []byte) error {
	for _, s := range b.sessionManager.All() {
		if err := s.Send(msgID, data); err != nil {
			logger.Log.Debugf("broadcast %d to session %s: %v", msgID, s.GetID(), err)
		}
	}
	return nil
}

// SendToParticipant is the addressed-message path: one connection, never a room.
func (b *RoomBroadcaster) SendToParticipant(id models.ParticipantID, msgID uint16, data []byte) error {
	s, ok := b.sessionManager.GetByParticipant(id)
	if !ok {
		return fmt.Errorf("participant %d: %w", id, models.ErrNotFound)
	}
	return s.Send(msgID, data)
}
