// session/session.go
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/wfunc/impostorserver/models"
	"github.com/wfunc/impostorserver/network"
)

type Session struct {
	ID            string
	Conn          network.Connection
	ParticipantID models.ParticipantID
	CreatedAt     time.Time
	roomCode      string
	lastActive    time.Time
	mutex         sync.RWMutex
}

func NewSession(id string, participantID models.ParticipantID, conn network.Connection) *Session {
	now := time.Now()
	return &Session{
		ID:            id,
		Conn:          conn,
		ParticipantID: participantID,
		CreatedAt:     now,
		lastActive:    now,
	}
}

func (s *Session) Send(msgID uint16, data []byte) error {
	return s.Conn.Send(msgID, data)
}

func (s *Session) GetID() string {
	return s.ID
}

func (s *Session) GetParticipantID() models.ParticipantID {
	return s.ParticipantID
}

// RoomCode 当前所在房间，未加入时为空
func (s *Session) RoomCode() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.roomCode
}

func (s *Session) SetRoomCode(code string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.roomCode = code
}

func (s *Session) Touch() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastActive = time.Now()
}

func (s *Session) LastActive() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastActive
}

func (s *Session) Close() error {
	return s.Conn.Close()
}

// Session管理器
type Manager struct {
	sessions      map[string]*Session
	byParticipant map[models.ParticipantID]*Session
	nextID        atomic.Uint64
	mutex         sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions:      make(map[string]*Session),
		byParticipant: make(map[models.ParticipantID]*Session),
	}
}

// NextParticipantID 分配连接级别的玩家ID，从1开始递增
func (m *Manager) NextParticipantID() models.ParticipantID {
	return models.ParticipantID(m.nextID.Add(1))
}

func (m *Manager) Add(session *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sessions[session.ID] = session
	m.byParticipant[session.ParticipantID] = session
}

func (m *Manager) Remove(sessionID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if session, ok := m.sessions[sessionID]; ok {
		delete(m.byParticipant, session.ParticipantID)
		delete(m.sessions, sessionID)
	}
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	session, exists := m.sessions[sessionID]
	return session, exists
}

func (m *Manager) GetByParticipant(id models.ParticipantID) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	session, exists := m.byParticipant[id]
	return session, exists
}

// All returns a snapshot of every live session.
func (m *Manager) All() []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		result = append(result, session)
	}
	return result
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}
