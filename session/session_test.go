package session

import (
	"net"
	"testing"
	"time"

	"github.com/wfunc/impostorserver/models"
	"github.com/wfunc/impostorserver/network"
)

// MockConnection is a test double for the network.Connection interface.
type MockConnection struct {
	sent []uint16
}

func (m *MockConnection) Send(msgID uint16, data []byte) error {
	m.sent = append(m.sent, msgID)
	return nil
}
func (m *MockConnection) Close() error                         { return nil }
func (m *MockConnection) RemoteAddr() net.Addr                 { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration)  {}
func (m *MockConnection) ReadPacket() (*network.Packet, error) { return nil, nil }

func TestNewManager(t *testing.T) {
	manager := NewManager()
	if manager == nil {
		t.Fatal("NewManager should not return nil")
	}
	if manager.sessions == nil || manager.byParticipant == nil {
		t.Fatal("NewManager should initialize the session maps")
	}
}

func TestManager_Add_Get_Remove(t *testing.T) {
	manager := NewManager()
	sessionID := "test_session_1"
	sess := NewSession(sessionID, manager.NextParticipantID(), &MockConnection{})

	manager.Add(sess)
	if manager.Count() != 1 {
		t.Fatalf("Expected session count to be 1, got %d", manager.Count())
	}

	retrievedSess, exists := manager.Get(sessionID)
	if !exists {
		t.Fatal("Get should find the added session")
	}
	if retrievedSess != sess {
		t.Fatal("Get should return the same session instance")
	}

	byParticipant, exists := manager.GetByParticipant(sess.ParticipantID)
	if !exists || byParticipant != sess {
		t.Fatal("GetByParticipant should return the added session")
	}

	manager.Remove(sessionID)
	if manager.Count() != 0 {
		t.Fatalf("Expected session count to be 0 after removal, got %d", manager.Count())
	}

	if _, exists = manager.Get(sessionID); exists {
		t.Fatal("Get should not find the removed session")
	}
	if _, exists = manager.GetByParticipant(sess.ParticipantID); exists {
		t.Fatal("GetByParticipant should not find the removed session")
	}
}

func TestManager_NextParticipantID(t *testing.T) {
	manager := NewManager()

	first := manager.NextParticipantID()
	second := manager.NextParticipantID()

	if first != models.ParticipantID(1) {
		t.Errorf("Expected first participant id 1, got %d", first)
	}
	if second != first+1 {
		t.Errorf("Expected sequential ids, got %d then %d", first, second)
	}
}

func TestSession_RoomCode(t *testing.T) {
	sess := NewSession("s", 7, &MockConnection{})

	if sess.RoomCode() != "" {
		t.Errorf("Expected empty room code, got %q", sess.RoomCode())
	}

	sess.SetRoomCode("ABC123")
	if sess.RoomCode() != "ABC123" {
		t.Errorf("Expected room code ABC123, got %q", sess.RoomCode())
	}
}

func TestSession_Send(t *testing.T) {
	conn := &MockConnection{}
	sess := NewSession("s", 1, conn)

	if err := sess.Send(network.MsgTypeRoster, nil); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if len(conn.sent) != 1 || conn.sent[0] != network.MsgTypeRoster {
		t.Errorf("Expected one roster packet, got %v", conn.sent)
	}
}
