package rpc

import (
	"net/rpc"
	"strings"
	"testing"
	"time"

	"github.com/wfunc/impostorserver/config"
	"github.com/wfunc/impostorserver/models"
	"github.com/wfunc/impostorserver/persistence"
	"github.com/wfunc/impostorserver/room"
	"github.com/wfunc/impostorserver/services"
)

// MockBroadcaster 丢弃所有消息
type MockBroadcaster struct{}

func (MockBroadcaster) BroadcastToRoom(roomID string, msgID uint16, data []byte) error { return nil }

func (MockBroadcaster) SendToParticipant(id models.ParticipantID, msgID uint16, data []byte) error {
	return nil
}

func newTestAdmin(t *testing.T) (*rpc.Client, *room.Manager, *services.HistoryService) {
	t.Helper()
	client, manager, history, _ := newTestAdminWithDB(t)
	return client, manager, history
}

func newTestAdminWithDB(t *testing.T) (*rpc.Client, *room.Manager, *services.HistoryService, persistence.Database) {
	t.Helper()

	game := config.Default().Game
	game.TickInterval = 10 * time.Millisecond
	manager := room.NewRoomManager(func(code string) (*room.Room, error) {
		return room.NewRoom(room.Options{Code: code, Game: game, Words: game.Words, Broadcaster: MockBroadcaster{}})
	})
	db := persistence.NewMemory()
	history := services.NewHistoryService(db, nil, 4)
	history.Start()

	server, err := NewServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if err := server.Register(NewAdminService(manager, history)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	go server.Start()

	client, err := rpc.Dial("tcp", server.Addr())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		server.Stop()
		manager.CloseAll()
		history.Stop()
	})
	return client, manager, history, db
}

func TestAdminService_ListRooms(t *testing.T) {
	client, manager, _ := newTestAdmin(t)

	r, err := manager.CreateRoom()
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	var reply ListRoomsReply
	if err := client.Call(ServiceName+".ListRooms", &Empty{}, &reply); err != nil {
		t.Fatalf("ListRooms failed: %v", err)
	}
	if len(reply.Rooms) != 1 || reply.Rooms[0].Code != r.ID {
		t.Errorf("Expected room %s, got %+v", r.ID, reply.Rooms)
	}
}

func TestAdminService_EndAndRestart(t *testing.T) {
	client, manager, _ := newTestAdmin(t)

	r, _ := manager.CreateRoom()

	var reply PhaseReply
	if err := client.Call(ServiceName+".EndGame", &RoomArgs{Code: r.ID}, &reply); err != nil {
		t.Fatalf("EndGame failed: %v", err)
	}
	if reply.Phase != models.PhaseTerminal {
		t.Errorf("Expected terminal, got %s", reply.Phase)
	}

	err := client.Call(ServiceName+".EndGame", &RoomArgs{Code: r.ID}, &reply)
	if err == nil || !strings.Contains(err.Error(), "already ended") {
		t.Errorf("Expected second EndGame to fail, got %v", err)
	}

	// 没有玩家时停在 setup，等待人数
	if err := client.Call(ServiceName+".RestartRound", &RoomArgs{Code: r.ID}, &reply); err != nil {
		t.Fatalf("RestartRound failed: %v", err)
	}
	if reply.Phase != models.PhaseSetup || reply.Round != 1 {
		t.Errorf("Expected setup of round 1, got %s round %d", reply.Phase, reply.Round)
	}
}

func TestAdminService_UnknownRoom(t *testing.T) {
	client, _, _ := newTestAdmin(t)

	var reply PhaseReply
	err := client.Call(ServiceName+".RestartRound", &RoomArgs{Code: "NOPE22"}, &reply)
	if err == nil || !strings.Contains(err.Error(), models.ErrRoomNotFound.Error()) {
		t.Errorf("Expected room not found, got %v", err)
	}
}

func TestAdminService_History(t *testing.T) {
	client, _, history := newTestAdmin(t)

	history.RecordRound(models.RoundRecord{ID: "r1", RoomCode: "ROOM01", Round: 1, ResolvedAt: time.Now()})

	var reply HistoryReply
	deadline := time.Now().Add(2 * time.Second)
	for len(reply.Records) == 0 && time.Now().Before(deadline) {
		if err := client.Call(ServiceName+".History", &HistoryArgs{Code: "ROOM01", Limit: 5}, &reply); err != nil {
			t.Fatalf("History failed: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(reply.Records) != 1 || reply.Records[0].ID != "r1" {
		t.Errorf("Expected record r1, got %+v", reply.Records)
	}
}

func TestAdminService_RoomSnapshot(t *testing.T) {
	client, manager, _, db := newTestAdminWithDB(t)

	live, _ := manager.CreateRoom()
	var info models.RoomInfo
	if err := client.Call(ServiceName+".RoomSnapshot", &RoomArgs{Code: live.ID}, &info); err != nil {
		t.Fatalf("RoomSnapshot failed: %v", err)
	}
	if info.Code != live.ID || info.Phase != models.PhaseLobby {
		t.Errorf("Expected the live lobby of %s, got %+v", live.ID, info)
	}

	// 不在本进程中的房间返回最后一次保存的状态
	saved := models.RoomInfo{Code: "GONE22", Phase: models.PhaseVoting, Round: 4, Participants: 3}
	if err := db.SaveRoomState(saved); err != nil {
		t.Fatalf("SaveRoomState failed: %v", err)
	}
	info = models.RoomInfo{}
	if err := client.Call(ServiceName+".RoomSnapshot", &RoomArgs{Code: "GONE22"}, &info); err != nil {
		t.Fatalf("RoomSnapshot failed: %v", err)
	}
	if info.Phase != models.PhaseVoting || info.Round != 4 {
		t.Errorf("Expected the saved snapshot, got %+v", info)
	}

	err := client.Call(ServiceName+".RoomSnapshot", &RoomArgs{Code: "NOPE22"}, &info)
	if err == nil || !strings.Contains(err.Error(), models.ErrRoomNotFound.Error()) {
		t.Errorf("Expected room not found, got %v", err)
	}
}
