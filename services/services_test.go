package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/wfunc/impostorserver/config"
	"github.com/wfunc/impostorserver/models"
	"github.com/wfunc/impostorserver/persistence"
)

// MockPublisher 记录推送过的回合
type MockPublisher struct {
	mutex   sync.Mutex
	records []models.RoundRecord
	err     error
}

func (m *MockPublisher) PublishRound(ctx context.Context, record models.RoundRecord) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.records = append(m.records, record)
	return m.err
}

func (m *MockPublisher) Close() error { return nil }

func (m *MockPublisher) count() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.records)
}

// MockRoomReaper 模拟房间管理器
type MockRoomReaper struct {
	rooms    []models.RoomInfo
	idle     []string
	reapedAt time.Duration
}

func (m *MockRoomReaper) List() []models.RoomInfo {
	return m.rooms
}

func (m *MockRoomReaper) ReapIdle(idle time.Duration) []string {
	m.reapedAt = idle
	return m.idle
}

func roundRecord(id string, round int, resolved time.Time, outcome models.Outcome) models.RoundRecord {
	return models.RoundRecord{
		ID:         id,
		RoomCode:   "ROOM01",
		Round:      round,
		SecretWord: "APPLE",
		ImpostorID: 3,
		Outcome:    outcome,
		ResolvedAt: resolved,
	}
}

func TestHistoryService_RecordAndQuery(t *testing.T) {
	db := persistence.NewMemory()
	pub := &MockPublisher{}
	svc := NewHistoryService(db, pub, 8)
	svc.Start()

	now := time.Now()
	caught := models.Outcome{Eliminated: true, VotedOutID: 3, WasImpostor: true}
	svc.RecordRound(roundRecord("r1", 1, now.Add(-time.Minute), caught))
	svc.RecordRound(roundRecord("r2", 2, now, models.Outcome{}))
	svc.Stop()

	if pub.count() != 2 {
		t.Fatalf("Expected 2 published rounds, got %d", pub.count())
	}

	history, err := svc.History("ROOM01", 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 || history[0].ID != "r2" {
		t.Fatalf("Expected newest round first, got %+v", history)
	}

	stats, err := svc.Stats("ROOM01")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Rounds != 2 {
		t.Errorf("Expected 2 rounds, got %d", stats.Rounds)
	}
	if stats.ByResult["impostor_caught"] != 1 || stats.ByResult["no_elimination"] != 1 {
		t.Errorf("Unexpected result counts: %v", stats.ByResult)
	}
}

func TestHistoryService_PublishErrorStillSaves(t *testing.T) {
	db := persistence.NewMemory()
	svc := NewHistoryService(db, &MockPublisher{err: errors.New("redis down")}, 1)
	svc.Start()

	svc.RecordRound(roundRecord("r1", 1, time.Now(), models.Outcome{}))
	svc.Stop()

	history, _ := svc.History("ROOM01", 0)
	if len(history) != 1 {
		t.Errorf("Expected record to be saved despite publish error, got %d", len(history))
	}
}

func TestHistoryService_DropsWhenFull(t *testing.T) {
	svc := NewHistoryService(persistence.NewMemory(), nil, 1)

	// worker 未启动，第二条记录放不进队列
	svc.RecordRound(roundRecord("r1", 1, time.Now(), models.Outcome{}))
	svc.RecordRound(roundRecord("r2", 2, time.Now(), models.Outcome{}))

	if svc.Dropped() != 1 {
		t.Errorf("Expected 1 dropped record, got %d", svc.Dropped())
	}

	svc.Start()
	svc.Stop()
	svc.Stop()

	// 停止后的记录被忽略，不会 panic
	svc.RecordRound(roundRecord("r3", 3, time.Now(), models.Outcome{}))
}

func TestJanitor_RunOnce(t *testing.T) {
	db := persistence.NewMemory()
	now := time.Now()

	db.SaveRoundRecord(roundRecord("old", 1, now.Add(-48*time.Hour), models.Outcome{}))
	db.SaveRoundRecord(roundRecord("new", 2, now, models.Outcome{}))
	db.SaveRoomState(models.RoomInfo{Code: "GONE22", Phase: models.PhaseLobby})

	rooms := &MockRoomReaper{
		rooms: []models.RoomInfo{{Code: "ROOM01", Phase: models.PhaseVoting, Round: 2}},
		idle:  []string{"GONE22"},
	}
	j := NewJanitor(rooms, db, config.CleanupConfig{
		Schedule:        "@every 1m",
		RoomIdle:        10 * time.Minute,
		RecordRetention: 24 * time.Hour,
	})
	j.now = func() time.Time { return now }

	j.RunOnce()

	if rooms.reapedAt != 10*time.Minute {
		t.Errorf("Expected ReapIdle(10m), got %v", rooms.reapedAt)
	}
	if info, err := db.LoadRoomState("ROOM01"); err != nil || info.Phase != models.PhaseVoting {
		t.Errorf("Expected ROOM01 snapshot, got %+v, %v", info, err)
	}
	if _, err := db.LoadRoomState("GONE22"); !errors.Is(err, persistence.ErrRecordNotFound) {
		t.Errorf("Expected reaped room state deleted, got %v", err)
	}

	records, _ := db.LoadRoundRecords("ROOM01", 0)
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	sort.Strings(ids)
	if len(ids) != 1 || ids[0] != "new" {
		t.Errorf("Expected only the recent record to survive, got %v", ids)
	}
}

func TestJanitor_InvalidSchedule(t *testing.T) {
	j := NewJanitor(&MockRoomReaper{}, persistence.NewMemory(), config.CleanupConfig{Schedule: "not a schedule"})
	if err := j.Start(); err == nil {
		t.Error("Expected error for invalid cron schedule")
	}
}

func TestJanitor_StartStop(t *testing.T) {
	j := NewJanitor(&MockRoomReaper{}, persistence.NewMemory(), config.CleanupConfig{Schedule: "@every 1h"})
	if err := j.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	j.Stop()
}

func TestHistoryService_LastSnapshot(t *testing.T) {
	db := persistence.NewMemory()
	s := NewHistoryService(db, nil, 1)

	if _, err := s.LastSnapshot("ROOM01"); !errors.Is(err, persistence.ErrRecordNotFound) {
		t.Fatalf("Expected ErrRecordNotFound, got %v", err)
	}

	db.SaveRoomState(models.RoomInfo{Code: "ROOM01", Phase: models.PhaseResolution, Round: 3})
	info, err := s.LastSnapshot("ROOM01")
	if err != nil {
		t.Fatalf("LastSnapshot failed: %v", err)
	}
	if info.Phase != models.PhaseResolution || info.Round != 3 || info.LastActive.IsZero() {
		t.Errorf("Unexpected snapshot %+v", info)
	}
}
