// services/history_service.go
package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wfunc/impostorserver/cache"
	"github.com/wfunc/impostorserver/logger"
	"github.com/wfunc/impostorserver/models"
	"github.com/wfunc/impostorserver/persistence"
)

const defaultHistoryBuffer = 128

// HistoryService 保存已结算的回合。房间在自己的 tick 上调用 RecordRound，
// 写库和推送 Redis 都在后台 worker 里完成。
type HistoryService struct {
	db        persistence.Database
	publisher cache.Publisher

	queue   chan models.RoundRecord
	mutex   sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Int64
}

// RoomStats 房间的回合结果统计
type RoomStats struct {
	RoomCode string           `json:"room_code"`
	Rounds   int64            `json:"rounds"`
	ByResult map[string]int64 `json:"by_result"`
}

func NewHistoryService(db persistence.Database, publisher cache.Publisher, buffer int) *HistoryService {
	if publisher == nil {
		publisher = cache.NopPublisher{}
	}
	if buffer <= 0 {
		buffer = defaultHistoryBuffer
	}
	return &HistoryService{
		db:        db,
		publisher: publisher,
		queue:     make(chan models.RoundRecord, buffer),
	}
}

// Start launches the worker.
func (s *HistoryService) Start() {
	s.wg.Add(1)
	go s.run()
}

// RecordRound implements room.Recorder. A full queue drops the record.
func (s *HistoryService) RecordRound(record models.RoundRecord) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.queue <- record:
	default:
		s.dropped.Add(1)
		logger.Log.Warnw("History queue full, dropping round", "room", record.RoomCode, "round", record.Round)
	}
}

// Dropped 因队列满而丢弃的记录数
func (s *HistoryService) Dropped() int64 {
	return s.dropped.Load()
}

func (s *HistoryService) run() {
	defer s.wg.Done()
	for record := range s.queue {
		s.persist(record)
	}
}

func (s *HistoryService) persist(record models.RoundRecord) {
	if err := s.db.SaveRoundRecord(record); err != nil {
		logger.Log.Errorw("Failed to save round record", "room", record.RoomCode, "round", record.Round, "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.publisher.PublishRound(ctx, record); err != nil {
		logger.Log.Warnw("Failed to publish round record", "room", record.RoomCode, "error", err)
	}
}

// Stop 停止接收新记录，并等待队列中已有的记录写完
func (s *HistoryService) Stop() {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mutex.Unlock()

	s.wg.Wait()
}

// History returns a room's most recent rounds, newest first.
func (s *HistoryService) History(roomCode string, limit int) ([]models.RoundRecord, error) {
	return s.db.LoadRoundRecords(roomCode, limit)
}

// LastSnapshot is the room state the janitor saved most recently, e.g. for a
// room that was running before the process restarted.
func (s *HistoryService) LastSnapshot(roomCode string) (models.RoomInfo, error) {
	return s.db.LoadRoomState(roomCode)
}

func (s *HistoryService) Stats(roomCode string) (RoomStats, error) {
	counts, err := s.db.ResultCounts(roomCode)
	if err != nil {
		return RoomStats{}, err
	}

	stats := RoomStats{RoomCode: roomCode, ByResult: counts}
	for _, n := range counts {
		stats.Rounds += n
	}
	return stats, nil
}
