package persistence

import (
	"sort"
	"sync"
	"time"

	"github.com/wfunc/impostorserver/models"
)

// Memory keeps everything in process. It is the default driver and what the
// tests run against.
type Memory struct {
	mutex   sync.RWMutex
	records map[string][]models.RoundRecord // room code -> records
	ids     map[string]bool
	rooms   map[string]models.RoomInfo
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string][]models.RoundRecord),
		ids:     make(map[string]bool),
		rooms:   make(map[string]models.RoomInfo),
	}
}

func (m *Memory) SaveRoundRecord(record models.RoundRecord) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.ids[record.ID] {
		return nil
	}
	m.ids[record.ID] = true
	m.records[record.RoomCode] = append(m.records[record.RoomCode], record)
	return nil
}

func (m *Memory) LoadRoundRecords(roomCode string, limit int) ([]models.RoundRecord, error) {
	m.mutex.RLock()
	records := make([]models.RoundRecord, len(m.records[roomCode]))
	copy(records, m.records[roomCode])
	m.mutex.RUnlock()

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ResolvedAt.After(records[j].ResolvedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (m *Memory) PurgeRoundRecords(cutoff time.Time) (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var purged int64
	for code, records := range m.records {
		kept := records[:0]
		for _, r := range records {
			if r.ResolvedAt.Before(cutoff) {
				delete(m.ids, r.ID)
				purged++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(m.records, code)
		} else {
			m.records[code] = kept
		}
	}
	return purged, nil
}

func (m *Memory) ResultCounts(roomCode string) (map[string]int64, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	counts := make(map[string]int64)
	for _, r := range m.records[roomCode] {
		counts[r.Outcome.Result()]++
	}
	return counts, nil
}

func (m *Memory) SaveRoomState(info models.RoomInfo) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	info.LastActive = time.Now()
	m.rooms[info.Code] = info
	return nil
}

func (m *Memory) LoadRoomState(roomCode string) (models.RoomInfo, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	info, ok := m.rooms[roomCode]
	if !ok {
		return models.RoomInfo{}, ErrRecordNotFound
	}
	return info, nil
}

func (m *Memory) DeleteRoomStates(roomCodes []string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, code := range roomCodes {
		delete(m.rooms, code)
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}
