package room

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wfunc/impostorserver/logger"
	"github.com/wfunc/impostorserver/models"
)

// Factory builds a room for a fresh join code.
type Factory func(code string) (*Room, error)

// Manager 管理所有房间
type Manager struct {
	rooms   map[string]*Room
	mutex   sync.RWMutex
	factory Factory
}

// NewRoomManager 创建一个新的房间管理器
func NewRoomManager(factory Factory) *Manager {
	return &Manager{
		rooms:   make(map[string]*Room),
		factory: factory,
	}
}

// CreateRoom 创建一个新房间、启动心跳并添加到管理器
func (m *Manager) CreateRoom() (*Room, error) {
	for attempt := 0; attempt < 8; attempt++ {
		code, err := NewJoinCode()
		if err != nil {
			return nil, err
		}
		if _, exists := m.GetRoom(code); exists {
			continue
		}

		// 构造房间时会回调广播器，不能持有锁
		r, err := m.factory(code)
		if err != nil {
			return nil, err
		}

		m.mutex.Lock()
		if _, exists := m.rooms[code]; exists {
			m.mutex.Unlock()
			r.Close()
			continue
		}
		m.rooms[code] = r
		m.mutex.Unlock()

		r.Start()
		logger.Log.Infof("room %s created", code)
		return r, nil
	}
	return nil, fmt.Errorf("no free join code after retries")
}

// RemoveRoom 从管理器中移除并关闭一个房间
func (m *Manager) RemoveRoom(code string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if r, exists := m.rooms[code]; exists {
		r.Close()
		delete(m.rooms, code)
	}
}

// GetRoom 从管理器中获取一个房间
func (m *Manager) GetRoom(code string) (*Room, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	r, exists := m.rooms[code]
	return r, exists
}

// FindAvailableRoom 查找一个还在大厅且未满的房间
func (m *Manager) FindAvailableRoom() *Room {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, r := range m.rooms {
		info := r.Info()
		if info.Phase == models.PhaseLobby && (info.MaxPlayers <= 0 || info.Participants < info.MaxPlayers) {
			return r
		}
	}
	return nil
}

// List returns room snapshots, oldest first.
func (m *Manager) List() []models.RoomInfo {
	m.mutex.RLock()
	infos := make([]models.RoomInfo, 0, len(m.rooms))
	for _, r := range m.rooms {
		infos = append(infos, r.Info())
	}
	m.mutex.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.rooms)
}

// ReapIdle closes empty rooms with no activity for longer than idle.
func (m *Manager) ReapIdle(idle time.Duration) []string {
	cutoff := time.Now().Add(-idle)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	var reaped []string
	for code, r := range m.rooms {
		if len(r.ParticipantIDs()) > 0 || r.LastActive().After(cutoff) {
			continue
		}
		r.Close()
		delete(m.rooms, code)
		reaped = append(reaped, code)
	}
	sort.Strings(reaped)
	return reaped
}

// CloseAll stops every room loop, used on shutdown.
func (m *Manager) CloseAll() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for code, r := range m.rooms {
		r.Close()
		delete(m.rooms, code)
	}
}
