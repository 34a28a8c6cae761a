// services/janitor.go
package services

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wfunc/impostorserver/config"
	"github.com/wfunc/impostorserver/logger"
	"github.com/wfunc/impostorserver/models"
	"github.com/wfunc/impostorserver/persistence"
)

// RoomReaper 是 room.Manager 中 Janitor 用到的部分
type RoomReaper interface {
	List() []models.RoomInfo
	ReapIdle(idle time.Duration) []string
}

// Janitor 定时保存房间快照、回收空闲房间、清理过期回合记录
type Janitor struct {
	cron  *cron.Cron
	rooms RoomReaper
	db    persistence.Database
	cfg   config.CleanupConfig
	now   func() time.Time
}

func NewJanitor(rooms RoomReaper, db persistence.Database, cfg config.CleanupConfig) *Janitor {
	return &Janitor{
		cron:  cron.New(),
		rooms: rooms,
		db:    db,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Start registers the sweep on cfg.Schedule and starts the cron runner.
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(j.cfg.Schedule, j.RunOnce); err != nil {
		return err
	}
	j.cron.Start()
	logger.Log.Infof("Janitor scheduled with %q", j.cfg.Schedule)
	return nil
}

// Stop waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) RunOnce() {
	for _, info := range j.rooms.List() {
		if err := j.db.SaveRoomState(info); err != nil {
			logger.Log.Warnw("Failed to snapshot room", "room", info.Code, "error", err)
		}
	}

	if j.cfg.RoomIdle > 0 {
		reaped := j.rooms.ReapIdle(j.cfg.RoomIdle)
		if len(reaped) > 0 {
			logger.Log.Infow("Reaped idle rooms", "rooms", reaped)
			if err := j.db.DeleteRoomStates(reaped); err != nil {
				logger.Log.Warnw("Failed to delete room states", "error", err)
			}
		}
	}

	if j.cfg.RecordRetention > 0 {
		purged, err := j.db.PurgeRoundRecords(j.now().Add(-j.cfg.RecordRetention))
		if err != nil {
			logger.Log.Errorw("Failed to purge round records", "error", err)
		} else if purged > 0 {
			logger.Log.Infow("Purged round records", "count", purged)
		}
	}
}
