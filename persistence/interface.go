// persistence/interface.go
package persistence

import (
	"fmt"
	"time"

	"github.com/wfunc/impostorserver/config"
	"github.com/wfunc/impostorserver/models"
)

// Database 数据库接口
type Database interface {
	SaveRoundRecord(record models.RoundRecord) error
	// LoadRoundRecords returns the newest records of a room first. limit <= 0 means all.
	LoadRoundRecords(roomCode string, limit int) ([]models.RoundRecord, error)
	// PurgeRoundRecords deletes records resolved before cutoff.
	PurgeRoundRecords(cutoff time.Time) (int64, error)
	// ResultCounts tallies a room's rounds by Outcome.Result().
	ResultCounts(roomCode string) (map[string]int64, error)
	SaveRoomState(info models.RoomInfo) error
	LoadRoomState(roomCode string) (models.RoomInfo, error)
	DeleteRoomStates(roomCodes []string) error
	Close() error
}

// 错误定义
var (
	ErrRecordNotFound = fmt.Errorf("record not found")
)

// Open 按 database.driver 选择实现
func Open(cfg config.DatabaseConfig) (Database, error) {
	pg := cfg.Postgres
	switch cfg.Driver {
	case "gorm":
		return NewGormPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	case "postgres":
		return NewPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	case "memory", "":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
