// persistence/gorm_postgresql.go
package persistence

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/wfunc/impostorserver/models"
)

// GormPostgreSQL 使用GORM的PostgreSQL实现
type GormPostgreSQL struct {
	db *gorm.DB
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接
func NewGormPostgreSQL(host string, port int, user, password, dbname string) (*GormPostgreSQL, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold: time.Second,   // 慢SQL阈值
			LogLevel:      logger.Silent, // 日志级别
			Colorful:      false,         // 禁用彩色打印
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	// 获取通用数据库对象 sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 自动迁移表结构
	if err := autoMigrate(db); err != nil {
		return nil, err
	}

	return &GormPostgreSQL{db: db}, nil
}

// 定义GORM模型
type RoundRecordModel struct {
	ID           uint                 `gorm:"primaryKey"`
	RecordID     string               `gorm:"uniqueIndex;not null"`
	RoomCode     string               `gorm:"index;not null"`
	Round        int                  `gorm:"not null"`
	SecretWord   string               `gorm:"not null"`
	ImpostorID   uint64               `gorm:"not null"`
	Result       string               `gorm:"index;not null"`
	Participants []models.Participant `gorm:"serializer:json;type:jsonb"`
	Ballots      []models.Ballot      `gorm:"serializer:json;type:jsonb"`
	Outcome      models.Outcome       `gorm:"serializer:json;type:jsonb"`
	StartedAt    time.Time
	ResolvedAt   time.Time `gorm:"index"`
	CreatedAt    time.Time
}

func (RoundRecordModel) TableName() string {
	return "round_records"
}

type RoomModel struct {
	ID           uint   `gorm:"primaryKey"`
	Code         string `gorm:"uniqueIndex;not null"`
	Phase        string `gorm:"not null"`
	Round        int
	HostID       uint64
	Participants int
	MaxPlayers   int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (RoomModel) TableName() string {
	return "rooms"
}

// autoMigrate 自动迁移表结构
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&RoundRecordModel{},
		&RoomModel{},
	)
}

func toRoundModel(r models.RoundRecord) RoundRecordModel {
	return RoundRecordModel{
		RecordID:     r.ID,
		RoomCode:     r.RoomCode,
		Round:        r.Round,
		SecretWord:   r.SecretWord,
		ImpostorID:   uint64(r.ImpostorID),
		Result:       r.Outcome.Result(),
		Participants: r.Participants,
		Ballots:      r.Ballots,
		Outcome:      r.Outcome,
		StartedAt:    r.StartedAt,
		ResolvedAt:   r.ResolvedAt,
	}
}

func (m RoundRecordModel) record() models.RoundRecord {
	return models.RoundRecord{
		ID:           m.RecordID,
		RoomCode:     m.RoomCode,
		Round:        m.Round,
		SecretWord:   m.SecretWord,
		ImpostorID:   models.ParticipantID(m.ImpostorID),
		Participants: m.Participants,
		Ballots:      m.Ballots,
		Outcome:      m.Outcome,
		StartedAt:    m.StartedAt,
		ResolvedAt:   m.ResolvedAt,
	}
}

// SaveRoundRecord 保存回合记录，重复写入同一记录时忽略
func (p *GormPostgreSQL) SaveRoundRecord(record models.RoundRecord) error {
	model := toRoundModel(record)
	return p.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "record_id"}},
		DoNothing: true,
	}).Create(&model).Error
}

// LoadRoundRecords 加载房间的回合记录
func (p *GormPostgreSQL) LoadRoundRecords(roomCode string, limit int) ([]models.RoundRecord, error) {
	var rows []RoundRecordModel
	query := p.db.Where("room_code = ?", roomCode).Order("resolved_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	records := make([]models.RoundRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	return records, nil
}

func (p *GormPostgreSQL) PurgeRoundRecords(cutoff time.Time) (int64, error) {
	result := p.db.Where("resolved_at < ?", cutoff).Delete(&RoundRecordModel{})
	return result.RowsAffected, result.Error
}

// SaveRoomState 保存房间状态
func (p *GormPostgreSQL) SaveRoomState(info models.RoomInfo) error {
	room := RoomModel{
		Code:         info.Code,
		Phase:        string(info.Phase),
		Round:        info.Round,
		HostID:       uint64(info.HostID),
		Participants: info.Participants,
		MaxPlayers:   info.MaxPlayers,
		CreatedAt:    info.CreatedAt,
	}
	return p.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"phase", "round", "host_id", "participants", "updated_at"}),
	}).Create(&room).Error
}

// LoadRoomState 加载房间状态
func (p *GormPostgreSQL) LoadRoomState(roomCode string) (models.RoomInfo, error) {
	var room RoomModel
	if err := p.db.Where("code = ?", roomCode).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.RoomInfo{}, ErrRecordNotFound
		}
		return models.RoomInfo{}, err
	}

	return models.RoomInfo{
		Code:         room.Code,
		HostID:       models.ParticipantID(room.HostID),
		Phase:        models.Phase(room.Phase),
		Round:        room.Round,
		Participants: room.Participants,
		MaxPlayers:   room.MaxPlayers,
		CreatedAt:    room.CreatedAt,
		LastActive:   room.UpdatedAt,
	}, nil
}

// DeleteRoomStates 删除已关闭房间的状态行
func (p *GormPostgreSQL) DeleteRoomStates(codes []string) error {
	if len(codes) == 0 {
		return nil
	}
	return p.db.Where("code IN ?", codes).Delete(&RoomModel{}).Error
}

// Close 关闭数据库连接
func (p *GormPostgreSQL) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ResultCounts 按结果统计一个房间的回合数
func (p *GormPostgreSQL) ResultCounts(roomCode string) (map[string]int64, error) {
	var rows []struct {
		Result string
		Total  int64
	}
	err := p.db.Model(&RoundRecordModel{}).
		Select("result, COUNT(*) AS total").
		Where("room_code = ?", roomCode).
		Group("result").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Result] = row.Total
	}
	return counts, nil
}
