// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/wfunc/impostorserver/models"
)

// PostgreSQL 数据库实现，直接使用 lib/pq
type PostgreSQL struct {
	db *sql.DB
}

// NewPostgreSQL 创建 PostgreSQL 数据库连接
func NewPostgreSQL(host string, port int, user, password, dbname string) (*PostgreSQL, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	// 设置连接池参数
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// 初始化表结构
	if err := initTables(db); err != nil {
		return nil, err
	}

	return &PostgreSQL{db: db}, nil
}

// initTables 初始化数据库表结构
func initTables(db *sql.DB) error {
	// 创建回合记录表
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS round_records (
            id SERIAL PRIMARY KEY,
            record_id VARCHAR(64) UNIQUE NOT NULL,
            room_code VARCHAR(16) NOT NULL,
            round INTEGER NOT NULL,
            secret_word VARCHAR(255) NOT NULL,
            impostor_id BIGINT NOT NULL,
            result VARCHAR(32) NOT NULL,
            participants JSONB NOT NULL,
            ballots JSONB NOT NULL,
            outcome JSONB NOT NULL,
            started_at TIMESTAMPTZ NOT NULL,
            resolved_at TIMESTAMPTZ NOT NULL,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )
    `)
	if err != nil {
		return err
	}

	// 创建房间表
	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS rooms (
            id SERIAL PRIMARY KEY,
            code VARCHAR(16) UNIQUE NOT NULL,
            phase VARCHAR(32) NOT NULL,
            round INTEGER NOT NULL DEFAULT 0,
            host_id BIGINT NOT NULL DEFAULT 0,
            participants INTEGER NOT NULL DEFAULT 0,
            max_players INTEGER NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )
    `)
	if err != nil {
		return err
	}

	// 创建索引以提高查询性能
	_, err = db.Exec(`
        CREATE INDEX IF NOT EXISTS idx_round_records_room_code ON round_records(room_code);
        CREATE INDEX IF NOT EXISTS idx_round_records_resolved_at ON round_records(resolved_at);
        CREATE INDEX IF NOT EXISTS idx_round_records_result ON round_records(result);
    `)

	return err
}

// SaveRoundRecord 保存回合记录
func (p *PostgreSQL) SaveRoundRecord(record models.RoundRecord) error {
	participants, err := json.Marshal(record.Participants)
	if err != nil {
		return err
	}
	ballots, err := json.Marshal(record.Ballots)
	if err != nil {
		return err
	}
	outcome, err := json.Marshal(record.Outcome)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
        INSERT INTO round_records (record_id, room_code, round, secret_word, impostor_id, result,
            participants, ballots, outcome, started_at, resolved_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (record_id) DO NOTHING
    `

	_, err = p.db.ExecContext(ctx, query,
		record.ID, record.RoomCode, record.Round, record.SecretWord, int64(record.ImpostorID),
		record.Outcome.Result(), participants, ballots, outcome, record.StartedAt, record.ResolvedAt)
	return err
}

// LoadRoundRecords 加载房间的回合记录，最新的在前
func (p *PostgreSQL) LoadRoundRecords(roomCode string, limit int) ([]models.RoundRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
        SELECT record_id, room_code, round, secret_word, impostor_id,
            participants, ballots, outcome, started_at, resolved_at
        FROM round_records WHERE room_code = $1
        ORDER BY resolved_at DESC
    `
	args := []interface{}{roomCode}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.RoundRecord
	for rows.Next() {
		var (
			r                              models.RoundRecord
			impostor                       int64
			participants, ballots, outcome []byte
		)
		if err := rows.Scan(&r.ID, &r.RoomCode, &r.Round, &r.SecretWord, &impostor,
			&participants, &ballots, &outcome, &r.StartedAt, &r.ResolvedAt); err != nil {
			return nil, err
		}
		r.ImpostorID = models.ParticipantID(impostor)
		if err := json.Unmarshal(participants, &r.Participants); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(ballots, &r.Ballots); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(outcome, &r.Outcome); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// PurgeRoundRecords 删除过期记录
func (p *PostgreSQL) PurgeRoundRecords(cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := p.db.ExecContext(ctx, `DELETE FROM round_records WHERE resolved_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *PostgreSQL) ResultCounts(roomCode string) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := p.db.QueryContext(ctx,
		`SELECT result, COUNT(*) FROM round_records WHERE room_code = $1 GROUP BY result`, roomCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var result string
		var total int64
		if err := rows.Scan(&result, &total); err != nil {
			return nil, err
		}
		counts[result] = total
	}
	return counts, rows.Err()
}

// SaveRoomState 保存房间状态
func (p *PostgreSQL) SaveRoomState(info models.RoomInfo) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
        INSERT INTO rooms (code, phase, round, host_id, participants, max_players, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (code)
        DO UPDATE SET phase = $2, round = $3, host_id = $4, participants = $5, updated_at = CURRENT_TIMESTAMP
    `

	_, err := p.db.ExecContext(ctx, query, info.Code, string(info.Phase), info.Round,
		int64(info.HostID), info.Participants, info.MaxPlayers, info.CreatedAt)
	return err
}

// LoadRoomState 加载房间状态
func (p *PostgreSQL) LoadRoomState(roomCode string) (models.RoomInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		info  models.RoomInfo
		phase string
		host  int64
	)
	query := `SELECT code, phase, round, host_id, participants, max_players, created_at, updated_at
        FROM rooms WHERE code = $1`
	err := p.db.QueryRowContext(ctx, query, roomCode).Scan(&info.Code, &phase, &info.Round, &host,
		&info.Participants, &info.MaxPlayers, &info.CreatedAt, &info.LastActive)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.RoomInfo{}, ErrRecordNotFound
		}
		return models.RoomInfo{}, err
	}
	info.Phase = models.Phase(phase)
	info.HostID = models.ParticipantID(host)
	return info, nil
}

// DeleteRoomStates 删除已关闭房间的状态行
func (p *PostgreSQL) DeleteRoomStates(codes []string) error {
	if len(codes) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := p.db.ExecContext(ctx, `DELETE FROM rooms WHERE code = ANY($1)`, pq.Array(codes))
	return err
}

// Close 关闭数据库连接
func (p *PostgreSQL) Close() error {
	return p.db.Close()
}
