// models/records.go
package models

import (
	"time"
)

// RoundRecord 回合记录，结算时写入数据库并推送到历史队列
type RoundRecord struct {
	ID           string        `json:"id"`
	RoomCode     string        `json:"room_code"`
	Round        int           `json:"round"`
	SecretWord   string        `json:"secret_word"`
	ImpostorID   ParticipantID `json:"impostor_id"`
	Participants []Participant `json:"participants"`
	Ballots      []Ballot      `json:"ballots"`
	Outcome      Outcome       `json:"outcome"`
	StartedAt    time.Time     `json:"started_at"`
	ResolvedAt   time.Time     `json:"resolved_at"`
}

// RoomInfo 房间对外可见的摘要
type RoomInfo struct {
	Code         string        `json:"code"`
	HostID       ParticipantID `json:"host_id"`
	Phase        Phase         `json:"phase"`
	Round        int           `json:"round"`
	Participants int           `json:"participants"`
	MaxPlayers   int           `json:"max_players"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActive   time.Time     `json:"last_active"`
}
