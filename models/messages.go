package models

// 主机 -> 玩家

// Welcome 连接加入房间后单独发给该玩家
type Welcome struct {
	ParticipantID ParticipantID `json:"participant_id"`
	RoomCode      string        `json:"room_code"`
	Round         int           `json:"round"`
	Phase         Phase         `json:"phase"`
}

// RosterSnapshot 完整名单快照，每次名单变更后广播
type RosterSnapshot struct {
	RoomCode     string        `json:"room_code"`
	HostID       ParticipantID `json:"host_id"`
	Participants []Participant `json:"participants"`
	Text         string        `json:"text"`
}

// PhaseNotice 阶段变更通知，(Round, Phase) 唯一确定一次通知
type PhaseNotice struct {
	Round int   `json:"round"`
	Phase Phase `json:"phase"`
}

// RolePayload 只发给单个玩家：秘密词或内鬼标记
type RolePayload struct {
	Round   int    `json:"round"`
	Payload string `json:"payload"`
}

type VotingStarted struct {
	Round   int `json:"round"`
	Seconds int `json:"seconds"`
}

type VotingTick struct {
	Round            int `json:"round"`
	SecondsRemaining int `json:"seconds_remaining"`
}

type VoteResolved struct {
	Round   int     `json:"round"`
	Outcome Outcome `json:"outcome"`
}

// Released 只发给被投出的内鬼
type Released struct {
	Round int `json:"round"`
}

type ErrorNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// 玩家 -> 主机

type JoinRoomRequest struct {
	RoomCode string `json:"room_code"`
}

type RenameRequest struct {
	Name string `json:"name"`
}

// Action 回合内玩家动作，目前只有投票
type Action struct {
	Type   string        `json:"type"`
	Target ParticipantID `json:"target"`
}

const ActionVote = "vote"
