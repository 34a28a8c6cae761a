// models/models.go
package models

// ParticipantID 由传输层为每个连接分配，连接存续期间保持不变
type ParticipantID uint64

// Participant 房间名单中的一名玩家
type Participant struct {
	ID        ParticipantID `json:"id"`
	Name      string        `json:"name"`
	Connected bool          `json:"connected"`
	Host      bool          `json:"host"`
	Released  bool          `json:"released"` // 被投出的内鬼获得自由行动权限
}

// Phase 回合阶段
type Phase string

const (
	PhaseLobby      Phase = "lobby"
	PhaseSetup      Phase = "setup"
	PhasePlaying    Phase = "playing"
	PhaseDiscussion Phase = "discussion"
	PhaseVoting     Phase = "voting"
	PhaseResolution Phase = "resolution"
	PhaseTerminal   Phase = "terminal"
)

func (p Phase) String() string {
	return string(p)
}

// RoundState 只存在于主机端，SecretWord 和 ImpostorID 从不整体广播
type RoundState struct {
	Round      int           `json:"round"`
	Phase      Phase         `json:"phase"`
	SecretWord string        `json:"-"`
	ImpostorID ParticipantID `json:"-"`
}

// Ballot 一名玩家当前的投票目标
type Ballot struct {
	VoterID  ParticipantID `json:"voter_id"`
	TargetID ParticipantID `json:"target_id"`
}

// Outcome 计票结果
type Outcome struct {
	Eliminated  bool                  `json:"eliminated"`
	VotedOutID  ParticipantID         `json:"voted_out_id,omitempty"`
	Votes       int                   `json:"votes"`
	WasImpostor bool                  `json:"was_impostor"`
	Tie         bool                  `json:"tie"`
	Counts      map[ParticipantID]int `json:"counts"`
	Counted     int                   `json:"counted"` // 有效选票数
}

// Result 用于日志和指标的结果分类
func (o Outcome) Result() string {
	switch {
	case !o.Eliminated:
		return "no_elimination"
	case o.WasImpostor:
		return "impostor_caught"
	default:
		return "innocent_eliminated"
	}
}
