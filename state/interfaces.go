// state/interfaces.go
package state

import (
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/impostorserver/models"
	"github.com/wfunc/impostorserver/monitor"
	"github.com/wfunc/impostorserver/roles"
	"github.com/wfunc/impostorserver/roster"
	"github.com/wfunc/impostorserver/voting"
)

// Player is whoever sent an action into the current phase.
type Player interface {
	GetParticipantID() models.ParticipantID
}

// Settings are the per-room round rules the phases read.
type Settings struct {
	PlayDuration       time.Duration
	DiscussionDuration time.Duration
	ResultGrace        time.Duration
	MaxPlayers         int
	MaxRounds          int // 0 表示不限
	AutoStart          bool
}

// RoomContext defines the interface that a Room must implement to be managed by the state machine.
// This breaks the import cycle between room and state.
type RoomContext interface {
	GetID() string
	ChangeState(newState State) error
	Broadcast(msgID uint16, data []byte) error
	Send(id models.ParticipantID, msgID uint16, data []byte) error

	// Schedule runs callback on the room tick once d has elapsed.
	Schedule(d time.Duration, callback func()) int64
	CancelTimer(id int64) bool

	// Round is the current round number; BeginRound increments and returns it.
	// Round numbers keep growing across games so replicas never see one twice.
	Round() int
	BeginRound() int
	// GameRound is the position of the current round within this game.
	GameRound() int

	Settings() Settings
	WordPool() []string
	Roster() *roster.Roster
	Roles() *roles.Engine
	Voting() *voting.Coordinator
	Metrics() *monitor.Monitor
	Logger() *zap.SugaredLogger
}
