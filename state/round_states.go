package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wfunc/impostorserver/models"
	"github.com/wfunc/impostorserver/network"
	"github.com/wfunc/impostorserver/voting"
)

// NewSetupState 创建选词与分配角色阶段
func NewSetupState(room RoomContext) *SetupState {
	return &SetupState{
		RoomStateBase: RoomStateBase{
			ID:   string(models.PhaseSetup),
			Room: room,
		},
	}
}

// SetupState assigns roles on its first tick. When that fails it stays put
// and tries again once the roster size changes.
type SetupState struct {
	RoomStateBase
	round    int
	failedAt int // roster size at the last failed attempt, -1 if none
	assigned bool
}

func (s *SetupState) OnEnter() {
	s.round = s.Room.BeginRound()
	s.failedAt = -1
	s.assigned = false

	s.Room.Roles().Clear()
	s.Room.Roster().ClearReleased()
	s.Room.Metrics().IncRoundsStarted()
	s.Room.Logger().Infof("round %d setup", s.round)
	s.notifyPhase()
}

func (s *SetupState) OnUpdate() {
	if s.assigned {
		return
	}
	size := s.Room.Roster().Len()
	if size == s.failedAt {
		return
	}

	assignment, err := s.Room.Roles().AssignRoles(s.Room.Roster().IDs(), s.Room.WordPool())
	if err != nil {
		s.failedAt = size
		s.Room.Logger().Warnf("round %d assign roles: %v", s.round, err)
		s.reportToHost(err)
		return
	}
	s.assigned = true
	s.Room.Logger().Debugf("round %d: %d participants, impostor %d", s.round, len(assignment.Participants), assignment.ImpostorID)

	if err := s.Room.Roles().Deliver(s.round, s.Room); err != nil {
		s.Room.Logger().Warnf("round %d deliver roles: %v", s.round, err)
	}

	if err := s.Room.ChangeState(NewPlayingState(s.Room)); err != nil {
		s.Room.Logger().Errorf("round %d start playing: %v", s.round, err)
	}
}

// timedState 到时间后切换到 next 的阶段
type timedState struct {
	RoomStateBase
	TimerID int64
}

func (s *timedState) arm(d time.Duration, next func() State) {
	s.TimerID = s.Room.Schedule(d, func() {
		s.TimerID = 0
		if err := s.Room.ChangeState(next()); err != nil {
			s.Room.Logger().Warnf("leave %s: %v", s.ID, err)
		}
	})
}

func (s *timedState) OnExit() {
	if s.TimerID != 0 {
		s.Room.CancelTimer(s.TimerID)
		s.TimerID = 0
	}
}

// NewPlayingState 创建自由游戏阶段
func NewPlayingState(room RoomContext) *PlayingState {
	return &PlayingState{timedState{RoomStateBase: RoomStateBase{
		ID:   string(models.PhasePlaying),
		Room: room,
	}}}
}

type PlayingState struct {
	timedState
}

func (s *PlayingState) OnEnter() {
	s.notifyPhase()
	s.arm(s.Room.Settings().PlayDuration, func() State { return NewDiscussionState(s.Room) })
}

// NewDiscussionState 创建投票前的讨论阶段
func NewDiscussionState(room RoomContext) *DiscussionState {
	return &DiscussionState{timedState{RoomStateBase: RoomStateBase{
		ID:   string(models.PhaseDiscussion),
		Room: room,
	}}}
}

type DiscussionState struct {
	timedState
}

func (s *DiscussionState) OnEnter() {
	s.notifyPhase()
	s.arm(s.Room.Settings().DiscussionDuration, func() State { return NewVotingState(s.Room) })
}

// NewVotingState 创建投票阶段
func NewVotingState(room RoomContext) *VotingState {
	return &VotingState{
		RoomStateBase: RoomStateBase{
			ID:   string(models.PhaseVoting),
			Room: room,
		},
	}
}

// VotingState hands the round over to the voting coordinator until it resolves.
type VotingState struct {
	RoomStateBase
}

func (s *VotingState) OnEnter() {
	s.notifyPhase()
	if err := s.Room.Voting().Start(s.Room.Round()); err != nil {
		s.Room.Logger().Errorf("start voting: %v", err)
	}
}

func (s *VotingState) OnUpdate() {
	coordinator := s.Room.Voting()
	coordinator.Tick()
	if coordinator.Status() != voting.StatusResolved {
		return
	}
	if err := s.Room.ChangeState(NewResolutionState(s.Room)); err != nil {
		s.Room.Logger().Errorf("resolve voting: %v", err)
	}
}

func (s *VotingState) OnExit() {
	// 提前重开时丢弃未完成的投票；已结算的留给 Resolution
	if s.Room.Voting().Status() == voting.StatusActive {
		s.Room.Voting().Reset()
	}
}

// HandleAction 处理投票
func (s *VotingState) HandleAction(player Player, actionData []byte) error {
	var action models.Action
	if err := json.Unmarshal(actionData, &action); err != nil {
		return &models.ValidationError{Field: "action", Reason: err.Error()}
	}
	if action.Type != models.ActionVote {
		return &models.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown action %q", action.Type)}
	}

	if err := s.Room.Voting().CastVote(player.GetParticipantID(), action.Target); err != nil {
		return err
	}
	s.Room.Metrics().IncVotesCast()
	return nil
}

// NewResolutionState 创建结算阶段
func NewResolutionState(room RoomContext) *ResolutionState {
	return &ResolutionState{timedState{RoomStateBase: RoomStateBase{
		ID:   string(models.PhaseResolution),
		Room: room,
	}}}
}

// ResolutionState shows the outcome for the grace period, then starts the
// next round or ends the game once the round limit is reached.
type ResolutionState struct {
	timedState
}

func (s *ResolutionState) OnEnter() {
	s.notifyPhase()

	outcome, ok := s.Room.Voting().Outcome()
	if ok {
		s.Room.Metrics().ObserveOutcome(outcome.Result())
		s.Room.Logger().Infof("round %d resolved: %s", s.Room.Round(), outcome.Result())
		if outcome.WasImpostor {
			s.release(outcome.VotedOutID)
		}
	}

	s.arm(s.Room.Settings().ResultGrace, s.next)
}

func (s *ResolutionState) release(id models.ParticipantID) {
	if err := s.Room.Roster().SetReleased(id); err != nil {
		// 内鬼已经离开
		if !errors.Is(err, models.ErrNotFound) {
			s.Room.Logger().Warnf("release %d: %v", id, err)
		}
		return
	}
	msg := models.Released{Round: s.Room.Round()}
	if err := s.Room.Send(id, network.MsgTypeReleased, network.Marshal(msg)); err != nil {
		s.Room.Logger().Warnf("notify released %d: %v", id, err)
	}
}

func (s *ResolutionState) next() State {
	if err := s.Room.Voting().Acknowledge(); err != nil {
		s.Room.Logger().Warnf("acknowledge outcome: %v", err)
	}
	if limit := s.Room.Settings().MaxRounds; limit > 0 && s.Room.GameRound() >= limit {
		return NewTerminalState(s.Room)
	}
	return NewSetupState(s.Room)
}
