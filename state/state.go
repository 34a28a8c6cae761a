package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/wfunc/impostorserver/models"
	"github.com/wfunc/impostorserver/network"
)

// 状态机接口
type StateMachine interface {
	ChangeState(state State) error
	GetCurrentState() State
	AddTransition(from State, to State, condition func() bool) error
}

// 状态接口
// OnEnter 和 OnExit 在状态机锁内执行，不能在其中调用 ChangeState；
// 需要切换时放到 OnUpdate 或定时回调里。
type State interface {
	OnEnter()
	OnExit()
	OnUpdate()
	GetID() string
	HandleAction(player Player, actionData []byte) error
}

// ErrTransitionNotAllowed is returned when a state transition is not allowed.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// 基础状态机实现
type BaseStateMachine struct {
	currentState State
	transitions  map[string]map[string]func() bool // fromState -> toState -> condition
	mutex        sync.RWMutex
}

func NewBaseStateMachine(initialState State) *BaseStateMachine {
	machine := &BaseStateMachine{
		currentState: initialState,
		transitions:  make(map[string]map[string]func() bool),
	}
	initialState.OnEnter()
	return machine
}

func (sm *BaseStateMachine) ChangeState(newState State) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	currentID := sm.currentState.GetID()
	newID := newState.GetID()

	// 检查是否有转换条件
	if conditions, exists := sm.transitions[currentID]; exists {
		if condition, exists := conditions[newID]; exists {
			if condition != nil && !condition() {
				return fmt.Errorf("%w: %s -> %s", ErrTransitionNotAllowed, currentID, newID)
			}
		}
	}

	sm.currentState.OnExit()
	sm.currentState = newState
	sm.currentState.OnEnter()

	return nil
}

func (sm *BaseStateMachine) GetCurrentState() State {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.currentState
}

func (sm *BaseStateMachine) AddTransition(from State, to State, condition func() bool) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	fromID := from.GetID()
	toID := to.GetID()

	if _, exists := sm.transitions[fromID]; !exists {
		sm.transitions[fromID] = make(map[string]func() bool)
	}

	sm.transitions[fromID][toID] = condition
	return nil
}

// 房间状态基础结构
type RoomStateBase struct {
	ID   string
	Room RoomContext
}

func (s *RoomStateBase) GetID() string {
	return s.ID
}

// Phase is the wire name of this state.
func (s *RoomStateBase) Phase() models.Phase {
	return models.Phase(s.ID)
}

func (s *RoomStateBase) OnEnter() {
	// 默认实现
}

func (s *RoomStateBase) OnExit() {
	// 默认实现
}

func (s *RoomStateBase) OnUpdate() {
	// 默认实现
}

// HandleAction rejects actions; only phases that accept input override it.
func (s *RoomStateBase) HandleAction(player Player, actionData []byte) error {
	return fmt.Errorf("%w: %s", models.ErrNotActive, s.ID)
}

// notifyPhase 广播 {round, phase}，副本端按这对值去重
func (s *RoomStateBase) notifyPhase() {
	msg := models.PhaseNotice{Round: s.Room.Round(), Phase: s.Phase()}
	if err := s.Room.Broadcast(network.MsgTypePhase, network.Marshal(msg)); err != nil {
		s.Room.Logger().Warnf("broadcast phase %s: %v", s.ID, err)
	}
}

// reportToHost 把错误单独发给主机
func (s *RoomStateBase) reportToHost(err error) {
	host := s.Room.Roster().HostID()
	if host == 0 {
		return
	}
	notice := models.ErrorNotice{Code: models.ErrorCode(err), Message: err.Error()}
	if sendErr := s.Room.Send(host, network.MsgTypeError, network.Marshal(notice)); sendErr != nil {
		s.Room.Logger().Warnf("report to host %d: %v", host, sendErr)
	}
}

// NewLobbyState creates the pre-game waiting state.
func NewLobbyState(room RoomContext) *LobbyState {
	return &LobbyState{
		RoomStateBase: RoomStateBase{
			ID:   string(models.PhaseLobby),
			Room: room,
		},
	}
}

// 等待状态：等主机开始，或房间满员时自动开始
type LobbyState struct {
	RoomStateBase
}

func (s *LobbyState) OnEnter() {
	s.notifyPhase()
}

func (s *LobbyState) OnUpdate() {
	settings := s.Room.Settings()
	if !settings.AutoStart || settings.MaxPlayers <= 0 {
		return
	}

	// 如果房间已满，立即开始游戏
	if s.Room.Roster().Len() >= settings.MaxPlayers {
		if err := s.Room.ChangeState(NewSetupState(s.Room)); err != nil {
			s.Room.Logger().Warnf("auto start: %v", err)
		}
	}
}

// NewTerminalState creates the end-of-game state.
func NewTerminalState(room RoomContext) *TerminalState {
	return &TerminalState{
		RoomStateBase: RoomStateBase{
			ID:   string(models.PhaseTerminal),
			Room: room,
		},
	}
}

// TerminalState 游戏结束，只接受主机重开
type TerminalState struct {
	RoomStateBase
}

func (s *TerminalState) OnEnter() {
	s.Room.Voting().Reset()
	s.Room.Roles().Clear()
	s.Room.Logger().Infof("game over after round %d", s.Room.Round())
	s.notifyPhase()
}
