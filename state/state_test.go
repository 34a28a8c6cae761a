package state

import (
	"encoding/json"
	"errors"
	"math/rand"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/impostorserver/models"
	"github.com/wfunc/impostorserver/monitor"
	"github.com/wfunc/impostorserver/network"
	"github.com/wfunc/impostorserver/roles"
	"github.com/wfunc/impostorserver/roster"
	"github.com/wfunc/impostorserver/timer"
	"github.com/wfunc/impostorserver/voting"
)

// MockState records which hooks the machine called.
type MockState struct {
	ID             string
	OnEnterCalled  bool
	OnExitCalled   bool
	OnUpdateCalled bool
}

func (m *MockState) OnEnter() {
	m.OnEnterCalled = true
}

func (m *MockState) OnExit() {
	m.OnExitCalled = true
}

func (m *MockState) OnUpdate() {
	m.OnUpdateCalled = true
}

func (m *MockState) GetID() string {
	return m.ID
}

func (m *MockState) HandleAction(player Player, actionData []byte) error {
	return nil
}

// reset clears the call tracking flags.
func (m *MockState) reset() {
	m.OnEnterCalled = false
	m.OnExitCalled = false
	m.OnUpdateCalled = false
}

func TestStateMachine_InitialState(t *testing.T) {
	initialState := &MockState{ID: string(models.PhaseLobby)}
	sm := NewBaseStateMachine(initialState)

	if !initialState.OnEnterCalled {
		t.Error("Expected OnEnter to be called on the initial state")
	}

	if sm.GetCurrentState() != initialState {
		t.Error("GetCurrentState should return the initial state")
	}
}

func TestStateMachine_ChangeState(t *testing.T) {
	initialState := &MockState{ID: string(models.PhaseLobby)}
	nextState := &MockState{ID: string(models.PhaseSetup)}

	sm := NewBaseStateMachine(initialState)
	initialState.reset() // Reset after initialization

	err := sm.ChangeState(nextState)
	if err != nil {
		t.Fatalf("ChangeState should not return an error, but got: %v", err)
	}

	if !initialState.OnExitCalled {
		t.Error("Expected OnExit to be called on the old state")
	}

	if !nextState.OnEnterCalled {
		t.Error("Expected OnEnter to be called on the new state")
	}

	if sm.GetCurrentState() != nextState {
		t.Error("GetCurrentState should return the new state")
	}
}

func TestStateMachine_AddAndUseTransition(t *testing.T) {
	stateA := &MockState{ID: string(models.PhaseDiscussion)}
	stateB := &MockState{ID: string(models.PhaseVoting)}
	stateC := &MockState{ID: string(models.PhaseResolution)}

	sm := NewBaseStateMachine(stateA)

	err := sm.AddTransition(stateA, stateB, func() bool { return true })
	if err != nil {
		t.Fatalf("AddTransition failed: %v", err)
	}

	// 投票未结算时不能进入结算
	err = sm.AddTransition(stateB, stateC, func() bool { return false })
	if err != nil {
		t.Fatalf("AddTransition failed: %v", err)
	}

	stateA.reset()
	err = sm.ChangeState(stateB)
	if err != nil {
		t.Errorf("Expected discussion -> voting to be allowed, got: %v", err)
	}
	if sm.GetCurrentState().GetID() != stateB.ID {
		t.Errorf("Expected current state %s, got %s", stateB.ID, sm.GetCurrentState().GetID())
	}

	stateB.reset()
	err = sm.ChangeState(stateC)
	if !errors.Is(err, ErrTransitionNotAllowed) {
		t.Errorf("Expected ErrTransitionNotAllowed, but got: %v", err)
	}
	if sm.GetCurrentState().GetID() != stateB.ID {
		t.Errorf("Expected to stay in %s after a blocked transition, got %s", stateB.ID, sm.GetCurrentState().GetID())
	}
	if stateB.OnExitCalled {
		t.Error("OnExit should not be called on the current state if transition is blocked")
	}
	if stateC.OnEnterCalled {
		t.Error("OnEnter should not be called on the new state if transition is blocked")
	}
}

func TestStateMachine_NilConditionAllows(t *testing.T) {
	stateA := &MockState{ID: string(models.PhaseTerminal)}
	stateB := &MockState{ID: string(models.PhaseSetup)}
	sm := NewBaseStateMachine(stateA)

	if err := sm.AddTransition(stateA, stateB, nil); err != nil {
		t.Fatalf("AddTransition failed: %v", err)
	}
	if err := sm.ChangeState(stateB); err != nil {
		t.Fatalf("nil condition should allow the transition, got %v", err)
	}
}

type mockPlayer models.ParticipantID

func (p mockPlayer) GetParticipantID() models.ParticipantID { return models.ParticipantID(p) }

func TestRoomStateBase_RejectsActions(t *testing.T) {
	base := &RoomStateBase{ID: string(models.PhasePlaying)}

	err := base.HandleAction(mockPlayer(1), []byte(`{"type":"vote","target":2}`))

	if !errors.Is(err, models.ErrNotActive) {
		t.Errorf("expected ErrNotActive, got %v", err)
	}
	if base.Phase() != models.PhasePlaying {
		t.Errorf("expected phase playing, got %s", base.Phase())
	}
}

// sentMessage 一条点对点消息
type sentMessage struct {
	to    models.ParticipantID
	msgID uint16
	data  []byte
}

// MockRoom implements RoomContext with real roster, roles and voting, and a
// scheduler that only moves when the test calls step.
type MockRoom struct {
	sm        *BaseStateMachine
	scheduler *timer.Scheduler
	tick      time.Duration
	settings  Settings
	roster    *roster.Roster
	roles     *roles.Engine
	voting    *voting.Coordinator
	round     int

	phases []models.PhaseNotice
	sent   []sentMessage
}

func newMockRoom(t *testing.T, players int, settings Settings) *MockRoom {
	t.Helper()
	m := &MockRoom{
		scheduler: timer.NewScheduler(),
		tick:      100 * time.Millisecond,
		settings:  settings,
		roster:    roster.New(nil),
		roles:     roles.NewEngine("", 2, rand.NewSource(3)),
	}
	m.voting = voting.NewCoordinator(voting.Config{Duration: time.Second, TickInterval: m.tick}, m.roster, m.roles, m)
	for i := 1; i <= players; i++ {
		m.roster.Add(models.ParticipantID(i))
	}
	m.sm = NewBaseStateMachine(NewLobbyState(m))
	return m
}

func (m *MockRoom) GetID() string { return "MOCK01" }

func (m *MockRoom) ChangeState(newState State) error { return m.sm.ChangeState(newState) }

func (m *MockRoom) Broadcast(msgID uint16, data []byte) error {
	if msgID == network.MsgTypePhase {
		var notice models.PhaseNotice
		if err := json.Unmarshal(data, &notice); err != nil {
			return err
		}
		m.phases = append(m.phases, notice)
	}
	return nil
}

func (m *MockRoom) Send(id models.ParticipantID, msgID uint16, data []byte) error {
	m.sent = append(m.sent, sentMessage{to: id, msgID: msgID, data: data})
	return nil
}

func (m *MockRoom) Schedule(d time.Duration, callback func()) int64 {
	return m.scheduler.After(timer.Ticks(d, m.tick), callback)
}

func (m *MockRoom) CancelTimer(id int64) bool { return m.scheduler.Cancel(id) }

func (m *MockRoom) Round() int { return m.round }

func (m *MockRoom) GameRound() int { return m.round }

func (m *MockRoom) BeginRound() int {
	m.round++
	return m.round
}

func (m *MockRoom) Settings() Settings { return m.settings }
func (m *MockRoom) WordPool() []string { return []string{"APPLE", "BEACH"} }
func (m *MockRoom) Roster() *roster.Roster { return m.roster }
func (m *MockRoom) Roles() *roles.Engine { return m.roles }
func (m *MockRoom) Voting() *voting.Coordinator { return m.voting }
func (m *MockRoom) Metrics() *monitor.Monitor { return nil }
func (m *MockRoom) Logger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

// step 模拟房间的一次 tick
func (m *MockRoom) step() {
	m.scheduler.Advance()
	m.sm.GetCurrentState().OnUpdate()
}

func (m *MockRoom) stepUntil(t *testing.T, limit int, done func() bool) {
	t.Helper()
	for i := 0; i < limit; i++ {
		if done() {
			return
		}
		m.step()
	}
	if !done() {
		t.Fatalf("condition not reached after %d ticks, phase %s", limit, m.sm.GetCurrentState().GetID())
	}
}

func (m *MockRoom) inPhase(phase models.Phase) func() bool {
	return func() bool { return m.sm.GetCurrentState().GetID() == string(phase) }
}

func (m *MockRoom) sentOf(msgID uint16) []sentMessage {
	var out []sentMessage
	for _, s := range m.sent {
		if s.msgID == msgID {
			out = append(out, s)
		}
	}
	return out
}

func voteData(target models.ParticipantID) []byte {
	return network.Marshal(models.Action{Type: models.ActionVote, Target: target})
}

var timedSettings = Settings{
	PlayDuration:       200 * time.Millisecond,
	DiscussionDuration: 100 * time.Millisecond,
	ResultGrace:        100 * time.Millisecond,
}

func TestRoundPhases_FullCycle(t *testing.T) {
	room := newMockRoom(t, 3, timedSettings)

	if err := room.ChangeState(NewSetupState(room)); err != nil {
		t.Fatalf("enter setup: %v", err)
	}
	room.stepUntil(t, 3, room.inPhase(models.PhasePlaying))

	assignment, ok := room.roles.Current()
	if !ok {
		t.Fatal("Expected roles to be assigned before playing")
	}
	payloads := room.sentOf(network.MsgTypeRolePayload)
	if len(payloads) != 3 {
		t.Fatalf("Expected 3 addressed payloads, got %d", len(payloads))
	}
	sentinels := 0
	for _, p := range payloads {
		var msg models.RolePayload
		json.Unmarshal(p.data, &msg)
		if msg.Payload == room.roles.Sentinel() {
			sentinels++
			if p.to != assignment.ImpostorID {
				t.Errorf("Sentinel delivered to %d, impostor is %d", p.to, assignment.ImpostorID)
			}
		} else if msg.Payload != assignment.SecretWord {
			t.Errorf("Unexpected payload %q for %d", msg.Payload, p.to)
		}
	}
	if sentinels != 1 {
		t.Errorf("Expected exactly one sentinel, got %d", sentinels)
	}

	room.stepUntil(t, 5, room.inPhase(models.PhaseVoting))

	// 两个平民投内鬼，内鬼投一个平民
	impostor := assignment.ImpostorID
	var innocent models.ParticipantID
	for _, id := range room.roster.IDs() {
		if id != impostor {
			innocent = id
			break
		}
	}
	phase := room.sm.GetCurrentState()
	for _, id := range room.roster.IDs() {
		target := impostor
		if id == impostor {
			target = innocent
		}
		if err := phase.HandleAction(mockPlayer(id), voteData(target)); err != nil {
			t.Fatalf("vote from %d: %v", id, err)
		}
	}

	room.stepUntil(t, 2, room.inPhase(models.PhaseResolution))

	p, _ := room.roster.Get(impostor)
	if !p.Released {
		t.Error("Expected the caught impostor to be released")
	}
	released := room.sentOf(network.MsgTypeReleased)
	if len(released) != 1 || released[0].to != impostor {
		t.Errorf("Expected a single release notice to %d, got %+v", impostor, released)
	}

	room.stepUntil(t, 5, func() bool { return room.round == 2 })
	if room.voting.Status() != voting.StatusIdle {
		t.Errorf("Expected coordinator back to idle, got %s", room.voting.Status())
	}
	if p, _ := room.roster.Get(impostor); p.Released {
		t.Error("Expected release to be cleared for the next round")
	}

	want := []models.Phase{
		models.PhaseLobby, models.PhaseSetup, models.PhasePlaying, models.PhaseDiscussion,
		models.PhaseVoting, models.PhaseResolution, models.PhaseSetup,
	}
	if len(room.phases) < len(want) {
		t.Fatalf("Expected at least %d phase notices, got %+v", len(want), room.phases)
	}
	for i, phase := range want {
		if room.phases[i].Phase != phase {
			t.Errorf("notice %d: expected %s, got %s", i, phase, room.phases[i].Phase)
		}
	}
}

func TestResolution_MaxRoundsEndsGame(t *testing.T) {
	settings := timedSettings
	settings.MaxRounds = 1
	room := newMockRoom(t, 2, settings)

	room.ChangeState(NewSetupState(room))
	room.stepUntil(t, 10, room.inPhase(models.PhaseVoting))

	// 无人投票，倒计时结束后无人出局
	room.stepUntil(t, 15, room.inPhase(models.PhaseResolution))
	outcome, ok := room.voting.Outcome()
	if !ok || outcome.Eliminated {
		t.Errorf("Expected a no-elimination outcome, got %+v", outcome)
	}

	room.stepUntil(t, 3, room.inPhase(models.PhaseTerminal))
	if room.round != 1 {
		t.Errorf("Expected to stop after round 1, got %d", room.round)
	}
	if _, ok := room.roles.Current(); ok {
		t.Error("Expected roles to be cleared at the end of the game")
	}
}

func TestSetupState_WaitsForPlayers(t *testing.T) {
	room := newMockRoom(t, 1, timedSettings)

	room.ChangeState(NewSetupState(room))
	room.step()
	room.step()

	errs := room.sentOf(network.MsgTypeError)
	if len(errs) != 1 {
		t.Fatalf("Expected one report to the host, got %d", len(errs))
	}
	var notice models.ErrorNotice
	json.Unmarshal(errs[0].data, &notice)
	if errs[0].to != 1 || notice.Code != "insufficient_players" {
		t.Errorf("Expected insufficient_players to host 1, got %+v to %d", notice, errs[0].to)
	}
	if room.sm.GetCurrentState().GetID() != string(models.PhaseSetup) {
		t.Fatalf("Expected to stay in setup, got %s", room.sm.GetCurrentState().GetID())
	}

	room.roster.Add(2)
	room.stepUntil(t, 2, room.inPhase(models.PhasePlaying))
}

func TestPlayingState_ExitCancelsTimer(t *testing.T) {
	room := newMockRoom(t, 2, timedSettings)
	room.ChangeState(NewSetupState(room))
	room.stepUntil(t, 2, room.inPhase(models.PhasePlaying))

	if room.scheduler.Pending() != 1 {
		t.Fatalf("Expected the play timer to be pending, got %d", room.scheduler.Pending())
	}
	room.ChangeState(NewTerminalState(room))
	if room.scheduler.Pending() != 0 {
		t.Errorf("Expected leaving playing to cancel its timer, got %d pending", room.scheduler.Pending())
	}
}

func TestVotingState_RejectsBadActions(t *testing.T) {
	room := newMockRoom(t, 3, timedSettings)
	room.ChangeState(NewSetupState(room))
	room.stepUntil(t, 10, room.inPhase(models.PhaseVoting))
	state := room.sm.GetCurrentState()

	cases := map[string][]byte{
		"garbage":     []byte("{"),
		"unknown":     []byte(`{"type":"dance","target":2}`),
		"self vote":   voteData(1),
		"no such one": voteData(42),
	}
	for name, data := range cases {
		if err := state.HandleAction(mockPlayer(1), data); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
	if err := state.HandleAction(mockPlayer(1), voteData(2)); err != nil {
		t.Errorf("valid vote rejected: %v", err)
	}
	if n := len(room.voting.Ballots()); n != 1 {
		t.Errorf("Expected 1 ballot, got %d", n)
	}
}
