// room/room.go
package room

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wfunc/impostorserver/config"
	"github.com/wfunc/impostorserver/logger"
	"github.com/wfunc/impostorserver/models"
	"github.com/wfunc/impostorserver/monitor"
	"github.com/wfunc/impostorserver/network"
	"github.com/wfunc/impostorserver/roles"
	"github.com/wfunc/impostorserver/roster"
	"github.com/wfunc/impostorserver/state"
	"github.com/wfunc/impostorserver/timer"
	"github.com/wfunc/impostorserver/voting"
)

var (
	ErrRoomClosed = errors.New("room is closed")
	ErrInboxFull  = errors.New("room inbox is full")
)

const inboxSize = 256

// Options 创建房间所需的全部依赖，没有全局单例
type Options struct {
	Code        string
	Game        config.GameConfig
	Words       []string
	Broadcaster Broadcaster
	Recorder    Recorder
	Metrics     *monitor.Monitor
	RandSource  rand.Source
}

// Room 是游戏房间的核心结构。名单、回合和投票只在房间自己的 tick 上修改；
// 其他 goroutine 通过 inbox 投递闭包。
type Room struct {
	ID           string
	MaxPlayers   int
	CreatedAt    time.Time
	StateMachine state.StateMachine

	settings    state.Settings
	tick        time.Duration
	words       []string
	roster      *roster.Roster
	roles       *roles.Engine
	voting      *voting.Coordinator
	scheduler   *timer.Scheduler
	broadcaster Broadcaster
	recorder    Recorder
	metrics     *monitor.Monitor
	log         *zap.SugaredLogger

	round        int
	gameBase     int // 本局开始前的回合号，回合号跨局递增
	roundStarted time.Time

	inbox     chan func()
	ticker    *time.Ticker
	closeChan chan bool
	startOnce sync.Once
	closeOnce sync.Once

	// 供其他 goroutine 读取的快照，每个 tick 刷新
	snapMutex  sync.RWMutex
	info       models.RoomInfo
	members    []models.ParticipantID
	lastActive time.Time
}

// NewRoom builds a room in the lobby. The tick loop does not run until Start.
func NewRoom(opts Options) (*Room, error) {
	policy, err := voting.ParseTiePolicy(opts.Game.TiePolicy)
	if err != nil {
		return nil, err
	}
	if opts.Broadcaster == nil {
		return nil, errors.New("room needs a broadcaster")
	}
	tick := opts.Game.TickInterval
	if tick <= 0 {
		tick = 100 * time.Millisecond // 10 FPS
	}
	src := opts.RandSource
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}

	now := time.Now()
	r := &Room{
		ID:         opts.Code,
		MaxPlayers: opts.Game.MaxPlayers,
		CreatedAt:  now,
		settings: state.Settings{
			PlayDuration:       opts.Game.PlayDuration,
			DiscussionDuration: opts.Game.DiscussionDuration,
			ResultGrace:        opts.Game.ResultGrace,
			MaxPlayers:         opts.Game.MaxPlayers,
			MaxRounds:          opts.Game.MaxRounds,
			AutoStart:          opts.Game.AutoStart,
		},
		tick:        tick,
		words:       opts.Words,
		scheduler:   timer.NewScheduler(),
		broadcaster: opts.Broadcaster,
		recorder:    opts.Recorder,
		metrics:     opts.Metrics,
		log:         logger.Log.With("room", opts.Code),
		inbox:       make(chan func(), inboxSize),
		closeChan:   make(chan bool),
		lastActive:  now,
	}
	r.roster = roster.New(r.onRosterChange)
	r.roles = roles.NewEngine(opts.Game.ImpostorWord, opts.Game.MinPlayers, src)
	r.voting = voting.NewCoordinator(voting.Config{
		Duration:     opts.Game.VotingDuration,
		TickInterval: tick,
		TiePolicy:    policy,
	}, r.roster, r.roles, r)
	r.voting.OnResolved(r.recordRound)

	// 初始化状态机，将房间自身(room)作为上下文传入
	sm := state.NewBaseStateMachine(state.NewLobbyState(r))
	sm.AddTransition(state.NewSetupState(r), state.NewPlayingState(r), func() bool {
		_, ok := r.roles.Current()
		return ok
	})
	sm.AddTransition(state.NewVotingState(r), state.NewResolutionState(r), func() bool {
		return r.voting.Status() == voting.StatusResolved
	})
	r.StateMachine = sm

	r.refreshSnapshot()
	return r, nil
}

// --- 实现 state.RoomContext 接口 ---

// GetID 返回房间加入码
func (r *Room) GetID() string {
	return r.ID
}

// ChangeState 改变房间的状态机状态
func (r *Room) ChangeState(newState state.State) error {
	return r.StateMachine.ChangeState(newState)
}

// Broadcast sends a message to all participants in the room.
func (r *Room) Broadcast(msgID uint16, data []byte) error {
	if r.roster.Len() == 0 {
		return nil
	}
	return r.broadcaster.BroadcastToRoom(r.ID, msgID, data)
}

// Send delivers to one participant only.
func (r *Room) Send(id models.ParticipantID, msgID uint16, data []byte) error {
	return r.broadcaster.SendToParticipant(id, msgID, data)
}

func (r *Room) Schedule(d time.Duration, callback func()) int64 {
	return r.scheduler.After(timer.Ticks(d, r.tick), callback)
}

func (r *Room) CancelTimer(id int64) bool {
	return r.scheduler.Cancel(id)
}

func (r *Room) Round() int {
	return r.round
}

// GameRound counts the rounds of the current game, the running one included.
func (r *Room) GameRound() int {
	return r.round - r.gameBase
}

func (r *Room) BeginRound() int {
	r.round++
	r.roundStarted = time.Now()
	return r.round
}

func (r *Room) Settings() state.Settings {
	return r.settings
}

func (r *Room) WordPool() []string {
	return r.words
}

func (r *Room) Roster() *roster.Roster {
	return r.roster
}

func (r *Room) Roles() *roles.Engine {
	return r.roles
}

func (r *Room) Voting() *voting.Coordinator {
	return r.voting
}

func (r *Room) Metrics() *monitor.Monitor {
	return r.metrics
}

func (r *Room) Logger() *zap.SugaredLogger {
	return r.log
}

// --- 房间核心逻辑 ---

// Phase 当前阶段，只能在房间 tick 上调用；其他 goroutine 用 Info
func (r *Room) Phase() models.Phase {
	return models.Phase(r.StateMachine.GetCurrentState().GetID())
}

// Submit queues fn to run on the room tick.
func (r *Room) Submit(fn func()) error {
	select {
	case <-r.closeChan:
		return ErrRoomClosed
	default:
	}

	select {
	case r.inbox <- fn:
		return nil
	default:
		return ErrInboxFull
	}
}

// Exec runs fn on the room tick and waits for its result.
func (r *Room) Exec(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if err := r.Submit(func() { result <- fn() }); err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.closeChan:
		return ErrRoomClosed
	}
}

// Join 添加一个玩家到房间
func (r *Room) Join(id models.ParticipantID) error {
	r.snapMutex.RLock()
	full := r.MaxPlayers > 0 && len(r.members) >= r.MaxPlayers
	r.snapMutex.RUnlock()
	if full {
		return models.ErrRoomFull
	}
	return r.Submit(func() { r.reply(id, r.join(id)) })
}

// Admit joins on the room tick and waits, so the caller learns whether the
// room still had space.
func (r *Room) Admit(ctx context.Context, id models.ParticipantID) error {
	r.snapMutex.RLock()
	full := r.MaxPlayers > 0 && len(r.members) >= r.MaxPlayers
	r.snapMutex.RUnlock()
	if full {
		return models.ErrRoomFull
	}
	return r.Exec(ctx, func() error { return r.join(id) })
}

// Leave 从房间移除一个玩家
func (r *Room) Leave(id models.ParticipantID) error {
	return r.Submit(func() { r.leave(id) })
}

func (r *Room) Rename(id models.ParticipantID, name string) error {
	return r.Submit(func() {
		r.reply(id, r.roster.Rename(id, name))
	})
}

// Action hands a round action to the current phase.
func (r *Room) Action(id models.ParticipantID, data []byte) error {
	return r.Submit(func() {
		if !r.roster.Contains(id) {
			r.reply(id, models.ErrNotFound)
			return
		}
		current := r.StateMachine.GetCurrentState()
		r.reply(id, current.HandleAction(actor(id), data))
	})
}

// StartRound leaves the lobby (or starts a new game after the end).
func (r *Room) StartRound(by models.ParticipantID) error {
	return r.Submit(func() {
		r.reply(by, r.asHost(by, r.start))
	})
}

// Restart 主机随时重开本回合
func (r *Room) Restart(by models.ParticipantID) error {
	return r.Submit(func() {
		r.reply(by, r.asHost(by, r.restart))
	})
}

// End 主机随时结束游戏
func (r *Room) End(by models.ParticipantID) error {
	return r.Submit(func() {
		r.reply(by, r.asHost(by, r.end))
	})
}

// ForceRestart restarts the round on behalf of an operator.
func (r *Room) ForceRestart(ctx context.Context) error {
	return r.Exec(ctx, r.restart)
}

// ForceEnd ends the game on behalf of an operator.
func (r *Room) ForceEnd(ctx context.Context) error {
	return r.Exec(ctx, r.end)
}

func (r *Room) join(id models.ParticipantID) error {
	if r.roster.Contains(id) {
		return nil
	}
	if r.MaxPlayers > 0 && r.roster.Len() >= r.MaxPlayers {
		return models.ErrRoomFull
	}

	welcome := models.Welcome{ParticipantID: id, RoomCode: r.ID, Round: r.round, Phase: r.Phase()}
	if err := r.Send(id, network.MsgTypeWelcome, network.Marshal(welcome)); err != nil {
		r.log.Warnf("welcome %d: %v", id, err)
	}
	p := r.roster.Add(id)
	r.log.Infof("%s joined as %d", p.Name, id)
	return nil
}

func (r *Room) leave(id models.ParticipantID) {
	p, err := r.roster.Get(id)
	if err != nil {
		return
	}
	r.roster.Remove(id)
	// 内鬼中途离开不判负，本回合照常进行
	r.log.Infof("%s (%d) left, %d remaining", p.Name, id, r.roster.Len())
}

func (r *Room) asHost(by models.ParticipantID, fn func() error) error {
	if !r.roster.IsHost(by) {
		return models.ErrNotHost
	}
	return fn()
}

func (r *Room) start() error {
	switch r.Phase() {
	case models.PhaseLobby:
	case models.PhaseTerminal:
		r.gameBase = r.round
	default:
		return fmt.Errorf("%w: round already running", models.ErrNotActive)
	}
	return r.ChangeState(state.NewSetupState(r))
}

func (r *Room) restart() error {
	if r.Phase() == models.PhaseTerminal {
		r.gameBase = r.round
	}
	r.scheduler.CancelAll()
	r.voting.Reset()
	r.log.Infof("restart requested in round %d (%s)", r.round, r.Phase())
	return r.ChangeState(state.NewSetupState(r))
}

func (r *Room) end() error {
	if r.Phase() == models.PhaseTerminal {
		return fmt.Errorf("%w: game already ended", models.ErrNotActive)
	}
	r.scheduler.CancelAll()
	return r.ChangeState(state.NewTerminalState(r))
}

// reply 只把错误发给发起者
func (r *Room) reply(id models.ParticipantID, err error) {
	if err == nil {
		return
	}
	r.log.Debugf("reject %d: %v", id, err)
	notice := models.ErrorNotice{Code: models.ErrorCode(err), Message: err.Error()}
	if sendErr := r.Send(id, network.MsgTypeError, network.Marshal(notice)); sendErr != nil {
		r.log.Warnf("send error to %d: %v", id, sendErr)
	}
}

func (r *Room) onRosterChange(snapshot []models.Participant) {
	ids := make([]models.ParticipantID, len(snapshot))
	for i, p := range snapshot {
		ids[i] = p.ID
	}
	r.snapMutex.Lock()
	r.members = ids
	r.snapMutex.Unlock()

	msg := models.RosterSnapshot{
		RoomCode:     r.ID,
		HostID:       r.roster.HostID(),
		Participants: snapshot,
		Text:         r.roster.String(),
	}
	if err := r.Broadcast(network.MsgTypeRoster, network.Marshal(msg)); err != nil {
		r.log.Warnf("broadcast roster: %v", err)
	}
}

func (r *Room) recordRound(outcome models.Outcome, ballots []models.Ballot) {
	if r.recorder == nil {
		return
	}
	assignment, _ := r.roles.Current()
	r.recorder.RecordRound(models.RoundRecord{
		ID:           uuid.NewString(),
		RoomCode:     r.ID,
		Round:        r.round,
		SecretWord:   assignment.SecretWord,
		ImpostorID:   assignment.ImpostorID,
		Participants: r.roster.List(),
		Ballots:      ballots,
		Outcome:      outcome,
		StartedAt:    r.roundStarted,
		ResolvedAt:   time.Now(),
	})
}

// --- 快照，供 HTTP/RPC 等其他 goroutine 读取 ---

// Info returns the snapshot taken at the end of the last tick.
func (r *Room) Info() models.RoomInfo {
	r.snapMutex.RLock()
	defer r.snapMutex.RUnlock()
	info := r.info
	info.LastActive = r.lastActive
	return info
}

// ParticipantIDs is safe to call from any goroutine.
func (r *Room) ParticipantIDs() []models.ParticipantID {
	r.snapMutex.RLock()
	defer r.snapMutex.RUnlock()
	ids := make([]models.ParticipantID, len(r.members))
	copy(ids, r.members)
	return ids
}

func (r *Room) LastActive() time.Time {
	r.snapMutex.RLock()
	defer r.snapMutex.RUnlock()
	return r.lastActive
}

func (r *Room) refreshSnapshot() {
	r.snapMutex.Lock()
	defer r.snapMutex.Unlock()
	r.info = models.RoomInfo{
		Code:         r.ID,
		HostID:       r.roster.HostID(),
		Phase:        r.Phase(),
		Round:        r.round,
		Participants: r.roster.Len(),
		MaxPlayers:   r.MaxPlayers,
		CreatedAt:    r.CreatedAt,
	}
}

// Start 启动房间心跳
func (r *Room) Start() {
	r.startOnce.Do(func() {
		r.ticker = time.NewTicker(r.tick)
		go r.loop()
	})
}

// loop 是房间的主循环，定时驱动状态更新
func (r *Room) loop() {
	for {
		select {
		case <-r.ticker.C:
			r.Update()
		case <-r.closeChan:
			r.ticker.Stop()
			return
		}
	}
}

// Update 由主循环调用：先处理 inbox，再推进定时器，最后驱动状态机
func (r *Room) Update() {
	if n := r.drainInbox(); n > 0 {
		r.snapMutex.Lock()
		r.lastActive = time.Now()
		r.snapMutex.Unlock()
	}

	r.scheduler.Advance()

	if r.StateMachine != nil {
		currentState := r.StateMachine.GetCurrentState()
		if currentState != nil {
			currentState.OnUpdate()
		}
	}

	r.refreshSnapshot()
}

// drainInbox runs what was queued before this tick started.
func (r *Room) drainInbox() int {
	n := len(r.inbox)
	for i := 0; i < n; i++ {
		fn := <-r.inbox
		fn()
	}
	return n
}

// Close 关闭房间，停止主循环
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		close(r.closeChan)
	})
}

// actor adapts a participant id to state.Player.
type actor models.ParticipantID

func (a actor) GetParticipantID() models.ParticipantID {
	return models.ParticipantID(a)
}
