// Package voting collects one ballot per participant during a timed vote
// and resolves it into an Outcome.
package voting

import (
	"fmt"
	"time"

	"github.com/wfunc/impostorserver/models"
	"github.com/wfunc/impostorserver/network"
	"github.com/wfunc/impostorserver/timer"
)

// Status 投票协调器状态
type Status int

const (
	StatusIdle Status = iota
	StatusActive
	StatusResolved
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusActive:
		return "active"
	case StatusResolved:
		return "resolved"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Membership answers whether an id is a current roster member.
type Membership interface {
	Contains(id models.ParticipantID) bool
	IDs() []models.ParticipantID
}

type ImpostorOracle interface {
	IsImpostor(id models.ParticipantID) bool
}

type Notifier interface {
	Broadcast(msgID uint16, data []byte) error
}

type Config struct {
	Duration     time.Duration
	TickInterval time.Duration
	TiePolicy    TiePolicy
}

type Coordinator struct {
	cfg        Config
	members    Membership
	oracle     ImpostorOracle
	notify     Notifier
	onResolved func(models.Outcome, []models.Ballot)

	status      Status
	round       int
	ballots     []models.Ballot
	countdown   *timer.Countdown
	lastSeconds int
	outcome     models.Outcome
}

func NewCoordinator(cfg Config, members Membership, oracle ImpostorOracle, notify Notifier) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		members: members,
		oracle:  oracle,
		notify:  notify,
	}
}

// OnResolved registers a hook run once per Active -> Resolved transition,
// after the outcome has been broadcast. It receives the ballots as cast.
func (c *Coordinator) OnResolved(fn func(models.Outcome, []models.Ballot)) {
	c.onResolved = fn
}

func (c *Coordinator) Status() Status {
	return c.status
}

// Start 清空选票、启动倒计时并广播投票开始
func (c *Coordinator) Start(round int) error {
	if c.status != StatusIdle {
		return fmt.Errorf("%w: voting is %s", models.ErrNotActive, c.status)
	}

	c.status = StatusActive
	c.round = round
	c.ballots = c.ballots[:0]
	c.outcome = models.Outcome{}
	c.countdown = timer.NewCountdown(c.cfg.Duration, c.cfg.TickInterval)
	c.lastSeconds = c.countdown.SecondsRemaining()

	c.broadcast(network.MsgTypeVotingStarted, models.VotingStarted{Round: round, Seconds: c.lastSeconds})
	return nil
}

// CastVote records or replaces the voter's ballot.
func (c *Coordinator) CastVote(voter, target models.ParticipantID) error {
	if c.status != StatusActive {
		return fmt.Errorf("%w: voting is %s", models.ErrNotActive, c.status)
	}
	if voter == target {
		return models.ErrSelfVote
	}
	if !c.members.Contains(voter) {
		return fmt.Errorf("voter %d: %w", voter, models.ErrNotFound)
	}
	if !c.members.Contains(target) {
		return fmt.Errorf("target %d: %w", target, models.ErrNotFound)
	}

	for i, b := range c.ballots {
		if b.VoterID == voter {
			c.ballots = append(c.ballots[:i], c.ballots[i+1:]...)
			break
		}
	}
	c.ballots = append(c.ballots, models.Ballot{VoterID: voter, TargetID: target})
	return nil
}

// Tick advances the countdown by one host tick. It resolves the vote when
// time runs out or every current member holds a valid ballot.
func (c *Coordinator) Tick() {
	if c.status != StatusActive {
		return
	}

	expired := c.countdown.Tick()
	if secs := c.countdown.SecondsRemaining(); secs != c.lastSeconds {
		c.lastSeconds = secs
		c.broadcast(network.MsgTypeVotingTick, models.VotingTick{Round: c.round, SecondsRemaining: secs})
	}

	if expired || c.AllVoted() {
		c.resolve()
	}
}

// AllVoted reports whether every current member has a ballot whose target
// is still a member.
func (c *Coordinator) AllVoted() bool {
	ids := c.members.IDs()
	if len(ids) == 0 {
		return false
	}

	voted := make(map[models.ParticipantID]bool, len(c.ballots))
	for _, b := range c.ballots {
		if c.members.Contains(b.TargetID) {
			voted[b.VoterID] = true
		}
	}
	for _, id := range ids {
		if !voted[id] {
			return false
		}
	}
	return true
}

func (c *Coordinator) resolve() {
	outcome := Tally(c.ballots, c.members.Contains, c.cfg.TiePolicy)
	if outcome.Eliminated && c.oracle != nil {
		outcome.WasImpostor = c.oracle.IsImpostor(outcome.VotedOutID)
	}

	c.status = StatusResolved
	c.outcome = outcome

	c.broadcast(network.MsgTypeVoteResolved, models.VoteResolved{Round: c.round, Outcome: outcome})

	if c.onResolved != nil {
		c.onResolved(outcome, c.Ballots())
	}
}

// Outcome is valid only while Resolved.
func (c *Coordinator) Outcome() (models.Outcome, bool) {
	if c.status != StatusResolved {
		return models.Outcome{}, false
	}
	return c.outcome, true
}

// Acknowledge 结果展示结束后回到 Idle
func (c *Coordinator) Acknowledge() error {
	if c.status != StatusResolved {
		return fmt.Errorf("%w: voting is %s", models.ErrNotActive, c.status)
	}
	c.Reset()
	return nil
}

// Reset drops any vote in progress, e.g. when the round restarts early.
func (c *Coordinator) Reset() {
	c.status = StatusIdle
	c.ballots = c.ballots[:0]
	c.countdown = nil
}

// Ballots returns a copy of the ballots in cast order.
func (c *Coordinator) Ballots() []models.Ballot {
	out := make([]models.Ballot, len(c.ballots))
	copy(out, c.ballots)
	return out
}

// SecondsRemaining is 0 unless voting is active.
func (c *Coordinator) SecondsRemaining() int {
	if c.status != StatusActive || c.countdown == nil {
		return 0
	}
	return c.countdown.SecondsRemaining()
}

func (c *Coordinator) broadcast(msgID uint16, v interface{}) {
	if c.notify == nil {
		return
	}
	_ = c.notify.Broadcast(msgID, network.Marshal(v))
}
