// Package replica is the participant-side read-only copy of a room. It never
// decides anything; it applies host packets and raises callbacks.
package replica

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/wfunc/impostorserver/models"
	"github.com/wfunc/impostorserver/network"
)

// Listener callbacks run on the goroutine that calls Apply. Nil fields are skipped.
type Listener struct {
	OnWelcome       func(models.Welcome)
	OnRosterChanged func(models.RosterSnapshot)
	OnPhaseChanged  func(models.PhaseNotice)
	OnRolePayload   func(models.RolePayload)
	OnVotingStarted func(models.VotingStarted)
	OnVotingTick    func(models.VotingTick)
	OnVoteResolved  func(models.VoteResolved)
	OnReleased      func(models.Released)
	OnError         func(models.ErrorNotice)
}

type phaseKey struct {
	round int
	phase models.Phase
}

type Replica struct {
	listener Listener

	mu           sync.RWMutex
	self         models.ParticipantID
	roomCode     string
	hostID       models.ParticipantID
	roster       []models.Participant
	rosterText   string
	round        int
	phase        models.Phase
	seen         map[phaseKey]bool
	payloadRound int
	payload      string
	seconds      int
	outcome      *models.Outcome
	released     bool
}

func New(listener Listener) *Replica {
	return &Replica{
		listener: listener,
		seen:     make(map[phaseKey]bool),
	}
}

// Apply decodes one host packet. Unknown message ids are ignored.
func (r *Replica) Apply(p *network.Packet) error {
	switch p.MsgID {
	case network.MsgTypeWelcome:
		var msg models.Welcome
		if err := decode(p, &msg); err != nil {
			return err
		}
		r.mu.Lock()
		r.self = msg.ParticipantID
		r.roomCode = msg.RoomCode
		if msg.Round > r.round {
			r.round = msg.Round
		}
		if r.phase == "" {
			r.phase = msg.Phase
		}
		r.mu.Unlock()
		if r.listener.OnWelcome != nil {
			r.listener.OnWelcome(msg)
		}

	case network.MsgTypeRoster:
		var msg models.RosterSnapshot
		if err := decode(p, &msg); err != nil {
			return err
		}
		r.mu.Lock()
		r.hostID = msg.HostID
		r.roster = msg.Participants
		r.rosterText = msg.Text
		r.mu.Unlock()
		if r.listener.OnRosterChanged != nil {
			r.listener.OnRosterChanged(msg)
		}

	case network.MsgTypePhase:
		var msg models.PhaseNotice
		if err := decode(p, &msg); err != nil {
			return err
		}
		if !r.applyPhase(msg) {
			return nil
		}
		if r.listener.OnPhaseChanged != nil {
			r.listener.OnPhaseChanged(msg)
		}

	case network.MsgTypeRolePayload:
		var msg models.RolePayload
		if err := decode(p, &msg); err != nil {
			return err
		}
		r.mu.Lock()
		// 每回合只接受一次
		if msg.Round <= r.payloadRound {
			r.mu.Unlock()
			return nil
		}
		r.payloadRound = msg.Round
		r.payload = msg.Payload
		r.mu.Unlock()
		if r.listener.OnRolePayload != nil {
			r.listener.OnRolePayload(msg)
		}

	case network.MsgTypeVotingStarted:
		var msg models.VotingStarted
		if err := decode(p, &msg); err != nil {
			return err
		}
		r.mu.Lock()
		r.seconds = msg.Seconds
		r.outcome = nil
		r.mu.Unlock()
		if r.listener.OnVotingStarted != nil {
			r.listener.OnVotingStarted(msg)
		}

	case network.MsgTypeVotingTick:
		var msg models.VotingTick
		if err := decode(p, &msg); err != nil {
			return err
		}
		r.mu.Lock()
		r.seconds = msg.SecondsRemaining
		r.mu.Unlock()
		if r.listener.OnVotingTick != nil {
			r.listener.OnVotingTick(msg)
		}

	case network.MsgTypeVoteResolved:
		var msg models.VoteResolved
		if err := decode(p, &msg); err != nil {
			return err
		}
		r.mu.Lock()
		outcome := msg.Outcome
		r.outcome = &outcome
		r.seconds = 0
		r.mu.Unlock()
		if r.listener.OnVoteResolved != nil {
			r.listener.OnVoteResolved(msg)
		}

	case network.MsgTypeReleased:
		var msg models.Released
		if err := decode(p, &msg); err != nil {
			return err
		}
		r.mu.Lock()
		r.released = true
		r.mu.Unlock()
		if r.listener.OnReleased != nil {
			r.listener.OnReleased(msg)
		}

	case network.MsgTypeError:
		var msg models.ErrorNotice
		if err := decode(p, &msg); err != nil {
			return err
		}
		if r.listener.OnError != nil {
			r.listener.OnError(msg)
		}
	}
	return nil
}

// applyPhase reports whether the notice is new. Repeats and notices from
// earlier rounds are dropped.
func (r *Replica) applyPhase(msg models.PhaseNotice) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := phaseKey{msg.Round, msg.Phase}
	if r.seen[key] || msg.Round < r.round {
		return false
	}
	r.seen[key] = true
	r.round = msg.Round
	r.phase = msg.Phase

	if msg.Phase == models.PhaseSetup {
		r.released = false
		r.outcome = nil
	}
	return true
}

func decode(p *network.Packet, v interface{}) error {
	if err := json.Unmarshal(p.Data, v); err != nil {
		return fmt.Errorf("decode message %d: %w", p.MsgID, err)
	}
	return nil
}

func (r *Replica) Self() models.ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.self
}

func (r *Replica) RoomCode() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roomCode
}

func (r *Replica) IsHost() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.self != 0 && r.self == r.hostID
}

func (r *Replica) Roster() []models.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Participant, len(r.roster))
	copy(out, r.roster)
	return out
}

// RosterText is the "PLAYERS:" list as the host rendered it.
func (r *Replica) RosterText() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rosterText
}

func (r *Replica) Round() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.round
}

func (r *Replica) Phase() models.Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

// Payload is the secret word, or the impostor sentinel, for the current round.
func (r *Replica) Payload() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.payloadRound == 0 || r.payloadRound != r.round {
		return "", false
	}
	return r.payload, true
}

func (r *Replica) SecondsRemaining() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seconds
}

func (r *Replica) Outcome() (models.Outcome, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.outcome == nil {
		return models.Outcome{}, false
	}
	return *r.outcome, true
}

// Released reports whether this participant was caught and freed this round.
func (r *Replica) Released() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.released
}
