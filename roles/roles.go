// Package roles picks the secret word and the impostor for a round and
// delivers each participant its own payload.
package roles

import (
	"fmt"
	"math/rand"

	"github.com/wfunc/impostorserver/models"
	"github.com/wfunc/impostorserver/network"
)

const (
	DefaultSentinel = "IMPOSTER!!"
	MinPlayers      = 2
)

// Sender delivers a message to exactly one participant.
type Sender interface {
	Send(id models.ParticipantID, msgID uint16, data []byte) error
}

// Assignment 一个回合的角色分配结果，只存在于主机端
type Assignment struct {
	SecretWord   string
	ImpostorID   models.ParticipantID
	Participants []models.ParticipantID
}

func (a *Assignment) Payload(id models.ParticipantID, sentinel string) string {
	if id == a.ImpostorID {
		return sentinel
	}
	return a.SecretWord
}

type Engine struct {
	rng        *rand.Rand
	sentinel   string
	minPlayers int
	current    *Assignment
}

// NewEngine creates an engine. minPlayers below 2 is raised to 2.
func NewEngine(sentinel string, minPlayers int, src rand.Source) *Engine {
	if sentinel == "" {
		sentinel = DefaultSentinel
	}
	if minPlayers < MinPlayers {
		minPlayers = MinPlayers
	}
	return &Engine{
		rng:        rand.New(src),
		sentinel:   sentinel,
		minPlayers: minPlayers,
	}
}

func (e *Engine) Sentinel() string {
	return e.sentinel
}

// AssignRoles 随机选词和内鬼，完全覆盖上一次的分配
func (e *Engine) AssignRoles(participants []models.ParticipantID, wordPool []string) (*Assignment, error) {
	if len(participants) < e.minPlayers {
		return nil, fmt.Errorf("%w: need %d, have %d", models.ErrInsufficientPlayers, e.minPlayers, len(participants))
	}
	if len(wordPool) == 0 {
		return nil, models.ErrEmptyWordPool
	}

	ids := make([]models.ParticipantID, len(participants))
	copy(ids, participants)

	a := &Assignment{
		SecretWord:   wordPool[e.rng.Intn(len(wordPool))],
		ImpostorID:   ids[e.rng.Intn(len(ids))],
		Participants: ids,
	}
	e.current = a
	return a, nil
}

// Deliver sends payload(p) to p alone, for every participant of the
// current assignment. Delivery keeps going past a failed send.
func (e *Engine) Deliver(round int, sender Sender) error {
	if e.current == nil {
		return models.ErrNotActive
	}

	var firstErr error
	for _, id := range e.current.Participants {
		msg := models.RolePayload{Round: round, Payload: e.current.Payload(id, e.sentinel)}
		if err := sender.Send(id, network.MsgTypeRolePayload, network.Marshal(msg)); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("deliver role to %d: %w", id, err)
		}
	}
	return firstErr
}

func (e *Engine) Current() (Assignment, bool) {
	if e.current == nil {
		return Assignment{}, false
	}
	return *e.current, true
}

func (e *Engine) IsImpostor(id models.ParticipantID) bool {
	return e.current != nil && e.current.ImpostorID == id
}

func (e *Engine) Clear() {
	e.current = nil
}
