package roles

import (
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/impostorserver/models"
	"github.com/wfunc/impostorserver/network"
)

// recordingSender keeps every message per recipient.
type recordingSender struct {
	inbox map[models.ParticipantID][]models.RolePayload
}

func newRecordingSender() *recordingSender {
	return &recordingSender{inbox: make(map[models.ParticipantID][]models.RolePayload)}
}

func (s *recordingSender) Send(id models.ParticipantID, msgID uint16, data []byte) error {
	if msgID != network.MsgTypeRolePayload {
		return nil
	}
	var msg models.RolePayload
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	s.inbox[id] = append(s.inbox[id], msg)
	return nil
}

var words = []string{"APPLE", "BEACH", "CASTLE"}

func ids(n int) []models.ParticipantID {
	out := make([]models.ParticipantID, n)
	for i := range out {
		out[i] = models.ParticipantID(i + 1)
	}
	return out
}

func TestAssignRoles_ExactlyOneImpostor(t *testing.T) {
	for seed := int64(0); seed < 200; seed++ {
		e := NewEngine("", 2, rand.NewSource(seed))
		players := ids(2 + int(seed%7))

		a, err := e.AssignRoles(players, words)
		require.NoError(t, err)
		assert.Contains(t, players, a.ImpostorID)
		assert.Contains(t, words, a.SecretWord)

		sender := newRecordingSender()
		require.NoError(t, e.Deliver(1, sender))

		impostors := 0
		for _, p := range players {
			msgs := sender.inbox[p]
			require.Len(t, msgs, 1, "participant %d gets exactly one payload", p)
			switch msgs[0].Payload {
			case DefaultSentinel:
				impostors++
				assert.Equal(t, a.ImpostorID, p)
			case a.SecretWord:
			default:
				t.Fatalf("unexpected payload %q", msgs[0].Payload)
			}
		}
		assert.Equal(t, 1, impostors)
	}
}

func TestDeliver_NoCrossDelivery(t *testing.T) {
	e := NewEngine("SPY", 2, rand.NewSource(7))
	players := []models.ParticipantID{11, 22, 33}
	a, err := e.AssignRoles(players, words)
	require.NoError(t, err)

	sender := newRecordingSender()
	require.NoError(t, e.Deliver(3, sender))

	assert.Len(t, sender.inbox, len(players), "nobody outside the assignment receives anything")
	for _, p := range players {
		require.Len(t, sender.inbox[p], 1)
		assert.Equal(t, a.Payload(p, "SPY"), sender.inbox[p][0].Payload)
		assert.Equal(t, 3, sender.inbox[p][0].Round)
	}
}

func TestAssignRoles_InsufficientPlayers(t *testing.T) {
	e := NewEngine("", 0, rand.NewSource(1))

	_, err := e.AssignRoles(ids(1), words)
	assert.ErrorIs(t, err, models.ErrInsufficientPlayers)

	_, err = e.AssignRoles(nil, words)
	assert.ErrorIs(t, err, models.ErrInsufficientPlayers)

	_, ok := e.Current()
	assert.False(t, ok)
}

func TestAssignRoles_MinPlayersConfigurable(t *testing.T) {
	e := NewEngine("", 3, rand.NewSource(1))

	_, err := e.AssignRoles(ids(2), words)
	assert.ErrorIs(t, err, models.ErrInsufficientPlayers)

	_, err = e.AssignRoles(ids(3), words)
	assert.NoError(t, err)
}

func TestAssignRoles_EmptyPool(t *testing.T) {
	e := NewEngine("", 2, rand.NewSource(1))

	_, err := e.AssignRoles(ids(3), nil)
	assert.ErrorIs(t, err, models.ErrEmptyWordPool)
}

func TestAssignRoles_RestartOverwrites(t *testing.T) {
	e := NewEngine("", 2, rand.NewSource(99))
	players := ids(6)
	pool := []string{"A", "B", "C", "D", "E", "F", "G", "H"}

	first, err := e.AssignRoles(players, pool)
	require.NoError(t, err)

	changed := false
	for i := 0; i < 20; i++ {
		next, err := e.AssignRoles(players, pool)
		require.NoError(t, err)

		current, ok := e.Current()
		require.True(t, ok)
		assert.Equal(t, next.SecretWord, current.SecretWord)
		assert.Equal(t, next.ImpostorID, current.ImpostorID)
		assert.True(t, e.IsImpostor(next.ImpostorID))

		if next.SecretWord != first.SecretWord || next.ImpostorID != first.ImpostorID {
			changed = true
		}
	}
	assert.True(t, changed, "re-sampling should eventually produce a different pair")
}

func TestAssignRoles_CopiesParticipants(t *testing.T) {
	e := NewEngine("", 2, rand.NewSource(1))
	players := ids(3)

	a, err := e.AssignRoles(players, words)
	require.NoError(t, err)
	players[0] = 999

	assert.NotContains(t, a.Participants, models.ParticipantID(999))
}

func TestDeliver_WithoutAssignment(t *testing.T) {
	e := NewEngine("", 2, rand.NewSource(1))
	assert.ErrorIs(t, e.Deliver(1, newRecordingSender()), models.ErrNotActive)
}

func TestLoadWords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.txt")
	require.NoError(t, os.WriteFile(path, []byte("apple\r\n\n  beach \n\ncastle"), 0o644))

	got, err := LoadWords(path)

	require.NoError(t, err)
	assert.Equal(t, []string{"apple", "beach", "castle"}, got)
}

func TestLoadWords_MissingFile(t *testing.T) {
	_, err := LoadWords(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}
