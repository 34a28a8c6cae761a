// Package roster is the authoritative participant list of one room. It is
// not safe for concurrent use; the owning room mutates it on its tick.
package roster

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/wfunc/impostorserver/models"
)

const MaxNameLength = 32

// ChangeFunc receives a full snapshot after every mutation.
type ChangeFunc func(snapshot []models.Participant)

type Roster struct {
	order    []models.ParticipantID
	members  map[models.ParticipantID]*models.Participant
	hostID   models.ParticipantID
	joined   int
	onChange ChangeFunc
}

func New(onChange ChangeFunc) *Roster {
	return &Roster{
		members:  make(map[models.ParticipantID]*models.Participant),
		onChange: onChange,
	}
}

// Add 加入玩家并分配顺序名称；第一个加入的是主机
func (r *Roster) Add(id models.ParticipantID) models.Participant {
	if p, ok := r.members[id]; ok {
		return *p
	}

	p := &models.Participant{
		ID:        id,
		Name:      fmt.Sprintf("Player %d", r.joined),
		Connected: true,
	}
	if len(r.order) == 0 {
		p.Host = true
		r.hostID = id
	}
	r.joined++

	r.members[id] = p
	r.order = append(r.order, id)
	r.changed()
	return *p
}

// Remove 移除玩家；主机离开时由最早加入的玩家接任
func (r *Roster) Remove(id models.ParticipantID) error {
	if _, ok := r.members[id]; !ok {
		return models.ErrNotFound
	}

	delete(r.members, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	if id == r.hostID {
		r.hostID = 0
		if len(r.order) > 0 {
			r.hostID = r.order[0]
			r.members[r.hostID].Host = true
		}
	}
	r.changed()
	return nil
}

func (r *Roster) Rename(id models.ParticipantID, name string) error {
	p, ok := r.members[id]
	if !ok {
		return models.ErrNotFound
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return models.ErrEmptyName
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return models.ErrNameTooLong
	}
	if p.Name == name {
		return nil
	}

	p.Name = name
	r.changed()
	return nil
}

func (r *Roster) Get(id models.ParticipantID) (models.Participant, error) {
	p, ok := r.members[id]
	if !ok {
		return models.Participant{}, models.ErrNotFound
	}
	return *p, nil
}

// List returns participants in insertion order.
func (r *Roster) List() []models.Participant {
	result := make([]models.Participant, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, *r.members[id])
	}
	return result
}

func (r *Roster) IDs() []models.ParticipantID {
	ids := make([]models.ParticipantID, len(r.order))
	copy(ids, r.order)
	return ids
}

func (r *Roster) Contains(id models.ParticipantID) bool {
	_, ok := r.members[id]
	return ok
}

func (r *Roster) Len() int {
	return len(r.order)
}

// HostID 返回 0 表示房间为空
func (r *Roster) HostID() models.ParticipantID {
	return r.hostID
}

func (r *Roster) IsHost(id models.ParticipantID) bool {
	return r.hostID != 0 && r.hostID == id
}

// SetReleased marks the participant as voted-out impostor for this round.
func (r *Roster) SetReleased(id models.ParticipantID) error {
	p, ok := r.members[id]
	if !ok {
		return models.ErrNotFound
	}
	if p.Released {
		return nil
	}
	p.Released = true
	r.changed()
	return nil
}

func (r *Roster) ClearReleased() {
	dirty := false
	for _, p := range r.members {
		if p.Released {
			p.Released = false
			dirty = true
		}
	}
	if dirty {
		r.changed()
	}
}

// String renders the roster the way every replica displays it. The host
// marker follows the current host, not the first name ever assigned.
func (r *Roster) String() string {
	var b strings.Builder
	b.WriteString("PLAYERS:\n")
	for _, id := range r.order {
		b.WriteString(r.members[id].Name)
		if id == r.hostID {
			b.WriteString(" (Host)")
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func (r *Roster) changed() {
	if r.onChange != nil {
		r.onChange(r.List())
	}
}
