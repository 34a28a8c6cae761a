package voting

import (
	"fmt"

	"github.com/wfunc/impostorserver/models"
)

// TiePolicy decides what happens when several targets share the top count.
type TiePolicy int

const (
	// TieNoElimination 平票时无人出局
	TieNoElimination TiePolicy = iota
	// TieFirstInserted 平票时最先获得选票的目标出局
	TieFirstInserted
	// TieLowestID 平票时 ID 最小的目标出局
	TieLowestID
)

func ParseTiePolicy(s string) (TiePolicy, error) {
	switch s {
	case "", "none":
		return TieNoElimination, nil
	case "first":
		return TieFirstInserted, nil
	case "lowest_id":
		return TieLowestID, nil
	default:
		return TieNoElimination, fmt.Errorf("unknown tie policy %q", s)
	}
}

// Tally counts the ballots whose voter and target are both still valid.
// Groups are kept in first-insertion order. WasImpostor is left to the
// caller.
func Tally(ballots []models.Ballot, valid func(models.ParticipantID) bool, policy TiePolicy) models.Outcome {
	counts := make(map[models.ParticipantID]int)
	var order []models.ParticipantID
	counted := 0

	for _, b := range ballots {
		if !valid(b.VoterID) || !valid(b.TargetID) || b.VoterID == b.TargetID {
			continue
		}
		if _, seen := counts[b.TargetID]; !seen {
			order = append(order, b.TargetID)
		}
		counts[b.TargetID]++
		counted++
	}

	outcome := models.Outcome{Counts: counts, Counted: counted}
	if counted == 0 {
		return outcome
	}

	best := 0
	var leaders []models.ParticipantID
	for _, id := range order {
		switch n := counts[id]; {
		case n > best:
			best = n
			leaders = []models.ParticipantID{id}
		case n == best:
			leaders = append(leaders, id)
		}
	}

	outcome.Votes = best
	outcome.Tie = len(leaders) > 1

	winner := leaders[0]
	if outcome.Tie {
		switch policy {
		case TieFirstInserted:
		case TieLowestID:
			for _, id := range leaders[1:] {
				if id < winner {
					winner = id
				}
			}
		default:
			return outcome
		}
	}

	outcome.Eliminated = true
	outcome.VotedOutID = winner
	return outcome
}
