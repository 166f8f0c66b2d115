package engine

import "github.com/google/uuid"

type Phase string

const (
	PhaseBidding   Phase = "BIDDING"
	PhaseReAuction Phase = "RE_AUCTION"
	PhaseDraft     Phase = "DRAFT"
	PhaseComplete  Phase = "COMPLETE"
)

type TeamCount struct {
	TeamID    uuid.UUID
	SoldCount int
}

// ComputePhase decides how unsold players are redistributed once the waiting
// pool is exhausted. It depends only on its arguments.
func ComputePhase(counts []TeamCount, membersPerTeam int) Phase {
	needy, maxEmpty := 0, 0
	for _, c := range counts {
		empty := membersPerTeam - 1 - c.SoldCount
		if empty <= 0 {
			continue
		}
		needy++
		maxEmpty = max(maxEmpty, empty)
	}

	switch {
	case needy == 0:
		return PhaseComplete
	case needy >= 2 && maxEmpty >= 2:
		return PhaseReAuction
	default:
		return PhaseDraft
	}
}

// Redistribution is the selector's view of a room. TurnOrder and
// CurrentTurnTeam are only set in the draft phase.
type Redistribution struct {
	Phase           Phase
	NeedyTeams      []uuid.UUID
	MaxEmptySlots   int
	TurnOrder       []uuid.UUID
	CurrentTurnTeam *uuid.UUID
	AutoDraft       bool
	BiddableTeams   []uuid.UUID
	Pool            []uuid.UUID
}

// Redistribute evaluates the redistribution selector against s. Nothing is
// cached; every call reflects the current balances and rosters.
func Redistribute(s State) Redistribution {
	var (
		r      Redistribution
		counts = make([]TeamCount, 0, len(s.Teams))
		needy  []Team
	)
	for _, t := range s.Teams {
		n := s.SoldCount(t.ID)
		counts = append(counts, TeamCount{TeamID: t.ID, SoldCount: n})
		if empty := s.Room.Slots() - n; empty > 0 {
			needy = append(needy, t)
			r.NeedyTeams = append(r.NeedyTeams, t.ID)
			r.MaxEmptySlots = max(r.MaxEmptySlots, empty)
			if t.PointBalance >= s.Rules.MinTeamBalance {
				r.BiddableTeams = append(r.BiddableTeams, t.ID)
			}
		}
	}

	if len(needy) == 0 {
		r.Phase = PhaseComplete
		return r
	}

	waiting := s.playersWithStatus(StatusWaiting)
	unsold := s.playersWithStatus(StatusUnsold)

	if s.inAuction() != nil {
		r.Phase = PhaseBidding
		return r
	}

	if len(waiting) > 0 {
		if len(unsold) > 0 || len(r.BiddableTeams) > 1 {
			r.Phase = PhaseBidding
			return r
		}
		// Bidding is moot with at most one team able to pay.
		r.Phase = PhaseDraft
		r.AutoDraft = true
		r.Pool = s.ids(waiting)
		r.TurnOrder = TurnOrder(needy)
		if len(r.BiddableTeams) == 1 {
			id := r.BiddableTeams[0]
			r.CurrentTurnTeam = &id
		} else {
			r.CurrentTurnTeam = &r.TurnOrder[0]
		}
		return r
	}

	r.Phase = ComputePhase(counts, s.Room.MembersPerTeam)
	r.Pool = s.ids(unsold)
	if r.Phase == PhaseDraft {
		r.TurnOrder = TurnOrder(needy)
		head := r.TurnOrder[0]
		r.CurrentTurnTeam = &head
	}
	return r
}

func (s *State) ids(idx []int) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.Players[i].ID)
	}
	return out
}
