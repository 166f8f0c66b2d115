package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RoomSpec describes a room to seed. Teams start at BasePoint, players WAITING.
type RoomSpec struct {
	Name           string
	TotalTeams     int
	MembersPerTeam int
	BasePoint      int
	Teams          []TeamSpec
	Players        []PlayerSpec
}

type TeamSpec struct {
	Name              string
	LeaderName        string
	LeaderPosition    string
	LeaderDescription string
}

type PlayerSpec struct {
	Name         string
	Tier         string
	MainPosition string
	SubPosition  string
	Description  string
}

// NewState builds the initial state of a room from spec.
func NewState(spec RoomSpec, rules Rules, now time.Time) (State, error) {
	if spec.MembersPerTeam < 2 || spec.BasePoint < 0 {
		return State{}, errorf(ErrInvalidRoomConfig, "members per team must be at least 2 and base point non-negative")
	}
	if spec.TotalTeams == 0 {
		spec.TotalTeams = len(spec.Teams)
	}
	if spec.TotalTeams != len(spec.Teams) || spec.TotalTeams == 0 {
		return State{}, errorf(ErrInvalidRoomConfig, "expected %d teams, got %d", spec.TotalTeams, len(spec.Teams))
	}

	roomID := uuid.New()
	s := State{
		Room: Room{
			ID:             roomID,
			Name:           spec.Name,
			TotalTeams:     spec.TotalTeams,
			MembersPerTeam: spec.MembersPerTeam,
			BasePoint:      spec.BasePoint,
			CreatedAt:      now,
		},
		Rules: rules,
	}

	for _, t := range spec.Teams {
		s.Teams = append(s.Teams, Team{
			ID:                uuid.New(),
			RoomID:            roomID,
			Name:              t.Name,
			LeaderName:        t.LeaderName,
			LeaderPosition:    t.LeaderPosition,
			LeaderDescription: t.LeaderDescription,
			PointBalance:      spec.BasePoint,
		})
	}
	for _, p := range spec.Players {
		s.Players = append(s.Players, Player{
			ID:           uuid.New(),
			RoomID:       roomID,
			Name:         p.Name,
			Tier:         p.Tier,
			MainPosition: p.MainPosition,
			SubPosition:  p.SubPosition,
			Description:  p.Description,
			Status:       StatusWaiting,
		})
	}
	return s, nil
}

// Clone returns a deep copy so a failed Apply never leaks partial writes.
func (s State) Clone() State {
	c := s
	c.Room.CurrentPlayerID = clonePtr(s.Room.CurrentPlayerID)
	c.Room.TimerEndsAt = clonePtr(s.Room.TimerEndsAt)

	c.Teams = append([]Team(nil), s.Teams...)
	c.Bids = append([]Bid(nil), s.Bids...)
	c.Players = make([]Player, len(s.Players))
	for i, p := range s.Players {
		p.TeamID = clonePtr(p.TeamID)
		p.SoldPrice = clonePtr(p.SoldPrice)
		c.Players[i] = p
	}
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (s *State) player(id uuid.UUID) *Player {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return &s.Players[i]
		}
	}
	return nil
}

func (s *State) team(id uuid.UUID) *Team {
	for i := range s.Teams {
		if s.Teams[i].ID == id {
			return &s.Teams[i]
		}
	}
	return nil
}

func (s *State) inAuction() *Player {
	for i := range s.Players {
		if s.Players[i].Status == StatusInAuction {
			return &s.Players[i]
		}
	}
	return nil
}

func (s *State) playersWithStatus(status Status) []int {
	var idx []int
	for i := range s.Players {
		if s.Players[i].Status == status {
			idx = append(idx, i)
		}
	}
	return idx
}

// Player looks a player up by id.
func (s State) Player(id uuid.UUID) (Player, bool) {
	if p := s.player(id); p != nil {
		return *p, true
	}
	return Player{}, false
}

func (s State) Team(id uuid.UUID) (Team, bool) {
	if t := s.team(id); t != nil {
		return *t, true
	}
	return Team{}, false
}

// SoldCount is the number of players a team has bought or been drafted.
func (s State) SoldCount(teamID uuid.UUID) int {
	n := 0
	for _, p := range s.Players {
		if p.Status == StatusSold && p.TeamID != nil && *p.TeamID == teamID {
			n++
		}
	}
	return n
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// Validate checks every room invariant. A state that fails is never committed.
func Validate(s State) error {
	r := s.Room
	if r.TimerEndsAt != nil && r.CurrentPlayerID == nil {
		return fmt.Errorf("%w: timer set without a current player", ErrInvariant)
	}

	inAuction := 0
	for _, p := range s.Players {
		switch p.Status {
		case StatusInAuction:
			inAuction++
			if r.CurrentPlayerID == nil || *r.CurrentPlayerID != p.ID {
				return fmt.Errorf("%w: player %s in auction but not current", ErrInvariant, p.Name)
			}
		case StatusSold:
			if p.TeamID == nil || p.SoldPrice == nil || *p.SoldPrice < 0 {
				return fmt.Errorf("%w: sold player %s missing team or price", ErrInvariant, p.Name)
			}
		default:
			if p.TeamID != nil || p.SoldPrice != nil {
				return fmt.Errorf("%w: unsold player %s carries a team", ErrInvariant, p.Name)
			}
		}
	}
	if inAuction > 1 {
		return fmt.Errorf("%w: %d players in auction", ErrInvariant, inAuction)
	}
	if r.CurrentPlayerID != nil && inAuction == 0 {
		return fmt.Errorf("%w: current player is not in auction", ErrInvariant)
	}

	for _, t := range s.Teams {
		if t.PointBalance < 0 {
			return fmt.Errorf("%w: team %s balance is negative", ErrInvariant, t.Name)
		}
		if n := s.SoldCount(t.ID); n > r.Slots() {
			return fmt.Errorf("%w: team %s holds %d players", ErrInvariant, t.Name, n)
		}
		spent := 0
		for _, p := range s.Players {
			if p.Status == StatusSold && *p.TeamID == t.ID {
				spent += *p.SoldPrice
			}
		}
		if t.PointBalance != r.BasePoint-spent {
			return fmt.Errorf("%w: team %s balance %d, expected %d", ErrInvariant, t.Name, t.PointBalance, r.BasePoint-spent)
		}
	}

	return Ledger(s.Bids).Check(s.Rules.BidIncrement)
}
