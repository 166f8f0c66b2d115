package engine

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusWaiting   Status = "WAITING"
	StatusInAuction Status = "IN_AUCTION"
	StatusSold      Status = "SOLD"
	StatusUnsold    Status = "UNSOLD"
)

type Room struct {
	ID             uuid.UUID
	Name           string
	TotalTeams     int
	MembersPerTeam int
	BasePoint      int

	CurrentPlayerID *uuid.UUID
	TimerEndsAt     *time.Time

	// Round counts restarts with unsold players; 0 is the first pass.
	Round     int
	Version   int64
	CreatedAt time.Time
}

// Slots is the number of players a team buys; the leader holds the last seat.
func (r Room) Slots() int { return r.MembersPerTeam - 1 }

type Team struct {
	ID                uuid.UUID
	RoomID            uuid.UUID
	Name              string
	LeaderName        string
	LeaderPosition    string
	LeaderDescription string
	PointBalance      int
}

type Player struct {
	ID           uuid.UUID
	RoomID       uuid.UUID
	Name         string
	Tier         string
	MainPosition string
	SubPosition  string
	Description  string
	Status       Status
	TeamID       *uuid.UUID
	SoldPrice    *int
}

type Bid struct {
	ID        uuid.UUID
	RoomID    uuid.UUID
	PlayerID  uuid.UUID
	TeamID    uuid.UUID
	Amount    int
	CreatedAt time.Time
}

type Rules struct {
	FreshDuration   time.Duration
	ResumeDuration  time.Duration
	ExtendThreshold time.Duration
	ExtendTo        time.Duration
	BidGrace        time.Duration
	MaxDuration     time.Duration // longest countdown StartAuction accepts
	BidIncrement    int
	MinTeamBalance  int
}

func DefaultRules() Rules {
	return Rules{
		FreshDuration:   10 * time.Second,
		ResumeDuration:  5 * time.Second,
		ExtendThreshold: 5 * time.Second,
		ExtendTo:        5 * time.Second,
		BidGrace:        time.Second,
		MaxDuration:     10 * time.Minute,
		BidIncrement:    10,
		MinTeamBalance:  10,
	}
}

type State struct {
	Room    Room
	Teams   []Team
	Players []Player
	Bids    []Bid
	Rules   Rules
}

type CommandType string

const (
	CmdDrawPlayer        CommandType = "DrawPlayer"
	CmdStartAuction      CommandType = "StartAuction"
	CmdPlaceBid          CommandType = "PlaceBid"
	CmdAwardPlayer       CommandType = "AwardPlayer"
	CmdDraftPlayer       CommandType = "DraftPlayer"
	CmdRestartWithUnsold CommandType = "RestartWithUnsold"
	CmdPauseAuction      CommandType = "PauseAuction"
	CmdResumeAuction     CommandType = "ResumeAuction"
)

/*
	CmdDrawPlayer        -> EvtPlayerDrawn
	CmdStartAuction      -> EvtAuctionStarted
	CmdPlaceBid          -> EvtBidPlaced (-> EvtTimerExtended when inside the threshold)
	CmdAwardPlayer       -> EvtPlayerSold | EvtPlayerUnsold | nothing when already settled
	CmdDraftPlayer       -> EvtPlayerDrafted
	CmdRestartWithUnsold -> EvtRoundRestarted
	CmdPauseAuction      -> EvtAuctionPaused | nothing
	CmdResumeAuction     -> EvtAuctionResumed | nothing
*/

type Command struct {
	Type     CommandType
	PlayerID uuid.UUID
	TeamID   uuid.UUID
	Amount   int
	Duration time.Duration
	// Directed marks an organizer assignment that bypasses the draft turn.
	Directed bool

	At   time.Time
	Rand RandSource
}

type EventType string

const (
	EvtPlayerDrawn    EventType = "PlayerDrawn"
	EvtAuctionStarted EventType = "AuctionStarted"
	EvtBidPlaced      EventType = "BidPlaced"
	EvtTimerExtended  EventType = "TimerExtended"
	EvtPlayerSold     EventType = "PlayerSold"
	EvtPlayerUnsold   EventType = "PlayerUnsold"
	EvtPlayerDrafted  EventType = "PlayerDrafted"
	EvtRoundRestarted EventType = "RoundRestarted"
	EvtAuctionPaused  EventType = "AuctionPaused"
	EvtAuctionResumed EventType = "AuctionResumed"
)

type Event struct {
	Type       EventType
	PlayerID   uuid.UUID
	PlayerName string
	TeamID     uuid.UUID
	TeamName   string
	Amount     int
	Duration   time.Duration
	Count      int
	Round      int
	At         time.Time
}

// Apply validates cmd against s and returns the resulting events and state.
// s is never modified; on error the returned state is s itself.
func Apply(s State, cmd Command) ([]Event, State, error) {
	next := s.Clone()

	var (
		events []Event
		err    error
	)

	switch cmd.Type {
	case CmdDrawPlayer:
		events, err = drawPlayer(&next, cmd)
	case CmdStartAuction:
		events, err = startAuction(&next, cmd)
	case CmdPlaceBid:
		events, err = placeBid(&next, cmd)
	case CmdAwardPlayer:
		events, err = awardPlayer(&next, cmd)
	case CmdDraftPlayer:
		events, err = draftPlayer(&next, cmd)
	case CmdRestartWithUnsold:
		events, err = restartWithUnsold(&next, cmd)
	case CmdPauseAuction:
		events = pauseAuction(&next, cmd)
	case CmdResumeAuction:
		events, err = resumeAuction(&next, cmd)
	default:
		return nil, s, ErrUnsupportedCommand
	}

	if err != nil {
		return nil, s, err
	}
	if len(events) == 0 {
		// No-op commands leave the state exactly as it was.
		return nil, s, nil
	}
	return events, next, nil
}

func drawPlayer(s *State, cmd Command) ([]Event, error) {
	if s.Room.CurrentPlayerID != nil || s.inAuction() != nil {
		return nil, ErrAlreadyInProgress
	}

	waiting := s.playersWithStatus(StatusWaiting)
	if len(waiting) == 0 {
		return nil, ErrNoWaitingPlayers
	}

	p := &s.Players[waiting[pickIndex(cmd.Rand, len(waiting))]]
	p.Status = StatusInAuction
	id := p.ID
	s.Room.CurrentPlayerID = &id

	return []Event{{Type: EvtPlayerDrawn, PlayerID: p.ID, PlayerName: p.Name, At: cmd.At}}, nil
}

func startAuction(s *State, cmd Command) ([]Event, error) {
	if s.Room.CurrentPlayerID == nil {
		return nil, ErrNoCurrentPlayer
	}
	if s.Room.TimerEndsAt != nil {
		return nil, ErrAuctionAlreadyRunning
	}
	if cmd.Duration < 0 {
		return nil, ErrInvalidDuration
	}
	if limit := s.Rules.MaxDuration; limit > 0 && cmd.Duration > limit {
		return nil, errorf(ErrInvalidDuration, "duration %s exceeds %s", cmd.Duration, limit)
	}

	d := cmd.Duration
	if d == 0 {
		d = s.defaultDuration()
	}
	end := cmd.At.Add(d)
	s.Room.TimerEndsAt = &end

	p := s.player(*s.Room.CurrentPlayerID)
	return []Event{{Type: EvtAuctionStarted, PlayerID: p.ID, PlayerName: p.Name, Duration: d, At: cmd.At}}, nil
}

func placeBid(s *State, cmd Command) ([]Event, error) {
	inc := s.Rules.BidIncrement
	if cmd.Amount <= 0 || cmd.Amount%inc != 0 {
		return nil, errorf(ErrInvalidAmount, "amount %d is not a positive multiple of %d", cmd.Amount, inc)
	}

	if !s.biddingOpen(cmd.PlayerID, cmd.At) {
		return nil, ErrAuctionNotActive
	}

	team := s.team(cmd.TeamID)
	if team == nil {
		return nil, ErrTeamNotFound
	}

	ledger := Ledger(s.Bids)
	highest, hasBid := ledger.Highest(cmd.PlayerID)
	if hasBid && highest.TeamID == cmd.TeamID {
		return nil, ErrAlreadyLeading
	}

	minimum := inc
	if hasBid {
		minimum = highest.Amount + inc
	}
	if cmd.Amount < minimum {
		return nil, errorf(ErrBidTooLow, "minimum bid is %d", minimum)
	}

	if team.PointBalance < cmd.Amount {
		return nil, errorf(ErrInsufficientFunds, "%s has %d points", team.Name, team.PointBalance)
	}

	if s.SoldCount(team.ID) >= s.Room.Slots() {
		return nil, ErrTeamFull
	}

	s.Bids = append(s.Bids, Bid{
		ID:        uuid.New(),
		RoomID:    s.Room.ID,
		PlayerID:  cmd.PlayerID,
		TeamID:    team.ID,
		Amount:    cmd.Amount,
		CreatedAt: cmd.At,
	})

	p := s.player(cmd.PlayerID)
	events := []Event{{
		Type:       EvtBidPlaced,
		PlayerID:   p.ID,
		PlayerName: p.Name,
		TeamID:     team.ID,
		TeamName:   team.Name,
		Amount:     cmd.Amount,
		At:         cmd.At,
	}}

	end := *s.Room.TimerEndsAt
	if end.Sub(cmd.At) <= s.Rules.ExtendThreshold {
		extended := cmd.At.Add(s.Rules.ExtendTo)
		// The deadline only ever moves later.
		if extended.After(end) {
			s.Room.TimerEndsAt = &extended
			events = append(events, Event{
				Type:       EvtTimerExtended,
				PlayerID:   p.ID,
				PlayerName: p.Name,
				Duration:   s.Rules.ExtendTo,
				At:         cmd.At,
			})
		}
	}

	return events, nil
}

func awardPlayer(s *State, cmd Command) ([]Event, error) {
	p := s.player(cmd.PlayerID)
	if p == nil {
		return nil, ErrPlayerNotFound
	}

	// Paused, not started, extended after this award was scheduled, or still
	// inside the grace window where late bids are accepted.
	if s.Room.TimerEndsAt == nil || cmd.At.Before(s.Room.TimerEndsAt.Add(s.Rules.BidGrace)) {
		return nil, nil
	}
	if p.Status != StatusInAuction {
		return nil, nil
	}

	s.Room.CurrentPlayerID = nil
	s.Room.TimerEndsAt = nil

	highest, ok := Ledger(s.Bids).Highest(p.ID)
	if !ok {
		p.Status = StatusUnsold
		return []Event{{Type: EvtPlayerUnsold, PlayerID: p.ID, PlayerName: p.Name, At: cmd.At}}, nil
	}

	team := s.team(highest.TeamID)
	if team == nil {
		return nil, ErrTeamNotFound
	}

	teamID, price := team.ID, highest.Amount
	p.Status = StatusSold
	p.TeamID = &teamID
	p.SoldPrice = &price
	team.PointBalance -= price

	return []Event{{
		Type:       EvtPlayerSold,
		PlayerID:   p.ID,
		PlayerName: p.Name,
		TeamID:     team.ID,
		TeamName:   team.Name,
		Amount:     price,
		At:         cmd.At,
	}}, nil
}

func draftPlayer(s *State, cmd Command) ([]Event, error) {
	if s.Room.CurrentPlayerID != nil || s.inAuction() != nil {
		return nil, ErrAlreadyInProgress
	}

	p := s.player(cmd.PlayerID)
	if p == nil {
		return nil, ErrPlayerNotFound
	}
	if p.Status != StatusWaiting && p.Status != StatusUnsold {
		return nil, errorf(ErrPlayerNotEligible, "%s is %s", p.Name, p.Status)
	}

	team := s.team(cmd.TeamID)
	if team == nil {
		return nil, ErrTeamNotFound
	}
	if s.SoldCount(team.ID) >= s.Room.Slots() {
		return nil, ErrTeamFull
	}

	if !cmd.Directed {
		r := Redistribute(*s)
		if r.Phase != PhaseDraft {
			return nil, errorf(ErrNotDraftPhase, "room is in %s", r.Phase)
		}
		if r.CurrentTurnTeam == nil || *r.CurrentTurnTeam != team.ID {
			return nil, ErrNotYourTurn
		}
	}

	teamID, price := team.ID, 0
	p.Status = StatusSold
	p.TeamID = &teamID
	p.SoldPrice = &price

	return []Event{{
		Type:       EvtPlayerDrafted,
		PlayerID:   p.ID,
		PlayerName: p.Name,
		TeamID:     team.ID,
		TeamName:   team.Name,
		At:         cmd.At,
	}}, nil
}

func restartWithUnsold(s *State, cmd Command) ([]Event, error) {
	unsold := s.playersWithStatus(StatusUnsold)
	if len(unsold) == 0 {
		return nil, ErrNoUnsoldPlayers
	}
	for _, i := range unsold {
		s.Players[i].Status = StatusWaiting
	}
	s.Room.Round++

	return []Event{{Type: EvtRoundRestarted, Count: len(unsold), Round: s.Room.Round, At: cmd.At}}, nil
}

func pauseAuction(s *State, cmd Command) []Event {
	if s.Room.TimerEndsAt == nil {
		return nil
	}
	remaining := s.Room.TimerEndsAt.Sub(cmd.At)
	if remaining < 0 {
		remaining = 0
	}
	s.Room.TimerEndsAt = nil

	ev := Event{Type: EvtAuctionPaused, Duration: remaining, At: cmd.At}
	if p := s.player(*s.Room.CurrentPlayerID); p != nil {
		ev.PlayerID, ev.PlayerName = p.ID, p.Name
	}
	return []Event{ev}
}

func resumeAuction(s *State, cmd Command) ([]Event, error) {
	if s.Room.CurrentPlayerID == nil {
		return nil, ErrNoCurrentPlayer
	}
	if s.Room.TimerEndsAt != nil {
		return nil, nil
	}

	end := cmd.At.Add(s.Rules.ResumeDuration)
	s.Room.TimerEndsAt = &end

	p := s.player(*s.Room.CurrentPlayerID)
	return []Event{{Type: EvtAuctionResumed, PlayerID: p.ID, PlayerName: p.Name, Duration: s.Rules.ResumeDuration, At: cmd.At}}, nil
}

func (s *State) defaultDuration() time.Duration {
	if s.Room.Round > 0 {
		return s.Rules.ResumeDuration
	}
	return s.Rules.FreshDuration
}

// biddingOpen reports whether playerID is on the block with a deadline that
// has not passed, allowing for the grace window.
func (s *State) biddingOpen(playerID uuid.UUID, at time.Time) bool {
	r := s.Room
	if r.TimerEndsAt == nil || r.CurrentPlayerID == nil || *r.CurrentPlayerID != playerID {
		return false
	}
	p := s.player(playerID)
	if p == nil || p.Status != StatusInAuction {
		return false
	}
	return at.Before(r.TimerEndsAt.Add(s.Rules.BidGrace))
}
