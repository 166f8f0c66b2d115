package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tuosm9390/minionsbid/internal/engine"
	pub "github.com/tuosm9390/minionsbid/pkg/types"
)

type ClientMessage struct {
	Type       string `json:"type"`
	PlayerID   string `json:"player_id,omitempty"`
	TeamID     string `json:"team_id,omitempty"`
	Amount     int    `json:"amount,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Directed   bool   `json:"directed,omitempty"`
}

type ServerMessage struct {
	Type    string            `json:"type"` // "StateSnapshot" | "Error"
	Version int64             `json:"version,omitempty"`
	State   *pub.RoomSnapshot `json:"state,omitempty"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message,omitempty"`
}

func (m ClientMessage) Duration() (time.Duration, error) {
	return DurationFromMS(m.DurationMS)
}

// maxDurationMS bounds client supplied countdowns before they are converted,
// keeping the conversion far from overflow. The engine applies the room's own
// limit afterwards.
const maxDurationMS = int64(10 * time.Minute / time.Millisecond)

// DurationFromMS converts a millisecond count from a request. Negative values
// pass through so the engine reports them in its usual order.
func DurationFromMS(ms int64) (time.Duration, error) {
	if ms > maxDurationMS || ms < -maxDurationMS {
		return 0, fmt.Errorf("%w: %d ms", engine.ErrInvalidDuration, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// Player parses the player id of the message.
func (m ClientMessage) Player() (uuid.UUID, error) {
	id, err := uuid.Parse(m.PlayerID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("malformed player_id %q: %w", m.PlayerID, engine.ErrInvalidRequest)
	}
	return id, nil
}

// Team parses the team id of the message, falling back to the team the
// connection joined as.
func (m ClientMessage) Team(fallback uuid.UUID) (uuid.UUID, error) {
	if m.TeamID == "" {
		if fallback == uuid.Nil {
			return uuid.Nil, fmt.Errorf("team_id is required: %w", engine.ErrInvalidRequest)
		}
		return fallback, nil
	}
	id, err := uuid.Parse(m.TeamID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("malformed team_id %q: %w", m.TeamID, engine.ErrInvalidRequest)
	}
	return id, nil
}

func SnapshotMessage(version int64, s engine.State) ServerMessage {
	snap := NewRoomSnapshot(version, s)
	return ServerMessage{Type: pub.MsgStateSnapshot, Version: version, State: &snap}
}

func ErrorMessage(code, message string) ServerMessage {
	return ServerMessage{Type: pub.MsgError, Code: code, Message: message}
}

// NewRoomSnapshot projects a room state into its wire form.
func NewRoomSnapshot(version int64, s engine.State) pub.RoomSnapshot {
	out := pub.RoomSnapshot{
		Version: version,
		Room: pub.Room{
			ID:              s.Room.ID.String(),
			Name:            s.Room.Name,
			TotalTeams:      s.Room.TotalTeams,
			MembersPerTeam:  s.Room.MembersPerTeam,
			BasePoint:       s.Room.BasePoint,
			CurrentPlayerID: idString(s.Room.CurrentPlayerID),
			TimerEndsAt:     s.Room.TimerEndsAt,
			Round:           s.Room.Round,
			CreatedAt:       s.Room.CreatedAt,
		},
		Teams:          make([]pub.Team, 0, len(s.Teams)),
		Players:        make([]pub.Player, 0, len(s.Players)),
		Bids:           make([]pub.Bid, 0, len(s.Bids)),
		Redistribution: NewRedistribution(engine.Redistribute(s)),
	}
	for _, t := range s.Teams {
		out.Teams = append(out.Teams, pub.Team{
			ID:                t.ID.String(),
			Name:              t.Name,
			LeaderName:        t.LeaderName,
			LeaderPosition:    t.LeaderPosition,
			LeaderDescription: t.LeaderDescription,
			PointBalance:      t.PointBalance,
			SoldCount:         s.SoldCount(t.ID),
		})
	}
	for _, p := range s.Players {
		out.Players = append(out.Players, pub.Player{
			ID:           p.ID.String(),
			Name:         p.Name,
			Tier:         p.Tier,
			MainPosition: p.MainPosition,
			SubPosition:  p.SubPosition,
			Description:  p.Description,
			Status:       string(p.Status),
			TeamID:       idString(p.TeamID),
			SoldPrice:    p.SoldPrice,
		})
	}
	for _, b := range s.Bids {
		out.Bids = append(out.Bids, pub.Bid{
			ID:        b.ID.String(),
			PlayerID:  b.PlayerID.String(),
			TeamID:    b.TeamID.String(),
			Amount:    b.Amount,
			CreatedAt: b.CreatedAt,
		})
	}
	return out
}

func NewRedistribution(r engine.Redistribution) pub.Redistribution {
	return pub.Redistribution{
		Phase:           string(r.Phase),
		NeedyTeams:      idStrings(r.NeedyTeams),
		MaxEmptySlots:   r.MaxEmptySlots,
		TurnOrder:       idStrings(r.TurnOrder),
		CurrentTurnTeam: idString(r.CurrentTurnTeam),
		AutoDraft:       r.AutoDraft,
		Pool:            idStrings(r.Pool),
	}
}

func idString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
