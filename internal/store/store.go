// Package store persists rooms, teams, players and bids. Every mutation of a
// room is committed against the row version it was computed from.
package store

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/tuosm9390/minionsbid/internal/engine"
)

var (
	ErrNotFound        = errors.New("store: room not found")
	ErrVersionConflict = errors.New("store: room version conflict")
)

type Store interface {
	CreateRoom(ctx context.Context, s engine.State) error
	// LoadRoom returns the persisted state. Rules are not stored and come
	// back zero.
	LoadRoom(ctx context.Context, id uuid.UUID) (engine.State, error)
	// Commit writes next if the stored version still equals prev's.
	Commit(ctx context.Context, prev, next engine.State) error
	// ActiveRoomIDs lists rooms with a running auction timer.
	ActiveRoomIDs(ctx context.Context) ([]uuid.UUID, error)
	DeleteRoom(ctx context.Context, id uuid.UUID) error

	SaveArchive(ctx context.Context, a Archive) error
	ListArchives(ctx context.Context, limit int) ([]Archive, error)

	SaveMessage(ctx context.Context, m Message) error
	Messages(ctx context.Context, roomID uuid.UUID, limit int) ([]Message, error)

	Close() error
}

// Message is one persisted audit line of a room.
type Message struct {
	ID        uuid.UUID
	RoomID    uuid.UUID
	Kind      string
	Line      string
	CreatedAt time.Time
}

// Archive is the final roster of a closed room.
type Archive struct {
	ID            uuid.UUID      `json:"id"`
	RoomID        uuid.UUID      `json:"room_id"`
	RoomName      string         `json:"room_name"`
	RoomCreatedAt time.Time      `json:"room_created_at"`
	ClosedAt      time.Time      `json:"closed_at"`
	Teams         []ArchivedTeam `json:"teams"`
}

type ArchivedTeam struct {
	Name         string           `json:"name"`
	LeaderName   string           `json:"leader_name"`
	PointBalance int              `json:"point_balance"`
	Players      []ArchivedPlayer `json:"players"`
}

type ArchivedPlayer struct {
	Name         string `json:"name"`
	Tier         string `json:"tier"`
	MainPosition string `json:"main_position"`
	SoldPrice    int    `json:"sold_price"`
}

func NewArchive(s engine.State, closedAt time.Time) Archive {
	a := Archive{
		ID:            uuid.New(),
		RoomID:        s.Room.ID,
		RoomName:      s.Room.Name,
		RoomCreatedAt: s.Room.CreatedAt,
		ClosedAt:      closedAt,
	}
	for _, t := range s.Teams {
		at := ArchivedTeam{Name: t.Name, LeaderName: t.LeaderName, PointBalance: t.PointBalance}
		for _, p := range s.Players {
			if p.Status != engine.StatusSold || *p.TeamID != t.ID {
				continue
			}
			at.Players = append(at.Players, ArchivedPlayer{
				Name:         p.Name,
				Tier:         p.Tier,
				MainPosition: p.MainPosition,
				SoldPrice:    *p.SoldPrice,
			})
		}
		a.Teams = append(a.Teams, at)
	}
	return a
}

// checkCommit rejects commits that do not advance the version by one.
func checkCommit(prev, next engine.State) error {
	if prev.Room.ID != next.Room.ID || next.Room.Version != prev.Room.Version+1 {
		return ErrVersionConflict
	}
	return nil
}

// changedPlayers returns the indexes of players whose mutable columns differ.
func changedPlayers(prev, next engine.State) []int {
	var idx []int
	for i, p := range next.Players {
		if i >= len(prev.Players) {
			idx = append(idx, i)
			continue
		}
		q := prev.Players[i]
		if p.Status != q.Status || !eqPtr(p.TeamID, q.TeamID) || !eqPtr(p.SoldPrice, q.SoldPrice) {
			idx = append(idx, i)
		}
	}
	return idx
}

func changedTeams(prev, next engine.State) []int {
	var idx []int
	for i, t := range next.Teams {
		if i >= len(prev.Teams) || prev.Teams[i] != t {
			idx = append(idx, i)
		}
	}
	return idx
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sortArchives(a []Archive) {
	slices.SortFunc(a, func(x, y Archive) int { return y.ClosedAt.Compare(x.ClosedAt) })
}
