package types

import "time"

// RoomSnapshot is the JSON projection of a room sent to clients. Ids are
// strings; optional fields are omitted when unset.
type RoomSnapshot struct {
	Version        int64          `json:"version"`
	Room           Room           `json:"room"`
	Teams          []Team         `json:"teams"`
	Players        []Player       `json:"players"`
	Bids           []Bid          `json:"bids"`
	Redistribution Redistribution `json:"redistribution"`
}

type Room struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	TotalTeams      int        `json:"total_teams"`
	MembersPerTeam  int        `json:"members_per_team"`
	BasePoint       int        `json:"base_point"`
	CurrentPlayerID string     `json:"current_player_id,omitempty"`
	TimerEndsAt     *time.Time `json:"timer_ends_at,omitempty"`
	Round           int        `json:"round"`
	CreatedAt       time.Time  `json:"created_at"`
}

type Team struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	LeaderName        string `json:"leader_name"`
	LeaderPosition    string `json:"leader_position,omitempty"`
	LeaderDescription string `json:"leader_description,omitempty"`
	PointBalance      int    `json:"point_balance"`
	SoldCount         int    `json:"sold_count"`
}

type Player struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Tier         string `json:"tier,omitempty"`
	MainPosition string `json:"main_position,omitempty"`
	SubPosition  string `json:"sub_position,omitempty"`
	Description  string `json:"description,omitempty"`
	Status       string `json:"status"`
	TeamID       string `json:"team_id,omitempty"`
	SoldPrice    *int   `json:"sold_price,omitempty"`
}

type Bid struct {
	ID        string    `json:"id"`
	PlayerID  string    `json:"player_id"`
	TeamID    string    `json:"team_id"`
	Amount    int       `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

type Redistribution struct {
	Phase           string   `json:"phase"` // "BIDDING" | "RE_AUCTION" | "DRAFT" | "COMPLETE"
	NeedyTeams      []string `json:"needy_teams"`
	MaxEmptySlots   int      `json:"max_empty_slots"`
	TurnOrder       []string `json:"turn_order,omitempty"`
	CurrentTurnTeam string   `json:"current_turn_team,omitempty"`
	AutoDraft       bool     `json:"auto_draft"`
	Pool            []string `json:"pool,omitempty"`
}
