package engine

import (
	"errors"
	"fmt"
)

// Kind groups error codes into the categories callers branch on.
type Kind string

const (
	KindValidation Kind = "validation"
	KindState      Kind = "state"
	KindCapacity   Kind = "capacity"
	KindFunds      Kind = "funds"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
)

type Code string

const (
	CodeInvalidAmount         Code = "InvalidAmount"
	CodeInvalidDuration       Code = "InvalidDuration"
	CodeInvalidRoomConfig     Code = "InvalidRoomConfig"
	CodeUnsupportedCommand    Code = "UnsupportedCommand"
	CodeInvalidRequest        Code = "InvalidRequest"
	CodeAuctionNotActive      Code = "AuctionNotActive"
	CodeNoWaitingPlayers      Code = "NoWaitingPlayers"
	CodeAlreadyInProgress     Code = "AlreadyInProgress"
	CodeNoCurrentPlayer       Code = "NoCurrentPlayer"
	CodeAuctionAlreadyRunning Code = "AuctionAlreadyRunning"
	CodeNoUnsoldPlayers       Code = "NoUnsoldPlayers"
	CodePlayerNotEligible     Code = "PlayerNotEligible"
	CodeNotDraftPhase         Code = "NotDraftPhase"
	CodeParticipantsOffline   Code = "ParticipantsDisconnected"
	CodeTeamFull              Code = "TeamFull"
	CodeInsufficientFunds     Code = "InsufficientFunds"
	CodeAlreadyLeading        Code = "AlreadyLeading"
	CodeBidTooLow             Code = "BidTooLow"
	CodeNotYourTurn           Code = "NotYourTurn"
	CodeRoomNotFound          Code = "RoomNotFound"
	CodeTeamNotFound          Code = "TeamNotFound"
	CodePlayerNotFound        Code = "PlayerNotFound"
)

// Error is returned for every rejected operation. The room state is left
// unchanged whenever one is returned.
type Error struct {
	Kind Kind
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Is matches a kind sentinel (no code) or a code sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == "" {
		return t.Kind == e.Kind
	}
	return t.Code == e.Code
}

// Kind sentinels, for errors.Is(err, engine.ErrFunds) style checks.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrState      = &Error{Kind: KindState}
	ErrCapacity   = &Error{Kind: KindCapacity}
	ErrFunds      = &Error{Kind: KindFunds}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrNotFound   = &Error{Kind: KindNotFound}
)

var (
	ErrInvalidAmount         = &Error{Kind: KindValidation, Code: CodeInvalidAmount, Msg: "amount must be a positive multiple of 10"}
	ErrInvalidDuration       = &Error{Kind: KindValidation, Code: CodeInvalidDuration, Msg: "duration is negative or too long"}
	ErrInvalidRoomConfig     = &Error{Kind: KindValidation, Code: CodeInvalidRoomConfig, Msg: "invalid room configuration"}
	ErrUnsupportedCommand    = &Error{Kind: KindValidation, Code: CodeUnsupportedCommand, Msg: "unsupported command"}
	ErrInvalidRequest        = &Error{Kind: KindValidation, Code: CodeInvalidRequest, Msg: "malformed request"}
	ErrAuctionNotActive      = &Error{Kind: KindState, Code: CodeAuctionNotActive, Msg: "no active auction for this player"}
	ErrNoWaitingPlayers      = &Error{Kind: KindState, Code: CodeNoWaitingPlayers, Msg: "no waiting players left"}
	ErrAlreadyInProgress     = &Error{Kind: KindState, Code: CodeAlreadyInProgress, Msg: "a player is already in auction"}
	ErrNoCurrentPlayer       = &Error{Kind: KindState, Code: CodeNoCurrentPlayer, Msg: "no player is in auction"}
	ErrAuctionAlreadyRunning = &Error{Kind: KindState, Code: CodeAuctionAlreadyRunning, Msg: "timer is already running"}
	ErrNoUnsoldPlayers       = &Error{Kind: KindState, Code: CodeNoUnsoldPlayers, Msg: "no unsold players to restart with"}
	ErrPlayerNotEligible     = &Error{Kind: KindState, Code: CodePlayerNotEligible, Msg: "player cannot be drafted"}
	ErrNotDraftPhase         = &Error{Kind: KindState, Code: CodeNotDraftPhase, Msg: "room is not in the draft phase"}
	ErrParticipantsOffline   = &Error{Kind: KindState, Code: CodeParticipantsOffline, Msg: "not every team leader is connected"}
	ErrTeamFull              = &Error{Kind: KindCapacity, Code: CodeTeamFull, Msg: "team roster is full"}
	ErrInsufficientFunds     = &Error{Kind: KindFunds, Code: CodeInsufficientFunds, Msg: "not enough points"}
	ErrAlreadyLeading        = &Error{Kind: KindConflict, Code: CodeAlreadyLeading, Msg: "team already holds the highest bid"}
	ErrBidTooLow             = &Error{Kind: KindConflict, Code: CodeBidTooLow, Msg: "bid does not beat the current highest"}
	ErrNotYourTurn           = &Error{Kind: KindConflict, Code: CodeNotYourTurn, Msg: "team does not hold the draft turn"}
	ErrRoomNotFound          = &Error{Kind: KindNotFound, Code: CodeRoomNotFound, Msg: "room not found"}
	ErrTeamNotFound          = &Error{Kind: KindNotFound, Code: CodeTeamNotFound, Msg: "team not found"}
	ErrPlayerNotFound        = &Error{Kind: KindNotFound, Code: CodePlayerNotFound, Msg: "player not found"}
)

// ErrInvariant is wrapped by Validate when a state breaks a room invariant.
var ErrInvariant = errors.New("room invariant violated")

func errorf(base *Error, format string, args ...any) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, Msg: fmt.Sprintf(format, args...)}
}

// AsError unwraps err into an *Error if it carries one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
