package types

// Client -> Server
//
// DrawPlayer: {}
// StartAuction:
//   duration_ms: number (optional, 0 = room default)
// PlaceBid:
//   player_id: string
//   amount: number (positive multiple of 10)
//   team_id: string (optional, defaults to the connection's team)
// DraftPlayer:
//   player_id: string
//   team_id: string (optional)
//   directed: boolean (organizer assignment outside the turn order)
// RestartAuction: {}
// PauseAuction: {}
// ResumeAuction: {}
const (
	MsgDrawPlayer     = "DrawPlayer"
	MsgStartAuction   = "StartAuction"
	MsgPlaceBid       = "PlaceBid"
	MsgDraftPlayer    = "DraftPlayer"
	MsgRestartAuction = "RestartAuction"
	MsgPauseAuction   = "PauseAuction"
	MsgResumeAuction  = "ResumeAuction"
)

// Server -> Client
//
// StateSnapshot:
//   version: number
//   state: RoomSnapshot
// Error:
//   code: string
//   message: string
const (
	MsgStateSnapshot = "StateSnapshot"
	MsgError         = "Error"
)
