package engine

import (
	"fmt"
	"time"
)

// AuditLine renders the human-readable line for an event.
func (e Event) AuditLine() string {
	switch e.Type {
	case EvtPlayerDrawn:
		return fmt.Sprintf("Player %s drawn", e.PlayerName)
	case EvtAuctionStarted:
		return fmt.Sprintf("Auction started for %s (%s)", e.PlayerName, seconds(e.Duration))
	case EvtBidPlaced:
		return fmt.Sprintf("%s bid %d on %s", e.TeamName, e.Amount, e.PlayerName)
	case EvtTimerExtended:
		return fmt.Sprintf("Timer extended for %s (%s left)", e.PlayerName, seconds(e.Duration))
	case EvtPlayerSold:
		return fmt.Sprintf("%s sold to %s for %d", e.PlayerName, e.TeamName, e.Amount)
	case EvtPlayerUnsold:
		return fmt.Sprintf("No bids for %s, unsold", e.PlayerName)
	case EvtPlayerDrafted:
		return fmt.Sprintf("%s drafted %s (0 points)", e.TeamName, e.PlayerName)
	case EvtRoundRestarted:
		return fmt.Sprintf("Round %d restarted with %d unsold players", e.Round, e.Count)
	case EvtAuctionPaused:
		return fmt.Sprintf("Auction paused for %s (%s left)", e.PlayerName, seconds(e.Duration))
	case EvtAuctionResumed:
		return fmt.Sprintf("Auction resumed for %s (%s)", e.PlayerName, seconds(e.Duration))
	default:
		return string(e.Type)
	}
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%ds", int(d.Round(time.Second)/time.Second))
}
