package engine

import (
	"fmt"

	"github.com/google/uuid"
)

// Ledger is the append-only bid log of a room, in acceptance order.
type Ledger []Bid

// Highest returns the leading bid for playerID.
func (l Ledger) Highest(playerID uuid.UUID) (Bid, bool) {
	var (
		best  Bid
		found bool
	)
	for _, b := range l {
		if b.PlayerID != playerID {
			continue
		}
		if !found || b.Amount > best.Amount {
			best, found = b, true
		}
	}
	return best, found
}

// Check verifies that each player's bids rise by at least inc and that no
// team out-bids itself.
func (l Ledger) Check(inc int) error {
	last := map[uuid.UUID]Bid{}
	for _, b := range l {
		prev, ok := last[b.PlayerID]
		if !ok {
			if b.Amount < inc {
				return fmt.Errorf("%w: opening bid %d below %d", ErrInvariant, b.Amount, inc)
			}
		} else {
			if b.Amount < prev.Amount+inc {
				return fmt.Errorf("%w: bid %d does not exceed %d", ErrInvariant, b.Amount, prev.Amount)
			}
			if b.TeamID == prev.TeamID {
				return fmt.Errorf("%w: team out-bid itself", ErrInvariant)
			}
		}
		last[b.PlayerID] = b
	}
	return nil
}
