package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countBids(l Ledger, playerID uuid.UUID) int {
	n := 0
	for _, b := range l {
		if b.PlayerID == playerID {
			n++
		}
	}
	return n
}

func TestLedger_HighestAndCheck(t *testing.T) {
	p1, p2 := uuid.New(), uuid.New()
	a, b := uuid.New(), uuid.New()

	l := Ledger{
		{PlayerID: p1, TeamID: a, Amount: 10},
		{PlayerID: p2, TeamID: b, Amount: 40},
		{PlayerID: p1, TeamID: b, Amount: 20},
		{PlayerID: p1, TeamID: a, Amount: 50},
	}

	top, ok := l.Highest(p1)
	require.True(t, ok)
	assert.Equal(t, 50, top.Amount)
	assert.Equal(t, a, top.TeamID)
	assert.Equal(t, 3, countBids(l, p1))

	_, ok = l.Highest(uuid.New())
	assert.False(t, ok)

	require.NoError(t, l.Check(10))

	selfOutbid := append(Ledger{}, l...)
	selfOutbid = append(selfOutbid, Bid{PlayerID: p1, TeamID: a, Amount: 60})
	require.ErrorIs(t, selfOutbid.Check(10), ErrInvariant)

	tooSmall := Ledger{{PlayerID: p1, TeamID: a, Amount: 10}, {PlayerID: p1, TeamID: b, Amount: 15}}
	require.ErrorIs(t, tooSmall.Check(10), ErrInvariant)
}
