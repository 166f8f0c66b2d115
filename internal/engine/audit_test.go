package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

// TestAuditTranscript runs a full two-round session and compares every
// audit line against testdata/audit_transcript.golden.
func TestAuditTranscript(t *testing.T) {
	s := newRoom(t, 2, 2, 100, "Faker", "Chovy")
	rnd := &seqRand{seq: []int{0, 0, 0}}

	var lines []string
	step := func(cmd Command) {
		t.Helper()
		events, next := mustApply(t, s, cmd)
		for _, e := range events {
			lines = append(lines, e.AuditLine())
		}
		s = next
	}
	at := func(d time.Duration) time.Time { return t0.Add(d) }

	step(Command{Type: CmdDrawPlayer, At: at(0), Rand: rnd})
	step(Command{Type: CmdStartAuction, At: at(0)})
	faker := *s.Room.CurrentPlayerID
	step(Command{Type: CmdPlaceBid, PlayerID: faker, TeamID: s.Teams[0].ID, Amount: 30, At: at(2 * time.Second)})
	step(Command{Type: CmdPlaceBid, PlayerID: faker, TeamID: s.Teams[1].ID, Amount: 50, At: at(8 * time.Second)})
	step(Command{Type: CmdPauseAuction, At: at(9 * time.Second)})
	step(Command{Type: CmdResumeAuction, At: at(20 * time.Second)})
	step(Command{Type: CmdAwardPlayer, PlayerID: faker, At: at(26 * time.Second)})

	step(Command{Type: CmdDrawPlayer, At: at(30 * time.Second), Rand: rnd})
	step(Command{Type: CmdStartAuction, At: at(30 * time.Second)})
	chovy := *s.Room.CurrentPlayerID
	step(Command{Type: CmdAwardPlayer, PlayerID: chovy, At: at(41 * time.Second)})

	step(Command{Type: CmdRestartWithUnsold, At: at(45 * time.Second)})
	step(Command{Type: CmdDrawPlayer, At: at(46 * time.Second), Rand: rnd})
	step(Command{Type: CmdStartAuction, At: at(46 * time.Second)})
	step(Command{Type: CmdAwardPlayer, PlayerID: chovy, At: at(52 * time.Second)})
	step(Command{Type: CmdDraftPlayer, PlayerID: chovy, TeamID: s.Teams[0].ID, At: at(60 * time.Second)})

	require.Equal(t, PhaseComplete, Redistribute(s).Phase)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "audit_transcript", []byte(strings.Join(lines, "\n")+"\n"))
}
