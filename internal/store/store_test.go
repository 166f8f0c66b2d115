package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tuosm9390/minionsbid/internal/engine"
)

var t0 = time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
	t.Run("sqlite", func(t *testing.T) {
		st, err := Open(Config{
			Driver:      DriverSQLite,
			SQLitePath:  filepath.Join(t.TempDir(), "auction.db"),
			AutoMigrate: true,
		}, zaptest.NewLogger(t))
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		fn(t, st)
	})
}

func seed(t *testing.T) engine.State {
	t.Helper()
	s, err := engine.NewState(engine.RoomSpec{
		Name:           "spring split",
		MembersPerTeam: 3,
		BasePoint:      1000,
		Teams:          []engine.TeamSpec{{Name: "Red", LeaderName: "kim"}, {Name: "Blue", LeaderName: "lee"}},
		Players: []engine.PlayerSpec{
			{Name: "P1", Tier: "Diamond", MainPosition: "MID"},
			{Name: "P2", Tier: "Gold", MainPosition: "TOP"},
		},
	}, engine.DefaultRules(), t0)
	require.NoError(t, err)
	return s
}

// advance applies cmd and bumps the version the way the room actor does.
func advance(t *testing.T, s engine.State, cmd engine.Command) engine.State {
	t.Helper()
	_, next, err := engine.Apply(s, cmd)
	require.NoError(t, err)
	next.Room.Version = s.Room.Version + 1
	return next
}

func TestStore_CreateAndLoad(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		s := seed(t)
		require.NoError(t, st.CreateRoom(ctx, s))

		got, err := st.LoadRoom(ctx, s.Room.ID)
		require.NoError(t, err)
		assert.Equal(t, s.Room.Name, got.Room.Name)
		assert.Equal(t, 3, got.Room.MembersPerTeam)
		assert.Nil(t, got.Room.CurrentPlayerID)
		assert.True(t, s.Room.CreatedAt.Equal(got.Room.CreatedAt))
		require.Len(t, got.Teams, 2)
		assert.Equal(t, "Red", got.Teams[0].Name)
		assert.Equal(t, 1000, got.Teams[1].PointBalance)
		require.Len(t, got.Players, 2)
		assert.Equal(t, "P1", got.Players[0].Name)
		assert.Equal(t, engine.StatusWaiting, got.Players[0].Status)

		_, err = st.LoadRoom(ctx, uuid.New())
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_CommitRoundTrip(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		s := seed(t)
		require.NoError(t, st.CreateRoom(ctx, s))

		steps := []engine.Command{
			{Type: engine.CmdDrawPlayer, At: t0},
			{Type: engine.CmdStartAuction, At: t0},
		}
		for _, cmd := range steps {
			next := advance(t, s, cmd)
			require.NoError(t, st.Commit(ctx, s, next))
			s = next
		}
		playerID := *s.Room.CurrentPlayerID

		active, err := st.ActiveRoomIDs(ctx)
		require.NoError(t, err)
		assert.Contains(t, active, s.Room.ID)

		next := advance(t, s, engine.Command{Type: engine.CmdPlaceBid, PlayerID: playerID, TeamID: s.Teams[1].ID, Amount: 120, At: t0.Add(time.Second)})
		require.NoError(t, st.Commit(ctx, s, next))
		s = next
		next = advance(t, s, engine.Command{Type: engine.CmdAwardPlayer, PlayerID: playerID, At: t0.Add(11 * time.Second)})
		require.NoError(t, st.Commit(ctx, s, next))
		s = next

		got, err := st.LoadRoom(ctx, s.Room.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(4), got.Room.Version)
		assert.Nil(t, got.Room.TimerEndsAt)
		assert.Equal(t, 880, got.Teams[1].PointBalance)
		require.Len(t, got.Bids, 1)
		assert.Equal(t, 120, got.Bids[0].Amount)

		p, ok := got.Player(playerID)
		require.True(t, ok)
		assert.Equal(t, engine.StatusSold, p.Status)
		require.NotNil(t, p.TeamID)
		assert.Equal(t, s.Teams[1].ID, *p.TeamID)
		assert.Equal(t, 120, *p.SoldPrice)

		got.Rules = engine.DefaultRules()
		require.NoError(t, engine.Validate(got))

		active, err = st.ActiveRoomIDs(ctx)
		require.NoError(t, err)
		assert.NotContains(t, active, s.Room.ID)
	})
}

func TestStore_StaleCommitRejected(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		s := seed(t)
		require.NoError(t, st.CreateRoom(ctx, s))

		first := advance(t, s, engine.Command{Type: engine.CmdDrawPlayer, At: t0})
		require.NoError(t, st.Commit(ctx, s, first))

		// A second writer computed its change from the same base version.
		second := advance(t, s, engine.Command{Type: engine.CmdDrawPlayer, At: t0})
		require.ErrorIs(t, st.Commit(ctx, s, second), ErrVersionConflict)

		skipped := first
		skipped.Room.Version = first.Room.Version + 5
		require.ErrorIs(t, st.Commit(ctx, first, skipped), ErrVersionConflict)
	})
}

func TestStore_ArchiveAndDelete(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		s := seed(t)
		require.NoError(t, st.CreateRoom(ctx, s))

		older := NewArchive(s, t0.Add(time.Hour))
		newer := NewArchive(s, t0.Add(2*time.Hour))
		require.NoError(t, st.SaveArchive(ctx, older))
		require.NoError(t, st.SaveArchive(ctx, newer))

		list, err := st.ListArchives(ctx, 10)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, newer.ID, list[0].ID)
		assert.Equal(t, "spring split", list[0].RoomName)
		require.Len(t, list[0].Teams, 2)
		assert.Equal(t, "Red", list[0].Teams[0].Name)

		require.NoError(t, st.DeleteRoom(ctx, s.Room.ID))
		_, err = st.LoadRoom(ctx, s.Room.ID)
		require.ErrorIs(t, err, ErrNotFound)
		require.ErrorIs(t, st.DeleteRoom(ctx, s.Room.ID), ErrNotFound)
	})
}

func TestStore_Messages(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		roomID := uuid.New()
		for i, line := range []string{"Player P1 drawn", "Auction started for P1 (10s)", "No bids for P1, unsold"} {
			require.NoError(t, st.SaveMessage(ctx, Message{
				ID:        uuid.New(),
				RoomID:    roomID,
				Kind:      "audit",
				Line:      line,
				CreatedAt: t0.Add(time.Duration(i) * time.Second),
			}))
		}

		msgs, err := st.Messages(ctx, roomID, 2)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "Auction started for P1 (10s)", msgs[0].Line)
		assert.Equal(t, "No bids for P1, unsold", msgs[1].Line)
	})
}

func TestNewArchive_ListsSoldPlayersPerTeam(t *testing.T) {
	s := seed(t)
	teamID, price := s.Teams[0].ID, 300
	s.Players[1].Status = engine.StatusSold
	s.Players[1].TeamID = &teamID
	s.Players[1].SoldPrice = &price
	s.Teams[0].PointBalance -= price

	a := NewArchive(s, t0)
	require.Len(t, a.Teams, 2)
	require.Len(t, a.Teams[0].Players, 1)
	assert.Equal(t, "P2", a.Teams[0].Players[0].Name)
	assert.Equal(t, 300, a.Teams[0].Players[0].SoldPrice)
	assert.Equal(t, 700, a.Teams[0].PointBalance)
	assert.Empty(t, a.Teams[1].Players)
}
