package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tuosm9390/minionsbid/internal/audit"
	"github.com/tuosm9390/minionsbid/internal/engine"
	"github.com/tuosm9390/minionsbid/internal/store"
)

var t0 = time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

// helper: receive one snapshot with a timeout so tests never hang
func recvSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return snap
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot")
		return Snapshot{} // unreachable
	}
}

func recvNoSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			// channel closed → that's fine; no further snapshots possible
			return
		}
		t.Fatalf("expected no snapshot within %v, but got version %d", within, s.Version)
	case <-time.After(within):
		// good: no snapshot
	}
}

func recvView(t *testing.T, ch <-chan View, within time.Duration) View {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(within):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

type fixture struct {
	room  *Room
	clock *clockwork.FakeClock
	store store.Store
	state engine.State
}

func newFixture(t *testing.T, opts Options, players ...string) fixture {
	t.Helper()
	spec := engine.RoomSpec{
		Name:           "room test",
		MembersPerTeam: 3,
		BasePoint:      1000,
		Teams:          []engine.TeamSpec{{Name: "Red"}, {Name: "Blue"}},
	}
	for _, p := range players {
		spec.Players = append(spec.Players, engine.PlayerSpec{Name: p})
	}
	s, err := engine.NewState(spec, engine.DefaultRules(), t0)
	require.NoError(t, err)
	return startFixture(t, s, opts)
}

func startFixture(t *testing.T, s engine.State, opts Options) fixture {
	t.Helper()
	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}
	require.NoError(t, opts.Store.CreateRoom(context.Background(), s))

	clk := clockwork.NewFakeClockAt(t0)
	if opts.Clock != nil {
		clk = opts.Clock.(*clockwork.FakeClock)
	}
	opts.Clock = clk
	opts.Log = zap.NewNop()

	r := New(context.Background(), s, opts)
	t.Cleanup(r.Close)
	return fixture{room: r, clock: clk, store: opts.Store, state: s}
}

func (f fixture) do(t *testing.T, cmd engine.Command) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := f.room.Do(ctx, cmd)
	require.NoError(t, err)
	return res
}

func (f fixture) join(t *testing.T, id string, buf int) chan Snapshot {
	t.Helper()
	out := make(chan Snapshot, buf)
	f.room.Inbox() <- Join{ClientID: id, Outbox: out}
	first := recvSnapshot(t, out, 100*time.Millisecond)
	require.Equal(t, int64(0), first.Version)
	return out
}

func TestRoom_Draw_BroadcastsSnapshotAndVersionIncrements(t *testing.T) {
	f := newFixture(t, Options{}, "P1")
	out := f.join(t, "c1", 2)

	f.do(t, engine.Command{Type: engine.CmdDrawPlayer})

	next := recvSnapshot(t, out, 100*time.Millisecond)
	assert.Equal(t, int64(1), next.Version)
	require.NotNil(t, next.State.Room.CurrentPlayerID)
	assert.Equal(t, engine.StatusInAuction, next.State.Players[0].Status)
	assert.Equal(t, int64(1), f.room.Snapshot().Version)

	stored, err := f.store.LoadRoom(context.Background(), f.state.Room.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Room.Version)
}

func TestRoom_RejectedCommandKeepsState(t *testing.T) {
	f := newFixture(t, Options{}, "P1")
	out := f.join(t, "c1", 2)

	ctx := context.Background()
	_, err := f.room.Do(ctx, engine.Command{Type: engine.CmdStartAuction})
	require.ErrorIs(t, err, engine.ErrNoCurrentPlayer)

	recvNoSnapshot(t, out, 50*time.Millisecond)
	assert.Equal(t, int64(0), f.room.Snapshot().Version)
}

func TestRoom_DropSlowClient(t *testing.T) {
	f := newFixture(t, Options{}, "P1")

	clientOut := make(chan Snapshot, 1)
	f.room.Inbox() <- Join{ClientID: "ch1", Outbox: clientOut}

	f.do(t, engine.Command{Type: engine.CmdDrawPlayer})

	reply := make(chan View, 1)
	f.room.Inbox() <- GetState{Reply: reply}
	view := recvView(t, reply, 100*time.Millisecond)

	if view.NumClients != 0 {
		t.Fatalf("expected slow client to be dropped; NumClients=%d", view.NumClients)
	}
}

func TestRoom_TimerExpiry_AwardsLeader(t *testing.T) {
	var (
		mu    sync.Mutex
		lines []string
	)
	sink := audit.SinkFunc(func(_ context.Context, e audit.Entry) error {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, e.Line)
		return nil
	})

	f := newFixture(t, Options{Audit: sink}, "P1")
	out := f.join(t, "c1", 8)

	f.do(t, engine.Command{Type: engine.CmdDrawPlayer})
	f.do(t, engine.Command{Type: engine.CmdStartAuction, Duration: 10 * time.Second})
	snap := f.room.Snapshot()
	playerID := *snap.State.Room.CurrentPlayerID
	blue := snap.State.Teams[1].ID

	f.clock.Advance(2 * time.Second)
	f.do(t, engine.Command{Type: engine.CmdPlaceBid, PlayerID: playerID, TeamID: blue, Amount: 70})
	for i := 0; i < 3; i++ {
		recvSnapshot(t, out, 100*time.Millisecond)
	}

	// Deadline plus the one second grace.
	f.clock.Advance(9 * time.Second)
	settled := recvSnapshot(t, out, time.Second)
	assert.Equal(t, int64(4), settled.Version)
	assert.Nil(t, settled.State.Room.CurrentPlayerID)
	assert.Equal(t, engine.StatusSold, settled.State.Players[0].Status)
	assert.Equal(t, 930, settled.State.Teams[1].PointBalance)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"Player P1 drawn",
		"Auction started for P1 (10s)",
		"Blue bid 70 on P1",
		"P1 sold to Blue for 70",
	}, lines)
}

func TestRoom_TimerGen_DropsStaleFires(t *testing.T) {
	f := newFixture(t, Options{}, "P1")
	out := f.join(t, "c1", 8)

	f.do(t, engine.Command{Type: engine.CmdDrawPlayer})
	f.do(t, engine.Command{Type: engine.CmdStartAuction, Duration: 10 * time.Second})
	snap := f.room.Snapshot()
	playerID := *snap.State.Room.CurrentPlayerID

	// A bid three seconds before the deadline pushes it to t0+12s.
	f.clock.Advance(7 * time.Second)
	res := f.do(t, engine.Command{Type: engine.CmdPlaceBid, PlayerID: playerID, TeamID: snap.State.Teams[0].ID, Amount: 10})
	require.True(t, engine.ContainsEvent(res.Events, engine.EvtTimerExtended))
	for i := 0; i < 3; i++ {
		recvSnapshot(t, out, 100*time.Millisecond)
	}

	// The original t0+11s fire was superseded.
	f.clock.Advance(4 * time.Second)
	recvNoSnapshot(t, out, 100*time.Millisecond)

	f.clock.Advance(2 * time.Second)
	next := recvSnapshot(t, out, time.Second)
	assert.Equal(t, int64(4), next.Version)
	assert.Equal(t, engine.StatusSold, next.State.Players[0].Status)
}

func TestRoom_PauseCancelsExpiry(t *testing.T) {
	f := newFixture(t, Options{}, "P1")
	out := f.join(t, "c1", 8)

	f.do(t, engine.Command{Type: engine.CmdDrawPlayer})
	f.do(t, engine.Command{Type: engine.CmdStartAuction, Duration: 10 * time.Second})
	f.do(t, engine.Command{Type: engine.CmdPauseAuction})
	for i := 0; i < 3; i++ {
		recvSnapshot(t, out, 100*time.Millisecond)
	}

	f.clock.Advance(time.Minute)
	recvNoSnapshot(t, out, 100*time.Millisecond)

	view, err := f.room.View(context.Background())
	require.NoError(t, err)
	assert.False(t, view.TimerArmed)
	assert.NotNil(t, view.State.Room.CurrentPlayerID)

	f.do(t, engine.Command{Type: engine.CmdResumeAuction})
	recvSnapshot(t, out, 100*time.Millisecond)
	f.clock.Advance(6 * time.Second)
	settled := recvSnapshot(t, out, time.Second)
	assert.Equal(t, engine.StatusUnsold, settled.State.Players[0].Status)
}

func TestRoom_Shutdown_StopsTimer_NoFire(t *testing.T) {
	f := newFixture(t, Options{}, "P1")
	out := f.join(t, "c1", 8)

	f.do(t, engine.Command{Type: engine.CmdDrawPlayer})
	f.do(t, engine.Command{Type: engine.CmdStartAuction, Duration: time.Second})
	recvSnapshot(t, out, 100*time.Millisecond)
	recvSnapshot(t, out, 100*time.Millisecond)

	f.room.Inbox() <- Shutdown{}
	<-f.room.Done()
	f.clock.Advance(5 * time.Second)

	// Now assert no *new* snapshot shows up (or channel is closed)
	recvNoSnapshot(t, out, 100*time.Millisecond)

	stored, err := f.store.LoadRoom(context.Background(), f.state.Room.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusInAuction, stored.Players[0].Status)

	_, err = f.room.Do(context.Background(), engine.Command{Type: engine.CmdPauseAuction})
	require.ErrorIs(t, err, ErrClosed)
}

func TestRoom_RecoversOverdueTimer(t *testing.T) {
	s, err := engine.NewState(engine.RoomSpec{
		Name:           "recovered",
		MembersPerTeam: 3,
		BasePoint:      1000,
		Teams:          []engine.TeamSpec{{Name: "Red"}, {Name: "Blue"}},
		Players:        []engine.PlayerSpec{{Name: "P1"}},
	}, engine.DefaultRules(), t0.Add(-time.Hour))
	require.NoError(t, err)

	// Persisted while an auction was running, then the process stopped.
	id := s.Players[0].ID
	end := t0.Add(-30 * time.Second)
	s.Players[0].Status = engine.StatusInAuction
	s.Room.CurrentPlayerID = &id
	s.Room.TimerEndsAt = &end

	f := startFixture(t, s, Options{})

	require.Eventually(t, func() bool {
		return f.room.Snapshot().State.Players[0].Status == engine.StatusUnsold
	}, time.Second, 10*time.Millisecond)
	assert.Nil(t, f.room.Snapshot().State.Room.TimerEndsAt)
}

func TestRoom_ConcurrentBidsSerialize(t *testing.T) {
	spec := engine.RoomSpec{Name: "busy", MembersPerTeam: 3, BasePoint: 100000, Players: []engine.PlayerSpec{{Name: "P1"}}}
	for _, n := range []string{"A", "B", "C", "D", "E", "F"} {
		spec.Teams = append(spec.Teams, engine.TeamSpec{Name: n})
	}
	s, err := engine.NewState(spec, engine.DefaultRules(), t0)
	require.NoError(t, err)
	f := startFixture(t, s, Options{})

	f.do(t, engine.Command{Type: engine.CmdDrawPlayer})
	f.do(t, engine.Command{Type: engine.CmdStartAuction, Duration: 10 * time.Second})
	playerID := *f.room.Snapshot().State.Room.CurrentPlayerID

	var (
		g        errgroup.Group
		mu       sync.Mutex
		accepted int
	)
	for _, team := range s.Teams {
		team := team
		g.Go(func() error {
			for amount := 10; amount <= 500; amount += 10 {
				_, err := f.room.Do(context.Background(), engine.Command{
					Type: engine.CmdPlaceBid, PlayerID: playerID, TeamID: team.ID, Amount: amount,
				})
				switch {
				case err == nil:
					mu.Lock()
					accepted++
					mu.Unlock()
				case errors.Is(err, engine.ErrConflict):
				default:
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	final := f.room.Snapshot().State
	require.Len(t, final.Bids, accepted)
	require.NoError(t, engine.Ledger(final.Bids).Check(10))
	require.NoError(t, engine.Validate(final))
}

type failingStore struct {
	store.Store
	err error
}

func (f failingStore) Commit(context.Context, engine.State, engine.State) error { return f.err }

func TestRoom_CommitFailureLeavesStateUnchanged(t *testing.T) {
	boom := errors.New("disk on fire")
	f := newFixture(t, Options{Store: failingStore{Store: store.NewMemory(), err: boom}}, "P1")
	out := f.join(t, "c1", 2)

	_, err := f.room.Do(context.Background(), engine.Command{Type: engine.CmdDrawPlayer})
	require.ErrorIs(t, err, boom)
	recvNoSnapshot(t, out, 50*time.Millisecond)

	snap := f.room.Snapshot()
	assert.Equal(t, int64(0), snap.Version)
	assert.Equal(t, engine.StatusWaiting, snap.State.Players[0].Status)
}

func TestRoom_ConcurrentDraws_OneWins(t *testing.T) {
	f := newFixture(t, Options{}, "P1", "P2", "P3")

	var (
		g        errgroup.Group
		drawn    atomic.Int32
		rejected atomic.Int32
	)
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			_, err := f.room.Do(context.Background(), engine.Command{Type: engine.CmdDrawPlayer})
			switch {
			case err == nil:
				drawn.Add(1)
			case errors.Is(err, engine.ErrAlreadyInProgress):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), drawn.Load())
	assert.Equal(t, int32(1), rejected.Load())

	final := f.room.Snapshot().State
	assert.Equal(t, int64(1), final.Room.Version)
	inAuction := 0
	for _, p := range final.Players {
		if p.Status == engine.StatusInAuction {
			inAuction++
		}
	}
	assert.Equal(t, 1, inAuction)
}

// flakyStore fails every commit while fail is set and counts the failures.
type flakyStore struct {
	store.Store
	fail   atomic.Bool
	failed atomic.Int64
}

func (s *flakyStore) Commit(ctx context.Context, prev, next engine.State) error {
	if s.fail.Load() {
		s.failed.Add(1)
		return errors.New("connection reset")
	}
	return s.Store.Commit(ctx, prev, next)
}

func TestRoom_ExpiryCommitFailure_RetriesWithBackoff(t *testing.T) {
	st := &flakyStore{Store: store.NewMemory()}
	f := newFixture(t, Options{Store: st}, "P1")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	f.do(t, engine.Command{Type: engine.CmdDrawPlayer})
	f.do(t, engine.Command{Type: engine.CmdStartAuction, Duration: 10 * time.Second})
	st.fail.Store(true)

	// Deadline plus grace: the settlement fails once and a retry is scheduled.
	f.clock.Advance(11 * time.Second)
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), st.failed.Load())

	f.clock.Advance(100 * time.Millisecond)
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(2), st.failed.Load())

	// The next retry waits twice as long.
	f.clock.Advance(100 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(2), st.failed.Load())

	st.fail.Store(false)
	f.clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool {
		return f.room.Snapshot().State.Players[0].Status == engine.StatusUnsold
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(2), st.failed.Load())
	assert.Nil(t, f.room.Snapshot().State.Room.TimerEndsAt)
}

func TestExpiryBackoff(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, expiryBackoff(1))
	assert.Equal(t, 200*time.Millisecond, expiryBackoff(2))
	assert.Equal(t, 3200*time.Millisecond, expiryBackoff(6))
	assert.Equal(t, 5*time.Second, expiryBackoff(7))
	assert.Equal(t, 5*time.Second, expiryBackoff(50))
}

func TestRoom_StopsWhenDeletedFromStore(t *testing.T) {
	f := newFixture(t, Options{}, "P1")

	f.do(t, engine.Command{Type: engine.CmdDrawPlayer})
	f.do(t, engine.Command{Type: engine.CmdStartAuction, Duration: 10 * time.Second})
	require.NoError(t, f.store.DeleteRoom(context.Background(), f.state.Room.ID))

	f.clock.Advance(11 * time.Second)
	select {
	case <-f.room.Done():
	case <-time.After(time.Second):
		t.Fatal("room actor kept running after its rows were deleted")
	}
}

func (f fixture) joinTeam(t *testing.T, id string, team int) {
	t.Helper()
	out := make(chan Snapshot, 16)
	f.room.Inbox() <- Join{ClientID: id, TeamID: f.state.Teams[team].ID, Outbox: out}
	recvSnapshot(t, out, 100*time.Millisecond)
}

func TestRoom_PauseOnDisconnect(t *testing.T) {
	cases := []struct {
		name      string
		enabled   bool
		redExtras int
		wantPause bool
	}{
		{name: "last team client leaves", enabled: true, wantPause: true},
		{name: "team still has a client", enabled: true, redExtras: 1, wantPause: false},
		{name: "disabled", enabled: false, wantPause: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Options{PauseOnDisconnect: tc.enabled}, "P1")
			f.joinTeam(t, "red", 0)
			f.joinTeam(t, "blue", 1)
			for i := 0; i < tc.redExtras; i++ {
				f.joinTeam(t, fmt.Sprintf("red-%d", i), 0)
			}

			f.do(t, engine.Command{Type: engine.CmdDrawPlayer})
			f.do(t, engine.Command{Type: engine.CmdStartAuction, Duration: 10 * time.Second})
			f.clock.Advance(3 * time.Second)

			f.room.Inbox() <- Leave{ClientID: "red"}
			view, err := f.room.View(context.Background())
			require.NoError(t, err)

			if !tc.wantPause {
				require.NotNil(t, view.State.Room.TimerEndsAt)
				assert.True(t, view.TimerArmed)
				return
			}
			assert.Nil(t, view.State.Room.TimerEndsAt)
			assert.False(t, view.TimerArmed)
			assert.NotNil(t, view.State.Room.CurrentPlayerID)

			// Nothing settles while paused.
			f.clock.Advance(time.Minute)
			assert.Equal(t, engine.StatusInAuction, f.room.Snapshot().State.Players[0].Status)
		})
	}
}

func TestView_AllTeamsConnected(t *testing.T) {
	f := newFixture(t, Options{}, "P1")
	red, blue := f.state.Teams[0].ID, f.state.Teams[1].ID

	redOut := make(chan Snapshot, 4)
	f.room.Inbox() <- Join{ClientID: "red", TeamID: red, Outbox: redOut}
	view, err := f.room.View(context.Background())
	require.NoError(t, err)
	assert.False(t, view.AllTeamsConnected())

	blueOut := make(chan Snapshot, 4)
	f.room.Inbox() <- Join{ClientID: "blue", TeamID: blue, Outbox: blueOut}
	view, err = f.room.View(context.Background())
	require.NoError(t, err)
	assert.True(t, view.AllTeamsConnected())

	f.room.Inbox() <- Leave{ClientID: "blue"}
	view, err = f.room.View(context.Background())
	require.NoError(t, err)
	assert.False(t, view.AllTeamsConnected())
	assert.Equal(t, 1, view.NumClients)
}
