// Package room runs one actor goroutine per auction room. Every mutation and
// timer expiry of a room is applied by that goroutine, one at a time.
package room

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/tuosm9390/minionsbid/internal/audit"
	"github.com/tuosm9390/minionsbid/internal/engine"
	"github.com/tuosm9390/minionsbid/internal/store"
	"github.com/tuosm9390/minionsbid/internal/timer"
)

var ErrClosed = errors.New("room closed")

// Failed settlements on expiry are retried from expiryRetryMin, doubling up
// to expiryRetryMax.
const (
	expiryRetryMin = 100 * time.Millisecond
	expiryRetryMax = 5 * time.Second
)

type Msg interface{ isRoomMsg() }

type Exec struct {
	Cmd   engine.Command
	Reply chan Result
}

func (Exec) isRoomMsg() {}

type Join struct {
	ClientID string
	TeamID   uuid.UUID // uuid.Nil for organizers and spectators
	Outbox   chan Snapshot
}

func (Join) isRoomMsg() {}

type Leave struct{ ClientID string }

func (Leave) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRoomMsg() {}

type timerFired struct{ fire timer.Fire }

func (timerFired) isRoomMsg() {}

type Snapshot struct {
	Version int64
	State   engine.State
}

type Result struct {
	Events   []engine.Event
	Snapshot Snapshot
	Err      error
}

type View struct {
	Version        int64
	NumClients     int
	ConnectedTeams []uuid.UUID
	TimerArmed     bool
	State          engine.State
}

// AllTeamsConnected reports whether every team has a connected client.
func (v View) AllTeamsConnected() bool {
	seen := make(map[uuid.UUID]bool, len(v.ConnectedTeams))
	for _, id := range v.ConnectedTeams {
		seen[id] = true
	}
	for _, t := range v.State.Teams {
		if !seen[t.ID] {
			return false
		}
	}
	return true
}

type Options struct {
	Store         store.Store
	Audit         audit.Sink
	Clock         clockwork.Clock
	Rand          engine.RandSource
	Log           *zap.Logger
	CommitTimeout time.Duration

	// PauseOnDisconnect pauses a running countdown when the last client of a
	// team leaves.
	PauseOnDisconnect bool
}

type client struct {
	teamID uuid.UUID
	outbox chan Snapshot
}

type Room struct {
	id      uuid.UUID
	inbox   chan Msg
	state   engine.State
	clients map[string]client
	snap    atomic.Pointer[Snapshot]
	timer   *timer.Controller

	store  store.Store
	audit  audit.Sink
	clock  clockwork.Clock
	rand   engine.RandSource
	log    *zap.Logger
	commit time.Duration

	pauseOnDisconnect bool
	teamLeft          bool // a team lost its last client while handling a message
	expiryFailures    int
	gone              bool // the room no longer exists in the store

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts the actor for a room whose state is already persisted.
func New(parent context.Context, initial engine.State, opts Options) *Room {
	ctx, cancel := context.WithCancel(parent)

	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = 5 * time.Second
	}

	r := &Room{
		id:      initial.Room.ID,
		inbox:   make(chan Msg, 64), // Small buffer
		state:   initial,
		clients: make(map[string]client),
		store:   opts.Store,
		audit:   opts.Audit,
		clock:   opts.Clock,
		rand:    opts.Rand,
		log:     opts.Log.With(zap.Stringer("room_id", initial.Room.ID)),
		commit:  opts.CommitTimeout,

		pauseOnDisconnect: opts.PauseOnDisconnect,

		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	r.timer = timer.New(opts.Clock, r.onFire)
	r.publish()

	go r.loop()
	return r
}

func (r *Room) ID() uuid.UUID { return r.id }

// Inbox exposes the actor's mailbox to the hub and the ws layer.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

func (r *Room) Done() <-chan struct{} { return r.done }

// Snapshot returns the last committed state without going through the actor.
func (r *Room) Snapshot() Snapshot { return *r.snap.Load() }

// Do runs cmd on the actor and waits for the outcome.
func (r *Room) Do(ctx context.Context, cmd engine.Command) (Result, error) {
	reply := make(chan Result, 1)
	if err := r.send(ctx, Exec{Cmd: cmd, Reply: reply}); err != nil {
		return Result{}, err
	}
	select {
	case res := <-reply:
		return res, res.Err
	case <-r.done:
		return Result{}, ErrClosed
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (r *Room) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := r.send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// Close stops the actor and waits for it to exit.
func (r *Room) Close() {
	select {
	case r.inbox <- Shutdown{}:
	case <-r.done:
	}
	<-r.done
}

func (r *Room) send(ctx context.Context, m Msg) error {
	select {
	case r.inbox <- m:
		return nil
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) loop() {
	defer close(r.done)

	// Recovered rooms may carry a deadline from before a restart.
	r.syncTimer()

	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			if !r.handle(m) {
				r.shutdown()
				return
			}
			if r.teamLeft {
				r.teamLeft = false
				r.pauseForDisconnect()
			}
			if r.gone {
				r.log.Warn("room deleted from store, stopping actor")
				r.shutdown()
				return
			}
		}
	}
}

// handle processes one inbox message. It returns false when the actor should
// stop.
func (r *Room) handle(m Msg) bool {
	switch msg := m.(type) {
	case Join:
		// Register client + send current snapshot immediately
		r.clients[msg.ClientID] = client{teamID: msg.TeamID, outbox: msg.Outbox}
		select {
		case msg.Outbox <- r.Snapshot():
		default:
			r.drop(msg.ClientID)
		}

	case Leave:
		r.remove(msg.ClientID)

	case Exec:
		msg.Reply <- r.apply(msg.Cmd)

	case timerFired:
		r.handleFire(msg.fire)

	case GetState:
		_, armed := r.timer.Deadline()
		msg.Reply <- View{
			Version:        r.state.Room.Version,
			NumClients:     len(r.clients),
			ConnectedTeams: r.connectedTeams(),
			TimerArmed:     armed,
			State:          r.state.Clone(),
		}

	case Shutdown:
		return false
	}
	return true
}

// apply runs one command through the engine and commits the result. The
// in-memory state only moves after the store accepted the new version.
func (r *Room) apply(cmd engine.Command) Result {
	if cmd.At.IsZero() {
		cmd.At = r.clock.Now()
	}
	if cmd.Rand == nil {
		cmd.Rand = r.rand
	}

	events, next, err := engine.Apply(r.state, cmd)
	if err != nil {
		return Result{Err: err, Snapshot: r.Snapshot()}
	}
	if len(events) == 0 {
		return Result{Snapshot: r.Snapshot()}
	}
	if err := engine.Validate(next); err != nil {
		r.log.Error("rejecting invalid transition", zap.String("cmd", string(cmd.Type)), zap.Error(err))
		return Result{Err: err, Snapshot: r.Snapshot()}
	}

	next.Room.Version = r.state.Room.Version + 1

	ctx, cancel := context.WithTimeout(r.ctx, r.commit)
	err = r.store.Commit(ctx, r.state, next)
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			r.gone = true
		case errors.Is(err, store.ErrVersionConflict):
			r.reload()
		}
		r.log.Warn("commit failed", zap.String("cmd", string(cmd.Type)), zap.Error(err))
		return Result{Err: fmt.Errorf("commit %s: %w", cmd.Type, err), Snapshot: r.Snapshot()}
	}

	r.state = next
	snap := r.publish()
	r.broadcast(snap)
	r.record(events)
	r.syncTimer()

	return Result{Events: events, Snapshot: snap}
}

func (r *Room) handleFire(f timer.Fire) {
	if !r.timer.Fired(f.Gen) {
		r.log.Debug("dropping stale timer fire", zap.Uint64("gen", f.Gen))
		return
	}

	cur := r.state.Room.CurrentPlayerID
	if cur == nil {
		r.syncTimer()
		return
	}
	res := r.apply(engine.Command{Type: engine.CmdAwardPlayer, PlayerID: *cur})
	if res.Err == nil {
		r.expiryFailures = 0
		// Re-arm if the award was a no-op.
		r.syncTimer()
		return
	}
	if r.gone {
		return
	}

	// The deadline stays in the past until a commit succeeds, so retry on a
	// growing delay instead of re-arming it.
	r.expiryFailures++
	delay := expiryBackoff(r.expiryFailures)
	r.log.Error("award on expiry failed",
		zap.Int("attempt", r.expiryFailures),
		zap.Duration("retry_in", delay),
		zap.Error(res.Err),
	)
	r.timer.Arm(r.clock.Now().Add(delay))
}

func expiryBackoff(attempt int) time.Duration {
	d := expiryRetryMin
	for i := 1; i < attempt && d < expiryRetryMax; i++ {
		d *= 2
	}
	return min(d, expiryRetryMax)
}

// syncTimer makes the armed deadline match the room's timerEndsAt, offset by
// the bid grace window so late bids land before settlement.
func (r *Room) syncTimer() {
	end := r.state.Room.TimerEndsAt
	armed, isArmed := r.timer.Deadline()

	if end == nil {
		r.expiryFailures = 0
		if isArmed {
			r.timer.Cancel()
		}
		return
	}

	deadline := end.Add(r.state.Rules.BidGrace)
	if isArmed && (armed.Equal(deadline) || (r.expiryFailures > 0 && armed.After(deadline))) {
		return
	}
	gen := r.timer.Arm(deadline)
	r.log.Debug("armed auction timer", zap.Time("deadline", deadline), zap.Uint64("gen", gen))
}

func (r *Room) onFire(f timer.Fire) {
	select {
	case r.inbox <- timerFired{fire: f}:
	case <-r.ctx.Done():
	case <-r.done:
	}
}

func (r *Room) reload() {
	ctx, cancel := context.WithTimeout(r.ctx, r.commit)
	defer cancel()

	s, err := r.store.LoadRoom(ctx, r.id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.gone = true
		}
		r.log.Error("reload after conflict failed", zap.Error(err))
		return
	}
	s.Rules = r.state.Rules
	r.state = s
	r.broadcast(r.publish())
	r.syncTimer()
}

func (r *Room) record(events []engine.Event) {
	if r.audit == nil {
		return
	}
	for _, e := range audit.Entries(r.id, r.state.Room.Version, events) {
		if err := r.audit.Record(r.ctx, e); err != nil {
			r.log.Warn("audit record failed", zap.Error(err))
		}
	}
}

func (r *Room) publish() Snapshot {
	snap := Snapshot{Version: r.state.Room.Version, State: r.state.Clone()}
	r.snap.Store(&snap)
	return snap
}

func (r *Room) connectedTeams() []uuid.UUID {
	var ids []uuid.UUID
	seen := map[uuid.UUID]bool{}
	for _, c := range r.clients {
		if c.teamID == uuid.Nil || seen[c.teamID] {
			continue
		}
		seen[c.teamID] = true
		ids = append(ids, c.teamID)
	}
	return ids
}

func (r *Room) shutdown() {
	r.timer.Cancel()
	for id, c := range r.clients {
		close(c.outbox) // Tell client no more snapshots
		delete(r.clients, id)
	}
	r.cancel()
}

func (r *Room) broadcast(snap Snapshot) {
	for id, c := range r.clients {
		select {
		case c.outbox <- snap:
			//ok
		default:
			// Client is slow/full - drop them.
			r.drop(id)
		}
	}
}

func (r *Room) drop(id string) {
	if r.remove(id) {
		r.log.Debug("dropped slow client", zap.String("client_id", id))
	}
}

// remove forgets a client and notes when its team has no client left.
func (r *Room) remove(id string) bool {
	c, ok := r.clients[id]
	if !ok {
		return false
	}
	close(c.outbox)
	delete(r.clients, id)

	if c.teamID != uuid.Nil && !r.teamConnected(c.teamID) {
		r.teamLeft = true
	}
	return true
}

func (r *Room) teamConnected(teamID uuid.UUID) bool {
	for _, c := range r.clients {
		if c.teamID == teamID {
			return true
		}
	}
	return false
}

// pauseForDisconnect stops a running countdown after a team lost its last
// connection, so its leader does not lose bidding time.
func (r *Room) pauseForDisconnect() {
	if !r.pauseOnDisconnect || r.state.Room.TimerEndsAt == nil {
		return
	}
	res := r.apply(engine.Command{Type: engine.CmdPauseAuction})
	if res.Err != nil {
		r.log.Warn("pause on disconnect failed", zap.Error(res.Err))
		return
	}
	r.log.Info("auction paused, team disconnected")
}
