// Package hub keeps the registry of live room actors.
package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tuosm9390/minionsbid/internal/engine"
	"github.com/tuosm9390/minionsbid/internal/room"
	"github.com/tuosm9390/minionsbid/internal/store"
)

var (
	ErrClosed = errors.New("hub closed")
	// ErrRoomClosed is returned for rooms removed from the hub. They are never
	// loaded again unless reopened.
	ErrRoomClosed = errors.New("room closed")
)

type HubMsg interface{ isHubMsg() }

// CreateRoom starts an actor for a freshly persisted room.
type CreateRoom struct {
	State engine.State
	Reply chan *room.Room
}

// Lookup answers GetRoom and EnsureRoom. Room is nil when the room is not
// running; Closed reports a removed room.
type Lookup struct {
	Room   *room.Room
	Closed bool
}

type GetRoom struct {
	ID    uuid.UUID
	Reply chan Lookup
}

// EnsureRoom starts an actor from State unless one is already running.
type EnsureRoom struct {
	State engine.State // only used if creation happens
	Reply chan Lookup
}

// RemoveRoom forgets the actor and marks the room closed.
type RemoveRoom struct {
	ID    uuid.UUID
	Reply chan *room.Room
}

// ReopenRoom lifts the closed mark of a room whose close did not complete.
type ReopenRoom struct {
	ID    uuid.UUID
	Reply chan struct{}
}

type ListRooms struct {
	Reply chan []uuid.UUID
}

type ShutdownHub struct{}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (EnsureRoom) isHubMsg()  {}
func (RemoveRoom) isHubMsg()  {}
func (ReopenRoom) isHubMsg()  {}
func (ListRooms) isHubMsg()   {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox chan HubMsg
	rooms  map[uuid.UUID]*room.Room
	closed map[uuid.UUID]struct{}
	opts  room.Options
	rules engine.Rules
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub starts the registry. Every room it starts shares opts; rules replace
// whatever a loaded state carries since rules are not persisted.
func NewHub(parent context.Context, opts room.Options, rules engine.Rules) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[uuid.UUID]*room.Room),
		closed: make(map[uuid.UUID]struct{}),
		opts:   opts,
		rules:  rules,
		log:    opts.Log.Named("hub"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Rules() engine.Rules { return h.rules }

func (h *Hub) Store() store.Store { return h.opts.Store }

// Create registers the actor of a room that was just persisted.
func (h *Hub) Create(ctx context.Context, s engine.State) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	if err := h.send(ctx, CreateRoom{State: s, Reply: reply}); err != nil {
		return nil, err
	}
	return wait(ctx, h.done, reply)
}

// Get returns the running actor for id, starting one from the store when the
// room is not loaded yet.
func (h *Hub) Get(ctx context.Context, id uuid.UUID) (*room.Room, error) {
	reply := make(chan Lookup, 1)
	if err := h.send(ctx, GetRoom{ID: id, Reply: reply}); err != nil {
		return nil, err
	}
	l, err := wait(ctx, h.done, reply)
	if err != nil {
		return nil, err
	}
	if l.Closed {
		return nil, ErrRoomClosed
	}
	if l.Room != nil {
		return l.Room, nil
	}

	// Load outside the loop so a slow database never blocks the registry.
	s, err := h.opts.Store.LoadRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Rules = h.rules

	// The room may have been removed while it was loading.
	if err := h.send(ctx, EnsureRoom{State: s, Reply: reply}); err != nil {
		return nil, err
	}
	if l, err = wait(ctx, h.done, reply); err != nil {
		return nil, err
	}
	if l.Closed {
		return nil, ErrRoomClosed
	}
	return l.Room, nil
}

// Remove stops the actor for id, if any, and marks the room closed so that
// later lookups fail instead of loading it again.
func (h *Hub) Remove(ctx context.Context, id uuid.UUID) error {
	reply := make(chan *room.Room, 1)
	if err := h.send(ctx, RemoveRoom{ID: id, Reply: reply}); err != nil {
		return err
	}
	r, err := wait(ctx, h.done, reply)
	if err != nil {
		return err
	}
	if r != nil {
		r.Close()
	}
	return nil
}

// Reopen undoes the closed mark left by Remove.
func (h *Hub) Reopen(ctx context.Context, id uuid.UUID) error {
	reply := make(chan struct{}, 1)
	if err := h.send(ctx, ReopenRoom{ID: id, Reply: reply}); err != nil {
		return err
	}
	_, err := wait(ctx, h.done, reply)
	return err
}

func (h *Hub) List(ctx context.Context) ([]uuid.UUID, error) {
	reply := make(chan []uuid.UUID, 1)
	if err := h.send(ctx, ListRooms{Reply: reply}); err != nil {
		return nil, err
	}
	return wait(ctx, h.done, reply)
}

// Recover starts actors for every room persisted with a running timer so
// deadlines that passed while the process was down still settle.
func (h *Hub) Recover(ctx context.Context) (int, error) {
	ids, err := h.opts.Store.ActiveRoomIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active rooms: %w", err)
	}
	for _, id := range ids {
		if _, err := h.Get(ctx, id); err != nil {
			return 0, fmt.Errorf("recover room %s: %w", id, err)
		}
	}
	if len(ids) > 0 {
		h.log.Info("recovered rooms", zap.Int("count", len(ids)))
	}
	return len(ids), nil
}

// Shutdown stops every room actor and then the hub itself.
func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.done:
	}
	<-h.done
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func wait[T any](ctx context.Context, done <-chan struct{}, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (h *Hub) loop() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				msg.Reply <- h.ensure(msg.State)

			case GetRoom:
				msg.Reply <- h.lookup(msg.ID)

			case EnsureRoom:
				if l := h.lookup(msg.State.Room.ID); l.Closed || l.Room != nil {
					msg.Reply <- l
					continue
				}
				msg.Reply <- Lookup{Room: h.ensure(msg.State)}

			case RemoveRoom:
				r := h.rooms[msg.ID]
				delete(h.rooms, msg.ID)
				h.closed[msg.ID] = struct{}{}
				msg.Reply <- r

			case ReopenRoom:
				delete(h.closed, msg.ID)
				msg.Reply <- struct{}{}

			case ListRooms:
				ids := make([]uuid.UUID, 0, len(h.rooms))
				for id, r := range h.rooms {
					if !stopped(r) {
						ids = append(ids, id)
					}
				}
				msg.Reply <- ids

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

// lookup returns the running actor of id. Actors that stopped on their own
// are forgotten so the next Get loads the room again.
func (h *Hub) lookup(id uuid.UUID) Lookup {
	if _, ok := h.closed[id]; ok {
		return Lookup{Closed: true}
	}
	r := h.rooms[id]
	if r != nil && stopped(r) {
		delete(h.rooms, id)
		h.log.Debug("forgot stopped room", zap.Stringer("room_id", id))
		return Lookup{}
	}
	return Lookup{Room: r}
}

func stopped(r *room.Room) bool {
	select {
	case <-r.Done():
		return true
	default:
		return false
	}
}

func (h *Hub) ensure(s engine.State) *room.Room {
	if r := h.rooms[s.Room.ID]; r != nil && !stopped(r) {
		return r
	}
	r := room.New(h.ctx, s, h.opts)
	h.rooms[s.Room.ID] = r
	h.log.Debug("room started", zap.Stringer("room_id", s.Room.ID))
	return r
}

func (h *Hub) shutdown() {
	for _, r := range h.rooms {
		r.Close()
	}
	clear(h.rooms)
	h.cancel()
}
