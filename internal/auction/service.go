// Package auction exposes the room operations by room id. It resolves the room
// actor through the hub and applies the presence gate before forwarding.
package auction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/tuosm9390/minionsbid/internal/engine"
	"github.com/tuosm9390/minionsbid/internal/hub"
	"github.com/tuosm9390/minionsbid/internal/room"
	"github.com/tuosm9390/minionsbid/internal/store"
)

type Options struct {
	// RequireAllConnected gates resume and restart on every team leader
	// having a live connection.
	RequireAllConnected bool
	Clock               clockwork.Clock
	Log                 *zap.Logger
}

type Service struct {
	hub   *hub.Hub
	store store.Store
	clock clockwork.Clock
	log   *zap.Logger

	requireAllConnected bool
}

func NewService(h *hub.Hub, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Service{
		hub:                 h,
		store:               h.Store(),
		clock:               opts.Clock,
		log:                 opts.Log.Named("auction"),
		requireAllConnected: opts.RequireAllConnected,
	}
}

// CreateRoom persists a new room and starts its actor.
func (s *Service) CreateRoom(ctx context.Context, spec engine.RoomSpec) (engine.State, error) {
	state, err := engine.NewState(spec, s.hub.Rules(), s.clock.Now())
	if err != nil {
		return engine.State{}, err
	}
	if err := s.store.CreateRoom(ctx, state); err != nil {
		return engine.State{}, fmt.Errorf("create room: %w", err)
	}
	if _, err := s.hub.Create(ctx, state); err != nil {
		return engine.State{}, err
	}
	s.log.Info("room created",
		zap.Stringer("room_id", state.Room.ID),
		zap.Int("teams", len(state.Teams)),
		zap.Int("players", len(state.Players)),
	)
	return state, nil
}

// Room resolves the actor of roomID, loading it when needed.
func (s *Service) Room(ctx context.Context, roomID uuid.UUID) (*room.Room, error) {
	r, err := s.hub.Get(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, hub.ErrRoomClosed) {
		return nil, fmt.Errorf("room %s: %w", roomID, engine.ErrRoomNotFound)
	}
	return r, err
}

// DrawNextPlayer puts a uniformly random waiting player up for auction.
func (s *Service) DrawNextPlayer(ctx context.Context, roomID uuid.UUID) (uuid.UUID, error) {
	res, err := s.exec(ctx, roomID, engine.Command{Type: engine.CmdDrawPlayer})
	if err != nil {
		return uuid.Nil, err
	}
	for _, e := range res.Events {
		if e.Type == engine.EvtPlayerDrawn {
			return e.PlayerID, nil
		}
	}
	return uuid.Nil, nil
}

// StartAuction starts the countdown for the current player. A zero duration
// picks the room's default for the current round.
func (s *Service) StartAuction(ctx context.Context, roomID uuid.UUID, d time.Duration) error {
	_, err := s.exec(ctx, roomID, engine.Command{Type: engine.CmdStartAuction, Duration: d})
	return err
}

func (s *Service) PlaceBid(ctx context.Context, roomID, playerID, teamID uuid.UUID, amount int) error {
	_, err := s.exec(ctx, roomID, engine.Command{
		Type:     engine.CmdPlaceBid,
		PlayerID: playerID,
		TeamID:   teamID,
		Amount:   amount,
	})
	return err
}

// AwardPlayer settles the player's auction. Calls for already settled players
// or before the deadline succeed without changing anything.
func (s *Service) AwardPlayer(ctx context.Context, roomID, playerID uuid.UUID) error {
	_, err := s.exec(ctx, roomID, engine.Command{Type: engine.CmdAwardPlayer, PlayerID: playerID})
	return err
}

func (s *Service) DraftPlayer(ctx context.Context, roomID, playerID, teamID uuid.UUID, directed bool) error {
	_, err := s.exec(ctx, roomID, engine.Command{
		Type:     engine.CmdDraftPlayer,
		PlayerID: playerID,
		TeamID:   teamID,
		Directed: directed,
	})
	return err
}

func (s *Service) RestartAuctionWithUnsold(ctx context.Context, roomID uuid.UUID) error {
	_, err := s.gated(ctx, roomID, engine.Command{Type: engine.CmdRestartWithUnsold})
	return err
}

func (s *Service) PauseAuction(ctx context.Context, roomID uuid.UUID) error {
	_, err := s.exec(ctx, roomID, engine.Command{Type: engine.CmdPauseAuction})
	return err
}

func (s *Service) ResumeAuction(ctx context.Context, roomID uuid.UUID) error {
	_, err := s.gated(ctx, roomID, engine.Command{Type: engine.CmdResumeAuction})
	return err
}

// Snapshot returns the last committed state of the room.
func (s *Service) Snapshot(ctx context.Context, roomID uuid.UUID) (room.Snapshot, error) {
	r, err := s.Room(ctx, roomID)
	if err != nil {
		return room.Snapshot{}, err
	}
	return r.Snapshot(), nil
}

func (s *Service) Redistribution(ctx context.Context, roomID uuid.UUID) (engine.Redistribution, error) {
	snap, err := s.Snapshot(ctx, roomID)
	if err != nil {
		return engine.Redistribution{}, err
	}
	return engine.Redistribute(snap.State), nil
}

// Messages returns the last limit audit lines of the room, oldest first.
func (s *Service) Messages(ctx context.Context, roomID uuid.UUID, limit int) ([]store.Message, error) {
	return s.store.Messages(ctx, roomID, limit)
}

// CloseRoom stops the room actor, archives the final rosters and deletes the
// room. The hub refuses the room from the moment the actor stops, so nothing
// can load it back while it is being archived.
func (s *Service) CloseRoom(ctx context.Context, roomID uuid.UUID) (store.Archive, error) {
	r, err := s.Room(ctx, roomID)
	if err != nil {
		return store.Archive{}, err
	}
	if err := s.hub.Remove(ctx, roomID); err != nil {
		return store.Archive{}, err
	}

	// The actor is gone, so this is the final state.
	archive := store.NewArchive(r.Snapshot().State, s.clock.Now())
	if err := s.store.SaveArchive(ctx, archive); err != nil {
		s.reopen(ctx, roomID)
		return store.Archive{}, fmt.Errorf("save archive: %w", err)
	}
	if err := s.store.DeleteRoom(ctx, roomID); err != nil {
		s.reopen(ctx, roomID)
		return store.Archive{}, fmt.Errorf("delete room: %w", err)
	}
	s.log.Info("room closed", zap.Stringer("room_id", roomID), zap.Stringer("archive_id", archive.ID))
	return archive, nil
}

// reopen makes a room whose close failed loadable again.
func (s *Service) reopen(ctx context.Context, roomID uuid.UUID) {
	if err := s.hub.Reopen(context.WithoutCancel(ctx), roomID); err != nil {
		s.log.Warn("reopen room after failed close", zap.Stringer("room_id", roomID), zap.Error(err))
	}
}

func (s *Service) ListArchives(ctx context.Context, limit int) ([]store.Archive, error) {
	return s.store.ListArchives(ctx, limit)
}

func (s *Service) exec(ctx context.Context, roomID uuid.UUID, cmd engine.Command) (room.Result, error) {
	r, err := s.Room(ctx, roomID)
	if err != nil {
		return room.Result{}, err
	}
	return r.Do(ctx, cmd)
}

func (s *Service) gated(ctx context.Context, roomID uuid.UUID, cmd engine.Command) (room.Result, error) {
	r, err := s.Room(ctx, roomID)
	if err != nil {
		return room.Result{}, err
	}
	if s.requireAllConnected {
		view, err := r.View(ctx)
		if err != nil {
			return room.Result{}, err
		}
		if !view.AllTeamsConnected() {
			return room.Result{}, engine.ErrParticipantsOffline
		}
	}
	return r.Do(ctx, cmd)
}
