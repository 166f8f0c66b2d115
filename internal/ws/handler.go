package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tuosm9390/minionsbid/internal/auction"
	"github.com/tuosm9390/minionsbid/internal/engine"
	"github.com/tuosm9390/minionsbid/internal/room"
	"github.com/tuosm9390/minionsbid/internal/types"
	pub "github.com/tuosm9390/minionsbid/pkg/types"
)

const (
	writeTimeout = 3 * time.Second
	readTimeout  = 60 * time.Second
)

// Handler upgrades GET /ws?room=<id>&team=<id>. The team parameter is optional;
// connections without it are organizers or spectators and do not count toward
// presence.
func Handler(svc *auction.Service, log *zap.Logger) http.HandlerFunc {
	log = log.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		roomID, err := uuid.Parse(r.URL.Query().Get("room"))
		if err != nil {
			http.Error(w, "missing or malformed room", http.StatusBadRequest)
			return
		}
		var teamID uuid.UUID
		if t := r.URL.Query().Get("team"); t != "" {
			if teamID, err = uuid.Parse(t); err != nil {
				http.Error(w, "malformed team", http.StatusBadRequest)
				return
			}
		}

		rm, err := svc.Room(r.Context(), roomID)
		if err != nil {
			if errors.Is(err, engine.ErrNotFound) {
				http.Error(w, "room not found", http.StatusNotFound)
				return
			}
			http.Error(w, "failed to load room", http.StatusInternalServerError)
			return
		}
		if teamID != uuid.Nil {
			if _, ok := rm.Snapshot().State.Team(teamID); !ok {
				http.Error(w, "team not found", http.StatusNotFound)
				return
			}
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		c := &client{
			id:     uuid.NewString(),
			roomID: roomID,
			teamID: teamID,
			conn:   conn,
			svc:    svc,
			log:    log.With(zap.Stringer("room_id", roomID)),
		}
		c.serve(r.Context(), rm)
	}
}

type client struct {
	id     string
	roomID uuid.UUID
	teamID uuid.UUID
	conn   *websocket.Conn
	svc    *auction.Service
	log    *zap.Logger

	// replies carries error messages for this client only.
	replies chan types.ServerMessage
}

func (c *client) serve(ctx context.Context, rm *room.Room) {
	out := make(chan room.Snapshot, 8)
	c.replies = make(chan types.ServerMessage, 8)

	select {
	case rm.Inbox() <- room.Join{ClientID: c.id, TeamID: c.teamID, Outbox: out}:
	case <-rm.Done():
		return
	case <-ctx.Done():
		return
	}
	defer func() {
		select {
		case rm.Inbox() <- room.Leave{ClientID: c.id}:
		case <-rm.Done():
		}
	}()

	// Writer goroutine
	writeCtx, writeCancel := context.WithCancel(ctx)
	defer writeCancel()
	go c.writeLoop(writeCtx, out)

	// Reader loop
	for {
		readCtx, cancel := context.WithTimeout(ctx, readTimeout)
		_, data, err := c.conn.Read(readCtx)
		cancel()
		if err != nil {
			// Treat clean close/going-away as normal:
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				c.log.Debug("ws read failed", zap.Error(err))
			}
			return
		}

		var cm types.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			c.reply(types.ErrorMessage(string(engine.CodeInvalidRequest), "bad json"))
			continue
		}
		if err := c.dispatch(ctx, cm); err != nil {
			code := string(engine.CodeUnsupportedCommand)
			if e, ok := engine.AsError(err); ok {
				code = string(e.Code)
			} else {
				c.log.Warn("ws command failed", zap.String("type", cm.Type), zap.Error(err))
			}
			c.reply(types.ErrorMessage(code, err.Error()))
		}
	}
}

// writeLoop is the only writer of the connection. It stops when the room
// closes the outbox.
func (c *client) writeLoop(ctx context.Context, out <-chan room.Snapshot) {
	for {
		var msg types.ServerMessage
		select {
		case snap, ok := <-out:
			if !ok {
				c.conn.Close(websocket.StatusGoingAway, "room closed")
				return
			}
			msg = types.SnapshotMessage(snap.Version, snap.State)
		case msg = <-c.replies:
		case <-ctx.Done():
			return
		}

		payload, err := json.Marshal(msg)
		if err != nil {
			c.log.Error("marshal server message", zap.Error(err))
			continue
		}
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err = c.conn.Write(wctx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			return
		}
	}
}

func (c *client) reply(m types.ServerMessage) {
	select {
	case c.replies <- m:
	default:
		c.log.Debug("dropping error reply for slow client")
	}
}

func (c *client) dispatch(ctx context.Context, m types.ClientMessage) error {
	switch m.Type {
	case pub.MsgDrawPlayer:
		_, err := c.svc.DrawNextPlayer(ctx, c.roomID)
		return err

	case pub.MsgStartAuction:
		d, err := m.Duration()
		if err != nil {
			return err
		}
		return c.svc.StartAuction(ctx, c.roomID, d)

	case pub.MsgPlaceBid:
		playerID, err := m.Player()
		if err != nil {
			return err
		}
		teamID, err := m.Team(c.teamID)
		if err != nil {
			return err
		}
		return c.svc.PlaceBid(ctx, c.roomID, playerID, teamID, m.Amount)

	case pub.MsgDraftPlayer:
		playerID, err := m.Player()
		if err != nil {
			return err
		}
		teamID, err := m.Team(c.teamID)
		if err != nil {
			return err
		}
		return c.svc.DraftPlayer(ctx, c.roomID, playerID, teamID, m.Directed)

	case pub.MsgRestartAuction:
		return c.svc.RestartAuctionWithUnsold(ctx, c.roomID)

	case pub.MsgPauseAuction:
		return c.svc.PauseAuction(ctx, c.roomID)

	case pub.MsgResumeAuction:
		return c.svc.ResumeAuction(ctx, c.roomID)

	default:
		return engine.ErrUnsupportedCommand
	}
}
