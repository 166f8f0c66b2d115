package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tuosm9390/minionsbid/internal/auction"
	"github.com/tuosm9390/minionsbid/internal/engine"
	"github.com/tuosm9390/minionsbid/internal/store"
	"github.com/tuosm9390/minionsbid/internal/types"
)

type Handlers struct {
	svc *auction.Service
	log *zap.Logger
}

type createRoomRequest struct {
	Name           string `json:"name"`
	TotalTeams     int    `json:"total_teams"`
	MembersPerTeam int    `json:"members_per_team"`
	BasePoint      int    `json:"base_point"`
	Teams          []struct {
		Name              string `json:"name"`
		LeaderName        string `json:"leader_name"`
		LeaderPosition    string `json:"leader_position"`
		LeaderDescription string `json:"leader_description"`
	} `json:"teams"`
	Players []struct {
		Name         string `json:"name"`
		Tier         string `json:"tier"`
		MainPosition string `json:"main_position"`
		SubPosition  string `json:"sub_position"`
		Description  string `json:"description"`
	} `json:"players"`
}

func (req createRoomRequest) spec() engine.RoomSpec {
	spec := engine.RoomSpec{
		Name:           req.Name,
		TotalTeams:     req.TotalTeams,
		MembersPerTeam: req.MembersPerTeam,
		BasePoint:      req.BasePoint,
	}
	for _, t := range req.Teams {
		spec.Teams = append(spec.Teams, engine.TeamSpec(t))
	}
	for _, p := range req.Players {
		spec.Players = append(spec.Players, engine.PlayerSpec(p))
	}
	return spec
}

type startAuctionRequest struct {
	DurationMS int64 `json:"duration_ms"`
}

type bidRequest struct {
	PlayerID uuid.UUID `json:"player_id"`
	TeamID   uuid.UUID `json:"team_id"`
	Amount   int       `json:"amount"`
}

type draftRequest struct {
	TeamID   uuid.UUID `json:"team_id"`
	Directed bool      `json:"directed"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handlers) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	state, err := h.svc.CreateRoom(r.Context(), req.spec())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.NewRoomSnapshot(state.Room.Version, state))
}

func (h *Handlers) GetRoom(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.pathID(w, r, "roomID")
	if !ok {
		return
	}
	h.writeSnapshot(w, r, roomID)
}

func (h *Handlers) GetRedistribution(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.pathID(w, r, "roomID")
	if !ok {
		return
	}
	red, err := h.svc.Redistribution(r.Context(), roomID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.NewRedistribution(red))
}

func (h *Handlers) GetMessages(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.pathID(w, r, "roomID")
	if !ok {
		return
	}
	msgs, err := h.svc.Messages(r.Context(), roomID, queryInt(r, "limit", 100))
	if err != nil {
		h.writeError(w, err)
		return
	}
	type message struct {
		Kind      string    `json:"kind"`
		Line      string    `json:"line"`
		CreatedAt time.Time `json:"created_at"`
	}
	out := make([]message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, message{Kind: m.Kind, Line: m.Line, CreatedAt: m.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) DrawPlayer(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.pathID(w, r, "roomID")
	if !ok {
		return
	}
	playerID, err := h.svc.DrawNextPlayer(r.Context(), roomID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		PlayerID uuid.UUID `json:"player_id"`
	}{PlayerID: playerID})
}

func (h *Handlers) StartAuction(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.pathID(w, r, "roomID")
	if !ok {
		return
	}
	var req startAuctionRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	d, err := types.DurationFromMS(req.DurationMS)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, r, roomID, h.svc.StartAuction(r.Context(), roomID, d))
}

func (h *Handlers) PauseAuction(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.pathID(w, r, "roomID")
	if !ok {
		return
	}
	h.respond(w, r, roomID, h.svc.PauseAuction(r.Context(), roomID))
}

func (h *Handlers) ResumeAuction(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.pathID(w, r, "roomID")
	if !ok {
		return
	}
	h.respond(w, r, roomID, h.svc.ResumeAuction(r.Context(), roomID))
}

func (h *Handlers) PlaceBid(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.pathID(w, r, "roomID")
	if !ok {
		return
	}
	var req bidRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	h.respond(w, r, roomID, h.svc.PlaceBid(r.Context(), roomID, req.PlayerID, req.TeamID, req.Amount))
}

func (h *Handlers) AwardPlayer(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.pathID(w, r, "roomID")
	if !ok {
		return
	}
	playerID, ok := h.pathID(w, r, "playerID")
	if !ok {
		return
	}
	h.respond(w, r, roomID, h.svc.AwardPlayer(r.Context(), roomID, playerID))
}

func (h *Handlers) DraftPlayer(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.pathID(w, r, "roomID")
	if !ok {
		return
	}
	playerID, ok := h.pathID(w, r, "playerID")
	if !ok {
		return
	}
	var req draftRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	h.respond(w, r, roomID, h.svc.DraftPlayer(r.Context(), roomID, playerID, req.TeamID, req.Directed))
}

func (h *Handlers) RestartAuction(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.pathID(w, r, "roomID")
	if !ok {
		return
	}
	h.respond(w, r, roomID, h.svc.RestartAuctionWithUnsold(r.Context(), roomID))
}

func (h *Handlers) CloseRoom(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.pathID(w, r, "roomID")
	if !ok {
		return
	}
	archive, err := h.svc.CloseRoom(r.Context(), roomID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, archive)
}

func (h *Handlers) ListArchives(w http.ResponseWriter, r *http.Request) {
	archives, err := h.svc.ListArchives(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, archives)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// respond writes err, or the room's snapshot after a successful operation.
func (h *Handlers) respond(w http.ResponseWriter, r *http.Request, roomID uuid.UUID, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSnapshot(w, r, roomID)
}

func (h *Handlers) writeSnapshot(w http.ResponseWriter, r *http.Request, roomID uuid.UUID) {
	snap, err := h.svc.Snapshot(r.Context(), roomID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.NewRoomSnapshot(snap.Version, snap.State))
}

func (h *Handlers) pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		h.writeError(w, fmt.Errorf("malformed %s: %w", name, engine.ErrInvalidRequest))
		return uuid.Nil, false
	}
	return id, true
}

// decode reads a JSON body into v. An empty body is accepted when optional.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	h.writeError(w, fmt.Errorf("bad json: %v: %w", err, engine.ErrInvalidRequest))
	return false
}

// Status maps an operation error to its HTTP status.
func Status(err error) int {
	switch {
	case errors.Is(err, engine.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, engine.ErrState),
		errors.Is(err, engine.ErrConflict),
		errors.Is(err, engine.ErrCapacity),
		errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := Status(err)
	resp := errorResponse{Code: "Internal", Message: "internal error"}
	if e, ok := engine.AsError(err); ok {
		resp = errorResponse{Code: string(e.Code), Message: err.Error()}
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
