package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"costudy/internal/service"
	"costudy/internal/transport/rest/middleware"
)

// TimerHandler handles shared timer endpoints
type TimerHandler struct {
	timers *service.TimerEngine
	rooms  *service.Rooms
}

// NewTimerHandler creates a new timer handler
func NewTimerHandler(timers *service.TimerEngine, rooms *service.Rooms) *TimerHandler {
	return &TimerHandler{timers: timers, rooms: rooms}
}

// Start handles POST /v1/rooms/{roomId}/timer/start
func (h *TimerHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.timers.Start)
}

// Pause handles POST /v1/rooms/{roomId}/timer/pause
func (h *TimerHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.timers.Pause)
}

// FinishFocus handles POST /v1/rooms/{roomId}/timer/finish-focus
func (h *TimerHandler) FinishFocus(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.timers.FinishFocus)
}

// StartRest handles POST /v1/rooms/{roomId}/timer/start-rest
func (h *TimerHandler) StartRest(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.timers.StartRest)
}

// ResumeFocus handles POST /v1/rooms/{roomId}/timer/resume-focus
func (h *TimerHandler) ResumeFocus(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.timers.ResumeFocus)
}

// EndSession handles POST /v1/rooms/{roomId}/timer/end-session
func (h *TimerHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.timers.EndSession)
}

// SetAutoCycleRequest is the request body for the auto-cycle toggle
type SetAutoCycleRequest struct {
	Enabled bool `json:"enabled"`
}

// SetAutoCycle handles POST /v1/rooms/{roomId}/timer/auto-cycle
func (h *TimerHandler) SetAutoCycle(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	actorID := middleware.GetParticipantID(r.Context())

	var req SetAutoCycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.timers.SetAutoCycle(r.Context(), roomID, actorID, req.Enabled); err != nil {
		writeServiceError(w, err)
		return
	}
	h.respondTimer(w, r, roomID)
}

// AutoAdvance handles POST /v1/rooms/{roomId}/timer/auto-advance. Any
// participant that observes the countdown hitting zero may call it; the
// transition commits exactly once.
func (h *TimerHandler) AutoAdvance(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	advanced, err := h.timers.AutoAdvance(r.Context(), roomID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	room, err := h.rooms.Get(r.Context(), roomID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"advanced": advanced,
		"timer":    room.Timer,
	})
}

type timerOp func(ctx context.Context, roomID, actorID string) error

func (h *TimerHandler) run(w http.ResponseWriter, r *http.Request, op timerOp) {
	roomID := mux.Vars(r)["roomId"]
	actorID := middleware.GetParticipantID(r.Context())

	if err := op(r.Context(), roomID, actorID); err != nil {
		writeServiceError(w, err)
		return
	}
	h.respondTimer(w, r, roomID)
}

func (h *TimerHandler) respondTimer(w http.ResponseWriter, r *http.Request, roomID string) {
	room, err := h.rooms.Get(r.Context(), roomID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"timer": room.Timer})
}
