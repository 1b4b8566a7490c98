package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"costudy/internal/model"
	"costudy/internal/service"
	"costudy/internal/transport/rest/middleware"
)

// RoomHandler handles room lifecycle endpoints
type RoomHandler struct {
	rooms    *service.Rooms
	registry *service.Registry
	monitor  *service.InactivityMonitor
	tokens   *service.Tokens
}

// NewRoomHandler creates a new room handler
func NewRoomHandler(rooms *service.Rooms, registry *service.Registry, monitor *service.InactivityMonitor, tokens *service.Tokens) *RoomHandler {
	return &RoomHandler{
		rooms:    rooms,
		registry: registry,
		monitor:  monitor,
		tokens:   tokens,
	}
}

// CreateRoomRequest is the request body for creating a room
type CreateRoomRequest struct {
	Title       string `json:"title"`
	DisplayName string `json:"displayName"`
}

// JoinRequest is the request body for joining a room
type JoinRequest struct {
	DisplayName string `json:"displayName"`
	// StoredID is the participant id the client persisted on a previous
	// visit; the reload path reuses it instead of creating a duplicate.
	StoredID string `json:"storedId,omitempty"`
}

// JoinResponse is returned on create and join
type JoinResponse struct {
	Room        *model.Room        `json:"room"`
	Participant *model.Participant `json:"participant"`
	Token       string             `json:"token"`
}

// Create handles POST /v1/rooms
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" || req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "title and displayName are required")
		return
	}

	room, host, err := h.rooms.Create(r.Context(), req.Title, req.DisplayName)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	token, err := h.tokens.Generate(room.ID, host.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &JoinResponse{Room: room, Participant: host, Token: token})
}

// List handles GET /v1/rooms
func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	rooms, err := h.rooms.ListOpen(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rooms": rooms})
}

// Get handles GET /v1/rooms/{roomId}
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	room, err := h.rooms.Get(r.Context(), roomID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// Join handles POST /v1/rooms/{roomId}/join
func (h *RoomHandler) Join(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "displayName is required")
		return
	}

	p, err := h.registry.Join(r.Context(), roomID, req.DisplayName, req.StoredID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	room, err := h.rooms.Get(r.Context(), roomID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	token, err := h.tokens.Generate(roomID, p.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &JoinResponse{Room: room, Participant: p, Token: token})
}

// Leave handles POST /v1/rooms/{roomId}/leave
func (h *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	participantID := middleware.GetParticipantID(r.Context())
	if middleware.GetRoomID(r.Context()) != roomID {
		writeError(w, http.StatusForbidden, "token not valid for this room")
		return
	}

	result, err := h.rooms.Leave(r.Context(), roomID, participantID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Heartbeat handles POST /v1/rooms/{roomId}/heartbeat
func (h *RoomHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	participantID := middleware.GetParticipantID(r.Context())
	if middleware.GetRoomID(r.Context()) != roomID {
		writeError(w, http.StatusForbidden, "token not valid for this room")
		return
	}

	h.registry.Heartbeat(r.Context(), roomID, participantID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Participants handles GET /v1/rooms/{roomId}/participants
func (h *RoomHandler) Participants(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	participants, err := h.registry.List(r.Context(), roomID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"participants": participants})
}

// End handles POST /v1/rooms/{roomId}/end
func (h *RoomHandler) End(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	participantID := middleware.GetParticipantID(r.Context())

	if err := h.rooms.End(r.Context(), roomID, participantID, false); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

// ConfirmActive handles POST /v1/rooms/{roomId}/confirm-active
func (h *RoomHandler) ConfirmActive(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	participantID := middleware.GetParticipantID(r.Context())

	if err := h.monitor.Confirm(r.Context(), roomID, participantID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}
