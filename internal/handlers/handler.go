package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/chatsync-protocol/chatsync/internal/hub"
	"github.com/chatsync-protocol/chatsync/internal/models"
	"github.com/chatsync-protocol/chatsync/internal/store"
)

// maxBodyLen caps the accepted message body, in bytes.
const maxBodyLen = 4096

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	rooms    store.RoomStore
	messages store.MessageStore
	hub      *hub.Hub
}

// NewHandler creates a new Handler with the given stores and hub.
func NewHandler(rooms store.RoomStore, messages store.MessageStore, h *hub.Hub) *Handler {
	return &Handler{rooms: rooms, messages: messages, hub: h}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// roomForRequest parses the room ID, loads the room, and checks the
// caller is a participant. Writes the error response itself on failure.
func (h *Handler) roomForRequest(w http.ResponseWriter, r *http.Request, idStr, userID string) *models.Room {
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID format")
		return nil
	}

	room, err := h.rooms.GetRoom(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return nil
	}
	if room == nil {
		h.Error(w, http.StatusNotFound, "room not found")
		return nil
	}

	for _, p := range room.Participants {
		if p == userID {
			return room
		}
	}
	h.Error(w, http.StatusForbidden, "not a participant of this room")
	return nil
}
