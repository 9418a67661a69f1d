package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/chatsync-protocol/chatsync/internal/api/middleware"
	"github.com/chatsync-protocol/chatsync/internal/metrics"
	"github.com/chatsync-protocol/chatsync/internal/models"
)

// SendRequest represents the send message request body.
type SendRequest struct {
	Content string `json:"content"`
}

// Send handles posting a message to a room. The stored message, with its
// authoritative ID and timestamp, is returned and broadcast to the room's
// live connections.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	room := h.roomForRequest(w, r, chi.URLParam(r, "id"), userID)
	if room == nil {
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		h.Error(w, http.StatusBadRequest, "content is required")
		return
	}
	if len(req.Content) > maxBodyLen {
		h.Error(w, http.StatusUnprocessableEntity, "content too long (max 4096 bytes)")
		return
	}

	msg := &models.Message{
		RoomID: room.ID.String(),
		FromID: userID,
		Body:   req.Content,
	}
	if err := h.messages.AppendMessage(r.Context(), msg); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to store message")
		return
	}
	metrics.MessagesStored.Inc()

	h.hub.Broadcast(msg.RoomID, models.Event{
		Type:    models.EventMessage,
		Room:    msg.RoomID,
		UserID:  userID,
		Message: msg,
	})

	h.JSON(w, http.StatusCreated, msg)
}
