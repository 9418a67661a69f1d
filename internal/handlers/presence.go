package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatsync-protocol/chatsync/internal/api/middleware"
)

// PresenceResponse represents the presence query response.
type PresenceResponse struct {
	Online []string `json:"online"`
}

// Presence handles querying who is currently connected to a room.
func (h *Handler) Presence(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	room := h.roomForRequest(w, r, chi.URLParam(r, "id"), userID)
	if room == nil {
		return
	}

	h.JSON(w, http.StatusOK, PresenceResponse{Online: h.hub.Online(room.ID.String())})
}
