package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/chatsync-protocol/chatsync/internal/api/middleware"
)

// CreateRoomRequest represents the create-or-get room request body.
type CreateRoomRequest struct {
	RecipientID string `json:"recipient_id"`
}

// CreateOrGetRoom handles opening a conversation with another user. The
// same participant pair always resolves to the same room, so repeated
// calls are safe.
func (h *Handler) CreateOrGetRoom(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.RecipientID = strings.TrimSpace(req.RecipientID)
	if req.RecipientID == "" {
		h.Error(w, http.StatusBadRequest, "recipient_id is required")
		return
	}
	if req.RecipientID == userID {
		h.Error(w, http.StatusBadRequest, "cannot open a room with yourself")
		return
	}

	room, err := h.rooms.CreateOrGetRoom(r.Context(), userID, req.RecipientID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create room")
		return
	}

	h.JSON(w, http.StatusOK, room)
}
