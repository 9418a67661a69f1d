package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/chatsync-protocol/chatsync/internal/api/middleware"
	"github.com/chatsync-protocol/chatsync/internal/models"
)

// History handles fetching a room's messages in timeline order. The
// optional after parameter is an exclusive Unix-ms watermark for
// incremental fetches.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	room := h.roomForRequest(w, r, chi.URLParam(r, "id"), userID)
	if room == nil {
		return
	}

	var after int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		var err error
		after, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || after < 0 {
			h.Error(w, http.StatusBadRequest, "invalid after parameter")
			return
		}
	}

	msgs, err := h.messages.RoomMessages(r.Context(), room.ID.String(), after)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	h.JSON(w, http.StatusOK, msgs)
}
