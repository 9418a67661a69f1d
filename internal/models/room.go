package models

import (
	"time"

	"github.com/google/uuid"
)

// Room is a conversation between two participants, created on first
// contact and reused afterwards.
type Room struct {
	ID           uuid.UUID `json:"id"`
	Participants []string  `json:"participants"` // sorted pair of user IDs
	CreatedAt    time.Time `json:"created_at"`
}
