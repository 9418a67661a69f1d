package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/chatsync-protocol/chatsync/internal/models"
)

// MessageStore persists room messages. Implementations assign the
// authoritative ULID and timestamp on append.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *models.Message) error
	// RoomMessages returns messages in (timestamp, id) ascending order.
	// after is an exclusive Unix-ms watermark; zero means full history.
	RoomMessages(ctx context.Context, roomID string, after int64) ([]models.Message, error)
	Ping(ctx context.Context) error
	Close() error
}

// RoomStore persists rooms. A room is keyed by its participant pair:
// CreateOrGet for the same two users always yields the same room.
type RoomStore interface {
	CreateOrGetRoom(ctx context.Context, userA, userB string) (*models.Room, error)
	// GetRoom returns nil, nil when the room does not exist.
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	Ping(ctx context.Context) error
	Close() error
}
