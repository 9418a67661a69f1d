package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/chatsync-protocol/chatsync/internal/models"
)

// MemoryStore is the development backend: both stores in one process,
// nothing survives a restart.
type MemoryStore struct {
	mu       sync.Mutex
	messages map[string][]models.Message // roomID -> ascending by (ts, id)
	rooms    map[uuid.UUID]*models.Room
	byPair   map[string]uuid.UUID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string][]models.Message),
		rooms:    make(map[uuid.UUID]*models.Room),
		byPair:   make(map[string]uuid.UUID),
	}
}

// AppendMessage stores a message, assigning its ULID and timestamp.
func (s *MemoryStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[msg.RoomID]
	i := sort.Search(len(msgs), func(i int) bool {
		if msgs[i].Timestamp != msg.Timestamp {
			return msgs[i].Timestamp > msg.Timestamp
		}
		return msgs[i].ID > msg.ID
	})
	msgs = append(msgs, models.Message{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = *msg
	s.messages[msg.RoomID] = msgs
	return nil
}

// RoomMessages returns messages newer than the watermark, oldest first.
func (s *MemoryStore) RoomMessages(ctx context.Context, roomID string, after int64) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messages[roomID] {
		if m.Timestamp > after {
			out = append(out, m)
		}
	}
	return out, nil
}

// CreateOrGetRoom returns the pair's room, creating it on first contact.
func (s *MemoryStore) CreateOrGetRoom(ctx context.Context, userA, userB string) (*models.Room, error) {
	key := pairKey(userA, userB)

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byPair[key]; ok {
		r := *s.rooms[id]
		return &r, nil
	}

	room := &models.Room{
		ID:           uuid.Must(uuid.NewV7()),
		Participants: sortedPair(userA, userB),
		CreatedAt:    time.Now().UTC(),
	}
	s.rooms[room.ID] = room
	s.byPair[key] = room.ID
	r := *room
	return &r, nil
}

// GetRoom returns nil, nil for an unknown room.
func (s *MemoryStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil, nil
	}
	r := *room
	return &r, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func sortedPair(a, b string) []string {
	if a > b {
		a, b = b, a
	}
	return []string{a, b}
}

func pairKey(a, b string) string {
	p := sortedPair(a, b)
	return p[0] + ":" + p[1]
}
