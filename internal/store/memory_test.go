package store

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/chatsync-protocol/chatsync/internal/models"
)

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	s := NewMemoryStore()
	msg := &models.Message{RoomID: "r1", FromID: "alice", Body: "hi"}
	if err := s.AppendMessage(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if msg.ID == "" {
		t.Fatal("append should assign an ID")
	}
	if msg.Timestamp == 0 {
		t.Fatal("append should assign a timestamp")
	}
}

func TestRoomMessagesOrderAndWatermark(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// Out of order appends with explicit timestamps.
	for _, m := range []models.Message{
		{ID: "c", RoomID: "r1", Timestamp: 30},
		{ID: "a", RoomID: "r1", Timestamp: 10},
		{ID: "b", RoomID: "r1", Timestamp: 20},
		{ID: "x", RoomID: "other", Timestamp: 15},
	} {
		m := m
		if err := s.AppendMessage(ctx, &m); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := s.RoomMessages(ctx, "r1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 || msgs[0].ID != "a" || msgs[1].ID != "b" || msgs[2].ID != "c" {
		t.Fatalf("unexpected order %+v", msgs)
	}

	// The watermark is exclusive.
	msgs, err = s.RoomMessages(ctx, "r1", 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != "c" {
		t.Fatalf("expected only c past the watermark, got %+v", msgs)
	}
}

func TestEqualTimestampsOrderByID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"z", "x", "y"} {
		m := models.Message{ID: id, RoomID: "r1", Timestamp: 100}
		if err := s.AppendMessage(ctx, &m); err != nil {
			t.Fatal(err)
		}
	}
	msgs, _ := s.RoomMessages(ctx, "r1", 0)
	if msgs[0].ID != "x" || msgs[1].ID != "y" || msgs[2].ID != "z" {
		t.Fatalf("unexpected tie-break order %+v", msgs)
	}
}

func TestCreateOrGetRoomIsStable(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.CreateOrGetRoom(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	// Same pair in either order resolves to the same room.
	second, err := s.CreateOrGetRoom(ctx, "bob", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same room, got %s and %s", first.ID, second.ID)
	}
	if len(first.Participants) != 2 || first.Participants[0] != "alice" || first.Participants[1] != "bob" {
		t.Fatalf("unexpected participants %v", first.Participants)
	}

	other, err := s.CreateOrGetRoom(ctx, "alice", "carol")
	if err != nil {
		t.Fatal(err)
	}
	if other.ID == first.ID {
		t.Fatal("different pair must get a different room")
	}
}

func TestGetRoomUnknown(t *testing.T) {
	s := NewMemoryStore()
	room, err := s.GetRoom(context.Background(), uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if room != nil {
		t.Fatalf("expected nil for unknown room, got %+v", room)
	}
}
