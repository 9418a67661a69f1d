package hub

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chatsync-protocol/chatsync/internal/models"
)

// testClient is one websocket connection identified by the user query
// parameter.
type testClient struct {
	conn   *websocket.Conn
	events chan models.Event
}

func startHub(t *testing.T) (*Hub, func(userID string) *testClient) {
	t.Helper()
	h := New(zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, r.URL.Query().Get("user"))
	}))
	t.Cleanup(srv.Close)

	dial := func(userID string) *testClient {
		t.Helper()
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user=" + userID
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { conn.Close() })

		c := &testClient{conn: conn, events: make(chan models.Event, 16)}
		go func() {
			for {
				var ev models.Event
				if err := conn.ReadJSON(&ev); err != nil {
					close(c.events)
					return
				}
				c.events <- ev
			}
		}()
		return c
	}
	return h, dial
}

func (c *testClient) send(t *testing.T, ev models.Event) {
	t.Helper()
	if err := c.conn.WriteJSON(ev); err != nil {
		t.Fatal(err)
	}
}

func (c *testClient) expect(t *testing.T, eventType string) models.Event {
	t.Helper()
	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				t.Fatalf("connection closed waiting for %s", eventType)
			}
			if ev.Type == eventType {
				return ev
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func (c *testClient) expectNone(t *testing.T, eventType string, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case ev, ok := <-c.events:
			if ok && ev.Type == eventType {
				t.Fatalf("unexpected %s event: %+v", eventType, ev)
			}
			if !ok {
				return
			}
		case <-deadline:
			return
		}
	}
}

func waitOnline(t *testing.T, h *Hub, roomID string, want int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		online := h.Online(roomID)
		if len(online) == want {
			return online
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("room %s never reached %d online users", roomID, want)
	return nil
}

func TestJoinAnnouncesOnline(t *testing.T) {
	h, dial := startHub(t)

	alice := dial("alice")
	alice.send(t, models.Event{Type: models.EventJoinRoom, Room: "r1"})
	waitOnline(t, h, "r1", 1)

	bob := dial("bob")
	bob.send(t, models.Event{Type: models.EventJoinRoom, Room: "r1"})

	ev := alice.expect(t, models.EventOnline)
	if ev.UserID != "bob" || ev.Room != "r1" {
		t.Fatalf("unexpected online event %+v", ev)
	}

	online := waitOnline(t, h, "r1", 2)
	found := map[string]bool{}
	for _, id := range online {
		found[id] = true
	}
	if !found["alice"] || !found["bob"] {
		t.Fatalf("unexpected online set %v", online)
	}
}

func TestTypingRelayedToOthersOnly(t *testing.T) {
	h, dial := startHub(t)

	alice := dial("alice")
	bob := dial("bob")
	alice.send(t, models.Event{Type: models.EventJoinRoom, Room: "r1"})
	bob.send(t, models.Event{Type: models.EventJoinRoom, Room: "r1"})
	waitOnline(t, h, "r1", 2)

	// The hub stamps the sender identity; a forged user_id is ignored.
	alice.send(t, models.Event{Type: models.EventTyping, Room: "r1", UserID: "mallory"})

	ev := bob.expect(t, models.EventTyping)
	if ev.UserID != "alice" {
		t.Fatalf("expected sender identity from connection, got %q", ev.UserID)
	}
	alice.expectNone(t, models.EventTyping, 100*time.Millisecond)
}

func TestTypingOutsideJoinedRoomDropped(t *testing.T) {
	h, dial := startHub(t)

	alice := dial("alice")
	bob := dial("bob")
	bob.send(t, models.Event{Type: models.EventJoinRoom, Room: "r1"})
	waitOnline(t, h, "r1", 1)

	// alice never joined r1.
	alice.send(t, models.Event{Type: models.EventTyping, Room: "r1"})
	bob.expectNone(t, models.EventTyping, 100*time.Millisecond)
}

func TestBroadcastReachesAllMembers(t *testing.T) {
	h, dial := startHub(t)

	alice := dial("alice")
	bob := dial("bob")
	alice.send(t, models.Event{Type: models.EventJoinRoom, Room: "r1"})
	bob.send(t, models.Event{Type: models.EventJoinRoom, Room: "r1"})
	waitOnline(t, h, "r1", 2)

	h.Broadcast("r1", models.Event{
		Type: models.EventMessage,
		Room: "r1",
		Message: &models.Message{
			ID: "m1", RoomID: "r1", FromID: "alice", Body: "hi", Timestamp: 100,
		},
	})

	for _, c := range []*testClient{alice, bob} {
		ev := c.expect(t, models.EventMessage)
		if ev.Message == nil || ev.Message.ID != "m1" {
			t.Fatalf("unexpected message event %+v", ev)
		}
	}
}

func TestDisconnectAnnouncesOffline(t *testing.T) {
	h, dial := startHub(t)

	alice := dial("alice")
	bob := dial("bob")
	alice.send(t, models.Event{Type: models.EventJoinRoom, Room: "r1"})
	bob.send(t, models.Event{Type: models.EventJoinRoom, Room: "r1"})
	waitOnline(t, h, "r1", 2)

	bob.conn.Close()

	ev := alice.expect(t, models.EventOffline)
	if ev.UserID != "bob" {
		t.Fatalf("unexpected offline event %+v", ev)
	}
	waitOnline(t, h, "r1", 1)
}

func TestExplicitLeave(t *testing.T) {
	h, dial := startHub(t)

	alice := dial("alice")
	bob := dial("bob")
	alice.send(t, models.Event{Type: models.EventJoinRoom, Room: "r1"})
	bob.send(t, models.Event{Type: models.EventJoinRoom, Room: "r1"})
	waitOnline(t, h, "r1", 2)

	bob.send(t, models.Event{Type: models.EventUserOffline, Room: "r1"})

	ev := alice.expect(t, models.EventOffline)
	if ev.UserID != "bob" {
		t.Fatalf("unexpected offline event %+v", ev)
	}
	waitOnline(t, h, "r1", 1)
}
