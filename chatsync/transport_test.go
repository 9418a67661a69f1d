package chatsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestBackoffDelayBounds(t *testing.T) {
	base := 500 * time.Millisecond
	ceil := 30 * time.Second

	cases := []struct {
		attempt int
		nominal time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{7, 30 * time.Second}, // capped
		{20, 30 * time.Second},
	}

	for _, tc := range cases {
		for i := 0; i < 50; i++ {
			d := backoffDelay(tc.attempt, base, ceil)
			lo := time.Duration(float64(tc.nominal) * 0.8)
			hi := time.Duration(float64(tc.nominal) * 1.2)
			if d < lo || d > hi {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", tc.attempt, d, lo, hi)
			}
		}
	}
}

// wsTestServer accepts one websocket client and exposes the inbound
// events and a way to push events back.
type wsTestServer struct {
	srv      *httptest.Server
	inbound  chan Event
	outbound chan Event
}

func newWSTestServer(t *testing.T) *wsTestServer {
	t.Helper()
	ts := &wsTestServer{
		inbound:  make(chan Event, 16),
		outbound: make(chan Event, 16),
	}
	upgrader := websocket.Upgrader{}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go func() {
			for ev := range ts.outbound {
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			}
			conn.Close()
		}()
		for {
			var ev Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			ts.inbound <- ev
		}
	}))
	t.Cleanup(func() {
		close(ts.outbound)
		ts.srv.Close()
	})
	return ts
}

func (ts *wsTestServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *wsTestServer) expect(t *testing.T, eventType string) Event {
	t.Helper()
	select {
	case ev := <-ts.inbound:
		if ev.Type != eventType {
			t.Fatalf("expected %s event, got %s", eventType, ev.Type)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s event", eventType)
		return Event{}
	}
}

func TestWSChannelConnectAndJoin(t *testing.T) {
	ts := newWSTestServer(t)

	ch := NewWSChannel(WSConfig{URL: ts.url(), Tokens: StaticToken("tok")})
	defer ch.Close()

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := ch.State(); got != Connected {
		t.Fatalf("expected Connected, got %v", got)
	}

	if err := ch.JoinRoom("r1", "alice"); err != nil {
		t.Fatal(err)
	}
	login := ts.expect(t, EventLogin)
	if login.UserID != "alice" {
		t.Fatalf("unexpected login %+v", login)
	}
	join := ts.expect(t, EventJoinRoom)
	if join.Room != "r1" {
		t.Fatalf("unexpected join %+v", join)
	}
}

func TestWSChannelDispatchesEvents(t *testing.T) {
	ts := newWSTestServer(t)

	ch := NewWSChannel(WSConfig{URL: ts.url()})
	defer ch.Close()

	got := make(chan Event, 1)
	ch.Subscribe(EventMessage, func(ev Event) { got <- ev })

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	ts.outbound <- Event{
		Type:    EventMessage,
		Room:    "r1",
		Message: &Message{ID: "m1", Sender: "bob", Body: "hi", Timestamp: 100},
	}

	select {
	case ev := <-got:
		if ev.Message == nil || ev.Message.ID != "m1" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched event")
	}
}

func TestWSChannelUnsubscribe(t *testing.T) {
	ts := newWSTestServer(t)

	ch := NewWSChannel(WSConfig{URL: ts.url()})
	defer ch.Close()

	got := make(chan Event, 4)
	unsub := ch.Subscribe(EventTyping, func(ev Event) { got <- ev })
	unsub()

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	ts.outbound <- Event{Type: EventTyping, Room: "r1", UserID: "bob"}

	select {
	case ev := <-got:
		t.Fatalf("handler should be removed, got %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func waitState(t *testing.T, states <-chan ConnState, want ConnState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-states:
			if st == want {
				return
			}
		case <-deadline:
			t.Fatalf("never reached state %v", want)
		}
	}
}

func TestConnectDuringReconnectKeepsSingleConnection(t *testing.T) {
	var mu sync.Mutex
	active, maxActive := 0, 0
	conns := make(chan *websocket.Conn, 4)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		conns <- conn
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		mu.Lock()
		active--
		mu.Unlock()
	}))
	defer srv.Close()

	ch := NewWSChannel(WSConfig{
		URL:         "ws" + strings.TrimPrefix(srv.URL, "http"),
		BackoffBase: 100 * time.Millisecond,
		BackoffCap:  100 * time.Millisecond,
	})
	defer ch.Close()

	states := make(chan ConnState, 16)
	ch.SubscribeState(func(st ConnState) { states <- st })

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := <-conns

	// Server-side drop; the channel starts its redial loop.
	first.Close()
	waitState(t, states, Reconnecting)

	// A caller retry during the backoff window must join the running
	// redial rather than open a competing connection.
	retryErr := make(chan error, 1)
	go func() { retryErr <- ch.Connect(context.Background()) }()

	waitState(t, states, Connected)
	if err := <-retryErr; err != nil {
		t.Fatalf("joined connect should report success, got %v", err)
	}

	select {
	case <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("redial never reached the server")
	}

	// Let any stray dial land before counting.
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if maxActive != 1 {
		t.Fatalf("channel held %d live connections at once", maxActive)
	}
	select {
	case <-conns:
		t.Fatal("more than one connection after the reconnect")
	default:
	}
}

func TestWSChannelConnectFailure(t *testing.T) {
	// Nothing listens here; every dial fails until attempts run out.
	ch := NewWSChannel(WSConfig{
		URL:         "ws://127.0.0.1:1/ws",
		BackoffBase: time.Millisecond,
		BackoffCap:  2 * time.Millisecond,
		MaxAttempts: 2,
	})
	defer ch.Close()

	var states []ConnState
	done := make(chan struct{})
	ch.SubscribeState(func(st ConnState) {
		states = append(states, st)
		if st == ConnFailed {
			close(done)
		}
	})

	err := ch.Connect(context.Background())
	if err == nil {
		t.Fatal("expected connect to fail")
	}
	if kind, ok := KindOf(err); !ok || kind != KindConnectionFailed {
		t.Fatalf("expected connection-failed kind, got %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("never saw ConnFailed, states %v", states)
	}
}

func TestWSChannelSendWhileDisconnected(t *testing.T) {
	ch := NewWSChannel(WSConfig{URL: "ws://127.0.0.1:1/ws"})
	defer ch.Close()

	err := ch.Send(Event{Type: EventTyping, Room: "r1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTransient(err) {
		t.Fatalf("disconnected send should be transient, got %v", err)
	}
}

func TestWSChannelClosedIsTerminal(t *testing.T) {
	ch := NewWSChannel(WSConfig{URL: "ws://127.0.0.1:1/ws"})
	if err := ch.Close(); err != nil {
		t.Fatal(err)
	}
	if err := ch.Close(); err != nil {
		t.Fatal("second close should be a no-op")
	}
	if err := ch.Connect(context.Background()); err != ErrChannelClosed {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
}
