package chatsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHistoryRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chats/r1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected auth header %q", got)
		}
		if got := r.URL.Query().Get("after"); got != "1500" {
			t.Errorf("unexpected after %q", got)
		}
		json.NewEncoder(w).Encode([]Message{
			{ID: "m1", Sender: "alice", Body: "hi", Timestamp: 1600},
			{ID: "m2", Sender: "bob", Body: "yo", Timestamp: 1700},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticToken("tok"))
	msgs, err := c.History(context.Background(), "r1", 1500)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

func TestHistoryOmitsZeroWatermark(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "" {
			t.Errorf("full history fetch must not carry a query, got %q", r.URL.RawQuery)
		}
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticToken("tok"))
	if _, err := c.History(context.Background(), "r1", 0); err != nil {
		t.Fatal(err)
	}
}

func TestSendReturnsConfirmedMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["content"] != "hello" {
			t.Errorf("unexpected content %q", req["content"])
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Message{ID: "srv-1", Sender: "alice", Body: "hello", Timestamp: 42})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticToken("tok"))
	msg, err := c.Send(context.Background(), "r1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != "srv-1" || msg.Timestamp != 42 {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestErrorKindMapping(t *testing.T) {
	cases := []struct {
		status int
		kind   Kind
	}{
		{http.StatusUnauthorized, KindUnauthorized},
		{http.StatusForbidden, KindUnauthorized},
		{http.StatusNotFound, KindNotFound},
		{http.StatusTooManyRequests, KindTransient},
		{http.StatusInternalServerError, KindTransient},
		{http.StatusBadGateway, KindTransient},
		{http.StatusBadRequest, KindInvalid},
		{http.StatusUnprocessableEntity, KindInvalid},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(`{"error":"nope"}`))
		}))
		c := NewClient(srv.URL, StaticToken("tok"))
		_, err := c.History(context.Background(), "r1", 0)
		srv.Close()

		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		got, ok := KindOf(err)
		if !ok || got != tc.kind {
			t.Fatalf("status %d: expected kind %v, got %v (%v)", tc.status, tc.kind, got, err)
		}
	}
}

func TestNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := NewClient(srv.URL, StaticToken("tok"))
	_, err := c.History(context.Background(), "r1", 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTransient(err) {
		t.Fatalf("network failure should be transient, got %v", err)
	}
}

func TestPresence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chats/r1/presence" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"online":["bob","carol"]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticToken("tok"))
	online, err := c.Presence(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(online) != 2 || online[0] != "bob" {
		t.Fatalf("unexpected presence %v", online)
	}
}

func TestCreateOrGetRoom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chats/create-or-get" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["recipient_id"] != "bob" {
			t.Errorf("unexpected recipient %q", req["recipient_id"])
		}
		w.Write([]byte(`{"id":"room-1","participants":["alice","bob"]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticToken("tok"))
	room, err := c.CreateOrGetRoom(context.Background(), "bob")
	if err != nil {
		t.Fatal(err)
	}
	if room.ID != "room-1" {
		t.Fatalf("unexpected room %+v", room)
	}
}
