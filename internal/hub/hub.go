// Package hub fans room-scoped events out to connected websocket clients
// and tracks who is online in each room.
package hub

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chatsync-protocol/chatsync/internal/metrics"
	"github.com/chatsync-protocol/chatsync/internal/models"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 90 * time.Second
	pingPeriod   = 30 * time.Second
	readLimit    = int64(64 << 10)
	sendBuffer   = 64
)

// Hub owns the live websocket connections.
type Hub struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]map[*client]struct{}
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	rooms  map[string]struct{}
	send   chan models.Event
	once   sync.Once
}

// New creates an empty hub.
func New(log zerolog.Logger) *Hub {
	return &Hub{
		log:   log,
		rooms: make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades the request and runs the connection until it drops.
// userID comes from the auth middleware, not the wire.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("user", userID).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		userID: userID,
		rooms:  make(map[string]struct{}),
		send:   make(chan models.Event, sendBuffer),
	}
	metrics.WSConnections.Inc()

	go c.writeLoop()
	go c.readLoop()
}

// Broadcast delivers ev to every connection in the room.
func (h *Hub) Broadcast(roomID string, ev models.Event) {
	h.mu.Lock()
	members := make([]*client, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		members = append(members, c)
	}
	h.mu.Unlock()

	metrics.WSEvents.WithLabelValues(ev.Type).Inc()
	for _, c := range members {
		c.deliver(ev)
	}
}

// broadcastExcept delivers ev to the room, skipping the origin client.
func (h *Hub) broadcastExcept(roomID string, origin *client, ev models.Event) {
	h.mu.Lock()
	members := make([]*client, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		if c != origin {
			members = append(members, c)
		}
	}
	h.mu.Unlock()

	metrics.WSEvents.WithLabelValues(ev.Type).Inc()
	for _, c := range members {
		c.deliver(ev)
	}
}

// Online returns the distinct user IDs connected to the room.
func (h *Hub) Online(roomID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	seen := make(map[string]struct{})
	out := make([]string, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		if _, dup := seen[c.userID]; dup {
			continue
		}
		seen[c.userID] = struct{}{}
		out = append(out, c.userID)
	}
	return out
}

func (h *Hub) join(c *client, roomID string) {
	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*client]struct{})
	}
	h.rooms[roomID][c] = struct{}{}
	c.rooms[roomID] = struct{}{}
	h.mu.Unlock()

	h.broadcastExcept(roomID, c, models.Event{Type: models.EventOnline, Room: roomID, UserID: c.userID})
}

func (h *Hub) leave(c *client, roomID string) {
	h.mu.Lock()
	delete(h.rooms[roomID], c)
	if len(h.rooms[roomID]) == 0 {
		delete(h.rooms, roomID)
	}
	delete(c.rooms, roomID)
	h.mu.Unlock()

	h.broadcastExcept(roomID, c, models.Event{Type: models.EventOffline, Room: roomID, UserID: c.userID})
}

// drop tears the client down and announces offline in every joined room.
func (h *Hub) drop(c *client) {
	c.once.Do(func() {
		h.mu.Lock()
		joined := make([]string, 0, len(c.rooms))
		for roomID := range c.rooms {
			delete(h.rooms[roomID], c)
			if len(h.rooms[roomID]) == 0 {
				delete(h.rooms, roomID)
			}
			joined = append(joined, roomID)
		}
		c.rooms = make(map[string]struct{})
		h.mu.Unlock()

		close(c.send)
		c.conn.Close()
		metrics.WSConnections.Dec()

		for _, roomID := range joined {
			h.broadcastExcept(roomID, c, models.Event{Type: models.EventOffline, Room: roomID, UserID: c.userID})
		}
	})
}

// deliver queues ev for the client, dropping the connection if its buffer
// is stuck.
func (c *client) deliver(ev models.Event) {
	defer func() {
		// send may close concurrently with a broadcast
		_ = recover()
	}()
	select {
	case c.send <- ev:
	default:
		c.hub.log.Warn().Str("user", c.userID).Msg("slow websocket consumer, dropping")
		go c.hub.drop(c)
	}
}

func (c *client) readLoop() {
	defer c.hub.drop(c)

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var ev models.Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handle(ev)
	}
}

// handle processes one inbound client event. The sender identity always
// comes from the authenticated connection.
func (c *client) handle(ev models.Event) {
	switch ev.Type {
	case models.EventLogin:
		// Presence is room-scoped; the join announces it.
	case models.EventJoinRoom:
		if ev.Room == "" {
			return
		}
		c.hub.join(c, ev.Room)
	case models.EventUserOffline:
		if c.joined(ev.Room) {
			c.hub.leave(c, ev.Room)
		}
	case models.EventTyping, models.EventStopTyping:
		if !c.joined(ev.Room) {
			return
		}
		ev.UserID = c.userID
		c.hub.broadcastExcept(ev.Room, c, ev)
	default:
		c.hub.log.Debug().Str("type", ev.Type).Str("user", c.userID).Msg("ignoring event")
	}
}

func (c *client) joined(roomID string) bool {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.hub.drop(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.drop(c)
				return
			}
		}
	}
}
