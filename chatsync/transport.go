package chatsync

import (
	"context"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ConnState is the lifecycle state of a transport channel.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Reconnecting
	// ConnFailed is terminal: the reconnect budget is exhausted and the
	// caller should recreate the session.
	ConnFailed
)

// String returns a short name for the state.
func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case ConnFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Subscription cancels a Subscribe registration.
type Subscription func()

// Channel is a bidirectional event connection scoped to one chat room.
// Implementations keep at most one live underlying connection, survive
// transient network loss via reconnection, and keep subscriptions
// registered across reconnects.
type Channel interface {
	// Connect establishes the connection. Idempotent when already
	// connected.
	Connect(ctx context.Context) error
	// JoinRoom announces the user and joins the room topic. The join is
	// replayed automatically after every reconnect.
	JoinRoom(roomID, userID string) error
	// Send emits an event on the connection.
	Send(ev Event) error
	// Subscribe registers a handler for one event type.
	Subscribe(eventType string, h func(Event)) Subscription
	// SubscribeState registers a handler for connection-state changes.
	SubscribeState(h func(ConnState)) Subscription
	// State returns the current connection state.
	State() ConnState
	// Close tears the connection down. Terminal.
	Close() error
}

// WSConfig configures a websocket channel.
type WSConfig struct {
	URL    string // ws:// or wss:// endpoint
	Tokens TokenSource

	BackoffBase  time.Duration // default 500ms
	BackoffCap   time.Duration // default 30s
	MaxAttempts  int           // default 10, per outage
	WriteTimeout time.Duration // default 10s
	ReadTimeout  time.Duration // default 90s, refreshed by server pings
	ReadLimit    int64         // default 64KB

	Logger zerolog.Logger
}

func (c *WSConfig) defaults() {
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 90 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 << 10
	}
}

// WSChannel is the websocket implementation of Channel.
type WSChannel struct {
	cfg WSConfig
	log zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	state     ConnState
	gen       int // connection generation, guards stale read loops
	nextSub   int
	subs      map[string]map[int]func(Event)
	stateSubs map[int]func(ConnState)
	room      string
	user      string
	closed    bool
	closedCh  chan struct{}
	dialing   bool          // a connect or reconnect loop is running
	dialDone  chan struct{} // closed when that loop resolves
}

// NewWSChannel creates a websocket channel. The connection is not opened
// until Connect.
func NewWSChannel(cfg WSConfig) *WSChannel {
	cfg.defaults()
	return &WSChannel{
		cfg:       cfg,
		log:       cfg.Logger,
		state:     Disconnected,
		subs:      make(map[string]map[int]func(Event)),
		stateSubs: make(map[int]func(ConnState)),
		closedCh:  make(chan struct{}),
	}
}

// Connect dials the endpoint, retrying with bounded exponential backoff.
// Calling Connect on an already-connected channel is a no-op.
func (c *WSChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	if c.state == Connected {
		c.mu.Unlock()
		return nil
	}
	if c.dialing {
		// A connect or reconnect loop is already dialing. Starting a
		// competing dial would leave two live connections; join the
		// running one instead.
		done := c.dialDone
		c.mu.Unlock()
		return c.awaitDial(ctx, done)
	}
	c.dialing = true
	c.dialDone = make(chan struct{})
	c.state = Connecting
	c.mu.Unlock()
	c.notifyState(Connecting)

	for attempt := 1; ; attempt++ {
		conn, err := c.dial(ctx)
		if err == nil {
			installErr := c.install(conn)
			c.finishDial()
			return installErr
		}

		c.log.Warn().Err(err).Int("attempt", attempt).Msg("websocket dial failed")
		if attempt >= c.cfg.MaxAttempts {
			c.setState(ConnFailed)
			c.finishDial()
			return newError(KindConnectionFailed, "connect", err)
		}
		if err := c.sleep(ctx, backoffDelay(attempt, c.cfg.BackoffBase, c.cfg.BackoffCap)); err != nil {
			c.setState(Disconnected)
			c.finishDial()
			return newError(KindTransient, "connect", err)
		}
	}
}

// awaitDial blocks until the in-flight dial loop resolves and reports its
// outcome.
func (c *WSChannel) awaitDial(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
	case <-c.closedCh:
		return ErrChannelClosed
	case <-ctx.Done():
		return newError(KindTransient, "connect", ctx.Err())
	}

	c.mu.Lock()
	st := c.state
	c.mu.Unlock()
	switch st {
	case Connected:
		return nil
	case ConnFailed:
		return newError(KindConnectionFailed, "connect", nil)
	default:
		return errorf(KindTransient, "connect", "connection not established")
	}
}

// finishDial releases waiters joined on the current dial loop.
func (c *WSChannel) finishDial() {
	c.mu.Lock()
	if c.dialing {
		c.dialing = false
		close(c.dialDone)
	}
	c.mu.Unlock()
}

// dial performs one handshake attempt.
func (c *WSChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.Tokens != nil {
		token, err := c.cfg.Tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		header.Set("Authorization", "Bearer "+token)
	}

	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// install adopts a freshly dialed connection and starts its read loop.
func (c *WSChannel) install(conn *websocket.Conn) error {
	conn.SetReadLimit(c.cfg.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.cfg.WriteTimeout))
	})
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrChannelClosed
	}
	if c.conn != nil && c.conn != conn {
		c.conn.Close()
	}
	c.gen++
	gen := c.gen
	c.conn = conn
	c.state = Connected
	room, user := c.room, c.user
	c.mu.Unlock()

	c.notifyState(Connected)
	if room != "" {
		c.sendJoin(room, user)
	}

	go c.readLoop(conn, gen)
	return nil
}

// readLoop decodes inbound events until the connection dies.
func (c *WSChannel) readLoop(conn *websocket.Conn, gen int) {
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			c.handleReadError(gen, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		if ev.Type == "" {
			invalidEvents.Inc()
			c.log.Debug().Msg("dropping event without type")
			continue
		}
		c.dispatch(ev)
	}
}

// handleReadError transitions to Reconnecting and starts the redial loop,
// unless this loop belongs to a superseded connection or the channel is
// closed.
func (c *WSChannel) handleReadError(gen int, err error) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn.Close()
	c.conn = nil
	c.state = Reconnecting
	c.dialing = true
	c.dialDone = make(chan struct{})
	c.mu.Unlock()

	reconnects.Inc()
	c.log.Warn().Err(err).Msg("websocket connection lost, reconnecting")
	c.notifyState(Reconnecting)

	go c.reconnect()
}

// reconnect redials with bounded backoff until success, channel close, or
// budget exhaustion.
func (c *WSChannel) reconnect() {
	defer c.finishDial()
	for attempt := 1; ; attempt++ {
		if err := c.sleep(context.Background(), backoffDelay(attempt, c.cfg.BackoffBase, c.cfg.BackoffCap)); err != nil {
			return // channel closed
		}

		conn, err := c.dial(context.Background())
		if err == nil {
			_ = c.install(conn)
			return
		}

		c.log.Warn().Err(err).Int("attempt", attempt).Msg("websocket redial failed")
		if attempt >= c.cfg.MaxAttempts {
			c.setState(ConnFailed)
			return
		}
	}
}

// sleep waits for d, aborting on channel close or ctx cancellation.
func (c *WSChannel) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-c.closedCh:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// JoinRoom records the room topic and announces it. The join is replayed
// after every reconnect.
func (c *WSChannel) JoinRoom(roomID, userID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.room = roomID
	c.user = userID
	connected := c.state == Connected
	c.mu.Unlock()

	if !connected {
		return errorf(KindTransient, "join", "not connected")
	}
	return c.sendJoin(roomID, userID)
}

func (c *WSChannel) sendJoin(roomID, userID string) error {
	if err := c.Send(Event{Type: EventLogin, UserID: userID}); err != nil {
		return err
	}
	return c.Send(Event{Type: EventJoinRoom, Room: roomID, UserID: userID})
}

// Send emits ev on the live connection. Writes are serialized under the
// channel lock.
func (c *WSChannel) Send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if c.conn == nil || c.state != Connected {
		return errorf(KindTransient, "send_event", "not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteJSON(ev)
}

// Subscribe registers h for events of the given type. Registrations
// survive reconnects; the returned Subscription removes the handler.
func (c *WSChannel) Subscribe(eventType string, h func(Event)) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	if c.subs[eventType] == nil {
		c.subs[eventType] = make(map[int]func(Event))
	}
	c.subs[eventType][id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs[eventType], id)
	}
}

// SubscribeState registers h for connection-state transitions.
func (c *WSChannel) SubscribeState(h func(ConnState)) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.stateSubs[id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.stateSubs, id)
	}
}

// State returns the current connection state.
func (c *WSChannel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close tears the channel down. Safe to call more than once.
func (c *WSChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = Disconnected
	close(c.closedCh)
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.notifyState(Disconnected)
	return nil
}

// dispatch fans an event out to its subscribers. Handlers run on the read
// loop goroutine, so inbound events are delivered one at a time in order.
func (c *WSChannel) dispatch(ev Event) {
	c.mu.Lock()
	handlers := make([]func(Event), 0, len(c.subs[ev.Type]))
	for _, h := range c.subs[ev.Type] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (c *WSChannel) setState(st ConnState) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = st
	c.mu.Unlock()
	c.notifyState(st)
}

func (c *WSChannel) notifyState(st ConnState) {
	c.mu.Lock()
	handlers := make([]func(ConnState), 0, len(c.stateSubs))
	for _, h := range c.stateSubs {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(st)
	}
}

// backoffDelay computes the delay before reconnect attempt n: exponential
// from base, capped at ceil, with ±20% jitter.
func backoffDelay(attempt int, base, ceil time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceil {
			d = ceil
			break
		}
	}
	jitter := 1 + (rand.Float64()*0.4 - 0.2)
	return time.Duration(float64(d) * jitter)
}
