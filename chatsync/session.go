// Package chatsync reconciles a persisted chat history with a live event
// stream into a single ordered, deduplicated message timeline, and tracks
// presence and typing state for the room's participants.
//
// A Session owns one room, one transport Channel, and one timeline. All
// session state is mutated on a single run loop, so handlers never race
// and no locking is needed around the timeline or the dedup set. History
// and the live stream may deliver the same message in any order; the
// origin-assigned message ID is the only dedup key, and (timestamp, id)
// is the only ordering.
package chatsync

import (
	"context"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionState is the lifecycle state of a chat session.
type SessionState int

const (
	SessionInitializing SessionState = iota
	// SessionSyncing: history fetch and transport connect are in flight;
	// inbound events are buffered, not discarded.
	SessionSyncing
	SessionLive
	// SessionReconnecting: the transport dropped; state is preserved and
	// a gap-fill fetch runs once the transport recovers.
	SessionReconnecting
	SessionClosed
)

// String returns a short name for the state.
func (s SessionState) String() string {
	switch s {
	case SessionInitializing:
		return "initializing"
	case SessionSyncing:
		return "syncing"
	case SessionLive:
		return "live"
	case SessionReconnecting:
		return "reconnecting"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// UpdateKind tags a state-change notification.
type UpdateKind int

const (
	// UpdateTimeline carries a full ordered snapshot: the initial replay
	// on entering Live and each post-reconnect merge.
	UpdateTimeline UpdateKind = iota
	// UpdateMessage carries a single message: a live arrival, an
	// optimistic pending insert, or a confirmed replacement.
	UpdateMessage
	UpdateTyping
	UpdatePresence
	UpdateConnState
	UpdateSessionState
	// UpdateSendFailed carries a send that exhausted its retries. The
	// entry stays in the timeline marked Failed.
	UpdateSendFailed
)

// Update is a state-change notification. Updates are delivered one at a
// time, in the order the underlying events were applied.
type Update struct {
	Kind     UpdateKind
	Session  SessionState
	Conn     ConnState
	Message  *Message
	Timeline []Message
	UserID   string
	Typing   bool
	Online   bool
}

// Presence is the tracked state of one remote participant. Both flags are
// set only by explicit transport events (or the presence re-query on Live
// entry); absence of evidence is not evidence of absence.
type Presence struct {
	Online   bool
	Typing   bool
	OnlineAt time.Time
	TypingAt time.Time
}

// API is the persistence surface a session needs: history reads, sends,
// and presence queries. *Client implements it.
type API interface {
	History(ctx context.Context, roomID string, after int64) ([]Message, error)
	Send(ctx context.Context, roomID, content string) (*Message, error)
	Presence(ctx context.Context, roomID string) ([]string, error)
}

// Options tunes a session. The zero value is usable.
type Options struct {
	TypingTimeout  time.Duration // remote typing expiry, default 3s
	QuietPeriod    time.Duration // local debounce quiet period, default 3s
	SendRetries    int           // extra attempts on transient send errors, default 2
	HistoryTries   int           // total history fetch attempts, default 3
	QueueSize      int           // run loop buffer, default 256
	OnUpdate       func(Update)  // called from the run loop, in order
	Logger         zerolog.Logger
}

func (o *Options) defaults() {
	if o.TypingTimeout <= 0 {
		o.TypingTimeout = 3 * time.Second
	}
	if o.QuietPeriod <= 0 {
		o.QuietPeriod = 3 * time.Second
	}
	if o.SendRetries < 0 {
		o.SendRetries = 0
	} else if o.SendRetries == 0 {
		o.SendRetries = 2
	}
	if o.HistoryTries <= 0 {
		o.HistoryTries = 3
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
}

// Session synchronizes one chat room. Create with NewSession, start with
// Open, release with Close. Exactly one live session per room per
// process; opening a second one for the same room is a caller error.
type Session struct {
	roomID string
	userID string
	api    API
	ch     Channel
	opts   Options
	log    zerolog.Logger

	opened atomic.Bool
	ops    chan func()
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	debounce *Debouncer

	// Run-loop-owned state. Never touched off-loop.
	state         SessionState
	conn          ConnState
	tl            *timeline
	participants  map[string]*Presence
	typingTimers  map[string]*time.Timer
	buffer        []Event
	subs          []Subscription
	historyLoaded bool
	connected     bool
	openResult    chan error
}

// NewSession creates a session for one room. opts may be zero.
func NewSession(roomID, userID string, api API, ch Channel, opts Options) *Session {
	opts.defaults()
	s := &Session{
		roomID:       roomID,
		userID:       userID,
		api:          api,
		ch:           ch,
		opts:         opts,
		log:          opts.Logger.With().Str("room", roomID).Logger(),
		ops:          make(chan func(), opts.QueueSize),
		done:         make(chan struct{}),
		state:        SessionInitializing,
		conn:         Disconnected,
		tl:           newTimeline(),
		participants: make(map[string]*Presence),
		typingTimers: make(map[string]*time.Timer),
	}
	s.debounce = NewDebouncer(opts.QuietPeriod, s.emitTyping, s.emitStopTyping)
	return s
}

// Open seeds the timeline from history and attaches the live stream,
// buffering any events that race the fetch. It blocks until the session
// reaches Live (nil) or fails terminally. ctx bounds the initial sync
// only; the session keeps running after Open returns.
func (s *Session) Open(ctx context.Context) error {
	if !s.opened.CompareAndSwap(false, true) {
		return ErrSessionOpen
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.openResult = make(chan error, 1)
	result := s.openResult

	go s.run()

	s.do(func() {
		s.state = SessionSyncing
		s.notifySessionState()
	})

	// Register before connecting so nothing delivered during the
	// handshake can be missed.
	subs := make([]Subscription, 0, 6)
	for _, t := range []string{EventMessage, EventTyping, EventStopTyping, EventOnline, EventOffline} {
		sub := s.ch.Subscribe(t, func(ev Event) {
			s.do(func() { s.handleEvent(ev) })
		})
		subs = append(subs, sub)
	}
	subs = append(subs, s.ch.SubscribeState(func(st ConnState) {
		s.do(func() { s.handleConnState(st) })
	}))
	s.call(func() { s.subs = subs })

	go s.connect()
	go s.fetchHistory(0)

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	}
}

// run executes session mutations one at a time.
func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		case fn := <-s.ops:
			fn()
		}
	}
}

// do posts fn to the run loop. Returns false if the session is closed, in
// which case fn never runs: completions that land after teardown are
// dropped instead of mutating destroyed state.
func (s *Session) do(fn func()) bool {
	select {
	case <-s.done:
		return false
	case s.ops <- fn:
		return true
	}
}

// call posts fn and waits for it to run.
func (s *Session) call(fn func()) bool {
	ran := make(chan struct{})
	if !s.do(func() { fn(); close(ran) }) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-s.done:
		return false
	}
}

// connect opens the transport and joins the room topic.
func (s *Session) connect() {
	if err := s.ch.Connect(s.ctx); err != nil {
		s.do(func() { s.fatalOpen(err) })
		return
	}
	if err := s.ch.JoinRoom(s.roomID, s.userID); err != nil {
		// Transient: the join is replayed by the channel on reconnect.
		s.log.Warn().Err(err).Msg("join failed")
	}
}

// fetchHistory retrieves messages newer than after (0 = full history) and
// posts the result. Transient failures retry with backoff.
func (s *Session) fetchHistory(after int64) {
	var msgs []Message
	var err error
	for attempt := 1; attempt <= s.opts.HistoryTries; attempt++ {
		msgs, err = s.api.History(s.ctx, s.roomID, after)
		if err == nil || !IsTransient(err) {
			break
		}
		t := time.NewTimer(time.Duration(attempt) * 500 * time.Millisecond)
		select {
		case <-t.C:
		case <-s.ctx.Done():
			t.Stop()
			return
		}
		t.Stop()
	}

	if err != nil {
		s.do(func() { s.historyFailed(after, err) })
		return
	}
	s.do(func() { s.historyDone(after, msgs) })
}

func (s *Session) historyDone(after int64, msgs []Message) {
	if s.state == SessionClosed {
		return
	}
	changed := false
	for _, m := range msgs {
		m.LocalKey = uuid.NewString()
		if s.tl.insert(m) {
			changed = true
		} else {
			duplicatesDropped.Inc()
		}
	}
	if after == 0 {
		s.historyLoaded = true
		s.maybeLive()
		return
	}
	// Gap-fill after a reconnect.
	if s.state == SessionReconnecting {
		s.goLive()
		return
	}
	// A second drop can put the session back in Live before an earlier
	// gap-fill resolves; anything it merged still has to reach the UI.
	if s.state == SessionLive && changed {
		s.notify(Update{Kind: UpdateTimeline, Timeline: s.tl.snapshot(), Session: s.state})
	}
}

func (s *Session) historyFailed(after int64, err error) {
	if s.state == SessionClosed {
		return
	}
	if after == 0 {
		s.fatalOpen(err)
		return
	}
	// A failed gap-fill is not terminal: go live with the buffer; the
	// dedup set absorbs any overlap the next fetch brings in.
	s.log.Warn().Err(err).Msg("gap-fill fetch failed")
	if s.state == SessionReconnecting {
		s.goLive()
	}
}

func (s *Session) handleConnState(st ConnState) {
	if s.state == SessionClosed {
		return
	}
	s.conn = st
	s.notify(Update{Kind: UpdateConnState, Conn: st, Session: s.state})

	switch st {
	case Connected:
		switch s.state {
		case SessionSyncing:
			s.connected = true
			s.maybeLive()
		case SessionReconnecting:
			// Events arriving while the gap-fill runs are buffered,
			// exactly like the initial sync.
			go s.fetchHistory(s.tl.watermark())
		}
	case Reconnecting:
		s.connected = false
		if s.state == SessionLive {
			s.state = SessionReconnecting
			s.notifySessionState()
		}
	case ConnFailed:
		s.fatalOpen(newError(KindConnectionFailed, "connect", nil))
	}
}

// maybeLive enters Live once history is seeded and the channel is up.
func (s *Session) maybeLive() {
	if s.state == SessionSyncing && s.historyLoaded && s.connected {
		s.goLive()
	}
}

// goLive merges the buffered events and replays the timeline.
func (s *Session) goLive() {
	for _, ev := range s.buffer {
		s.applyEvent(ev, false)
	}
	s.buffer = nil

	s.state = SessionLive
	s.notify(Update{Kind: UpdateTimeline, Timeline: s.tl.snapshot(), Session: SessionLive})
	s.notifySessionState()
	s.signalOpen(nil)

	// The transport does not replay presence, so re-query it on every
	// Live entry.
	go s.refreshPresence()
}

func (s *Session) refreshPresence() {
	online, err := s.api.Presence(s.ctx, s.roomID)
	if err != nil {
		s.log.Debug().Err(err).Msg("presence query failed")
		return
	}
	s.do(func() { s.applyPresenceList(online) })
}

func (s *Session) applyPresenceList(online []string) {
	if s.state == SessionClosed {
		return
	}
	now := time.Now()
	for _, id := range online {
		if id == s.userID {
			continue
		}
		p := s.participant(id)
		if !p.Online {
			p.Online = true
			p.OnlineAt = now
			s.notify(Update{Kind: UpdatePresence, UserID: id, Online: true})
		}
	}
	for id, p := range s.participants {
		if p.Online && !slices.Contains(online, id) {
			p.Online = false
			p.OnlineAt = now
			s.notify(Update{Kind: UpdatePresence, UserID: id, Online: false})
		}
	}
}

// handleEvent routes one inbound event. While a history or gap-fill fetch
// is in flight the event is buffered; the merge on Live entry dedups it.
func (s *Session) handleEvent(ev Event) {
	switch s.state {
	case SessionClosed, SessionInitializing:
		return
	case SessionSyncing, SessionReconnecting:
		s.buffer = append(s.buffer, ev)
		bufferedEvents.Inc()
		return
	}
	s.applyEvent(ev, true)
}

// applyEvent folds one event into session state. notifyMsg suppresses
// per-message notifications during buffer merges, where a single timeline
// snapshot follows.
func (s *Session) applyEvent(ev Event, notifyMsg bool) {
	switch ev.Type {
	case EventMessage:
		if ev.Message == nil || ev.Message.ID == "" {
			invalidEvents.Inc()
			s.log.Debug().Msg("dropping malformed message event")
			return
		}
		if ev.Message.Room != "" && ev.Message.Room != s.roomID {
			invalidEvents.Inc()
			return
		}
		m := *ev.Message
		m.LocalKey = uuid.NewString()
		if !s.tl.insert(m) {
			duplicatesDropped.Inc()
			return
		}
		if notifyMsg {
			s.notify(Update{Kind: UpdateMessage, Message: &m})
		}

	case EventTyping:
		if ev.UserID == "" || ev.UserID == s.userID {
			return
		}
		p := s.participant(ev.UserID)
		changed := !p.Typing
		p.Typing = true
		p.TypingAt = time.Now()
		s.resetTypingTimer(ev.UserID)
		if changed {
			s.notify(Update{Kind: UpdateTyping, UserID: ev.UserID, Typing: true})
		}

	case EventStopTyping:
		// stopTyping while already idle is a no-op, not an error: the
		// transport guarantees no ordering.
		p, ok := s.participants[ev.UserID]
		if !ok || !p.Typing {
			return
		}
		p.Typing = false
		p.TypingAt = time.Now()
		s.stopTypingTimer(ev.UserID)
		s.notify(Update{Kind: UpdateTyping, UserID: ev.UserID, Typing: false})

	case EventOnline, EventOffline:
		if ev.UserID == "" || ev.UserID == s.userID {
			return
		}
		online := ev.Type == EventOnline
		p := s.participant(ev.UserID)
		if p.Online == online {
			return
		}
		p.Online = online
		p.OnlineAt = time.Now()
		s.notify(Update{Kind: UpdatePresence, UserID: ev.UserID, Online: online})

	default:
		invalidEvents.Inc()
		s.log.Debug().Str("type", ev.Type).Msg("dropping unknown event")
	}
}

func (s *Session) participant(id string) *Presence {
	p, ok := s.participants[id]
	if !ok {
		p = &Presence{}
		s.participants[id] = p
	}
	return p
}

// resetTypingTimer arms the autonomous typing expiry: with no stopTyping
// within the timeout, the participant falls back to idle.
func (s *Session) resetTypingTimer(userID string) {
	if t, ok := s.typingTimers[userID]; ok {
		t.Stop()
	}
	s.typingTimers[userID] = time.AfterFunc(s.opts.TypingTimeout, func() {
		s.do(func() { s.expireTyping(userID) })
	})
}

func (s *Session) stopTypingTimer(userID string) {
	if t, ok := s.typingTimers[userID]; ok {
		t.Stop()
		delete(s.typingTimers, userID)
	}
}

func (s *Session) expireTyping(userID string) {
	if s.state == SessionClosed {
		return
	}
	p, ok := s.participants[userID]
	if !ok || !p.Typing {
		return
	}
	p.Typing = false
	p.TypingAt = time.Now()
	delete(s.typingTimers, userID)
	s.notify(Update{Kind: UpdateTyping, UserID: userID, Typing: false})
}

// OnLocalInput records a local content change and drives the typing
// debouncer.
func (s *Session) OnLocalInput() {
	s.debounce.Input()
}

func (s *Session) emitTyping() {
	if err := s.ch.Send(Event{Type: EventTyping, Room: s.roomID, UserID: s.userID}); err != nil {
		s.log.Debug().Err(err).Msg("typing emit failed")
	}
}

func (s *Session) emitStopTyping() {
	if err := s.ch.Send(Event{Type: EventStopTyping, Room: s.roomID, UserID: s.userID}); err != nil {
		s.log.Debug().Err(err).Msg("stopTyping emit failed")
	}
}

// Timeline returns an ordered snapshot: confirmed messages by
// (timestamp, id), then pending sends in submission order.
func (s *Session) Timeline() []Message {
	var snap []Message
	s.call(func() { snap = s.tl.snapshot() })
	return snap
}

// Participants returns a copy of the tracked presence state.
func (s *Session) Participants() map[string]Presence {
	out := make(map[string]Presence)
	s.call(func() {
		for id, p := range s.participants {
			out[id] = *p
		}
	})
	return out
}

// State returns the session state.
func (s *Session) State() SessionState {
	st := SessionClosed
	s.call(func() { st = s.state })
	return st
}

// ConnectionState returns the transport state as last observed.
func (s *Session) ConnectionState() ConnState {
	st := Disconnected
	s.call(func() { st = s.conn })
	return st
}

func (s *Session) notify(u Update) {
	if s.opts.OnUpdate != nil {
		s.opts.OnUpdate(u)
	}
}

func (s *Session) notifySessionState() {
	s.notify(Update{Kind: UpdateSessionState, Session: s.state, Conn: s.conn})
}

// signalOpen completes a pending Open call.
func (s *Session) signalOpen(err error) {
	if s.openResult != nil {
		s.openResult <- err
		s.openResult = nil
	}
}

// fatalOpen fails a pending Open and tears the session down.
func (s *Session) fatalOpen(err error) {
	if s.state == SessionClosed {
		return
	}
	s.signalOpen(err)
	s.shutdown()
}

// Close releases the session and its channel. Timers are canceled and any
// in-flight fetch or send completion becomes a no-op. Safe to call more
// than once.
func (s *Session) Close() {
	if s.opened.CompareAndSwap(false, true) {
		// Never opened; nothing is running.
		close(s.done)
		return
	}
	s.do(func() { s.shutdown() })
}

// shutdown runs on the loop. Order matters: unsubscribe and close done
// before releasing the channel, so teardown-triggered callbacks are
// dropped rather than queued.
func (s *Session) shutdown() {
	if s.state == SessionClosed {
		return
	}
	s.state = SessionClosed
	s.cancel()
	s.signalOpen(ErrSessionClosed)

	for id, t := range s.typingTimers {
		t.Stop()
		delete(s.typingTimers, id)
	}
	s.debounce.Close()

	for _, unsub := range s.subs {
		unsub()
	}
	s.subs = nil
	close(s.done)

	// Best effort: announce the leave before dropping the connection.
	_ = s.ch.Send(Event{Type: EventUserOffline, Room: s.roomID, UserID: s.userID})
	_ = s.ch.Close()

	s.notifySessionState()
}
