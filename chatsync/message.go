package chatsync

// Message is a chat message. ID is assigned by the authoritative history
// store and is the one and only deduplication key; LocalKey exists purely
// for display-list identity and must never be used for dedup.
type Message struct {
	ID        string `json:"id"`      // ULID, server-assigned
	Sender    string `json:"from"`    // user ID
	Room      string `json:"room_id"` //
	Body      string `json:"body"`    //
	Timestamp int64  `json:"ts"`      // Unix ms, server-assigned

	// Local-only fields, never on the wire.
	Pending  bool   `json:"-"` // optimistic insert awaiting confirmation
	Failed   bool   `json:"-"` // send exhausted its retries
	LocalKey string `json:"-"` // ephemeral render identity
}

// before reports whether m sorts before o in the timeline: timestamp
// ascending, ties broken by ID so replicas converge on one order
// regardless of arrival sequence.
func (m Message) before(o Message) bool {
	if m.Timestamp != o.Timestamp {
		return m.Timestamp < o.Timestamp
	}
	return m.ID < o.ID
}

// Room is a chat conversation between participants.
type Room struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
}

// Event names on the wire.
const (
	EventMessage     = "message"
	EventTyping      = "typing"
	EventStopTyping  = "stopTyping"
	EventOnline      = "online"
	EventOffline     = "offline"
	EventJoinRoom    = "joinRoom"
	EventLogin       = "login"
	EventUserOffline = "userOffline"
)

// Event is a room-scoped transport event. The transport guarantees
// at-least-once delivery and nothing else; ordering and exactly-once are
// supplied by the session's merge.
type Event struct {
	Type    string   `json:"type"`
	Room    string   `json:"room,omitempty"`
	UserID  string   `json:"user_id,omitempty"`
	Message *Message `json:"message,omitempty"`
}
