package models

// Event names understood by the hub.
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

// Event is the websocket wire frame, both directions.
type Event struct {
	Type    string   `json:"type"`
	Room    string   `json:"room,omitempty"`
	UserID  string   `json:"user_id,omitempty"`
	Message *Message `json:"message,omitempty"`
}
