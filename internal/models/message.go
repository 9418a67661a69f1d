package models

// Message is a chat message as stored and served. ID is a ULID assigned
// on append and is the identifier clients dedup on.
type Message struct {
	ID        string `json:"id"`
	RoomID    string `json:"room_id"`
	FromID    string `json:"from"`
	Body      string `json:"body"`
	Timestamp int64  `json:"ts"` // Unix ms
}
