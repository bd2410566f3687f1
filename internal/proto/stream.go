package proto

// Frame types on the observer stream served at /ws.
const (
	FrameMessage    = "message"
	FrameUserJoined = "user_joined"
	FrameUserLeft   = "user_left"
	FrameLog        = "log"
)

// StreamFrame is one event pushed to observer stream clients.
type StreamFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// MessageFrame is the data of a "message" frame.
type MessageFrame struct {
	ID        string `json:"id"`
	RoomID    string `json:"room_id"`
	AuthorID  string `json:"author_id"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	Kind      string `json:"kind"`
	Timestamp int64  `json:"ts"`
}

// PresenceFrame is the data of "user_joined" and "user_left" frames.
type PresenceFrame struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// LogFrame is the data of a "log" frame.
type LogFrame struct {
	SessionID string `json:"session_id,omitempty"`
	Bot       string `json:"bot,omitempty"`
	Text      string `json:"text"`
	Timestamp int64  `json:"ts"`
}
