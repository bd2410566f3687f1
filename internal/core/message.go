package core

import "time"

// MessageKind classifies who produced a message.
type MessageKind int

const (
	// MessageUser is a message written by a participant that is not a managed bot.
	MessageUser MessageKind = iota
	// MessageSystem is a notice generated locally (joins, leaves).
	MessageSystem
	// MessageBot is a message written by one of the managed bots.
	MessageBot
)

func (k MessageKind) String() string {
	switch k {
	case MessageUser:
		return "user"
	case MessageSystem:
		return "system"
	case MessageBot:
		return "bot"
	default:
		return "unknown"
	}
}

// Message is the canonical chat message accepted by the bus.
// Messages are immutable once appended to a room.
type Message struct {
	ID        string
	RoomID    string
	AuthorID  string
	Author    string
	Text      string
	Timestamp time.Time
	Kind      MessageKind
}

// User is a participant present in a room.
type User struct {
	ID   string
	Name string
}
