package core

import "time"

// EventKind is a notification the bus emits to observers.
type EventKind int

const (
	// EventMessage notifies observers about an accepted room message.
	EventMessage EventKind = iota
	// EventPresenceJoin notifies observers that a user appeared in a room.
	EventPresenceJoin
	// EventPresenceLeave notifies observers that a user left a room.
	EventPresenceLeave
	// EventLog carries an operator-facing log line.
	EventLog
)

// Presence describes a user entering or leaving a room.
type Presence struct {
	RoomID string
	User   User
}

// LogEntry is a human readable line about something a bot did.
type LogEntry struct {
	SessionID string
	Bot       string
	Text      string
	Time      time.Time
}

// Event is what the bus hands to observers.
type Event struct {
	Kind     EventKind
	Message  Message
	Presence Presence
	Log      LogEntry
}

// Observer receives normalized events from the bus.
// Calls for one observer are sequential; different observers run independently.
type Observer interface {
	OnMessage(msg Message)
	OnPresenceJoin(p Presence)
	OnPresenceLeave(p Presence)
	OnLog(entry LogEntry)
}

// BaseObserver implements Observer with no-ops. Embed it to handle a subset of events.
type BaseObserver struct{}

func (BaseObserver) OnMessage(Message)        {}
func (BaseObserver) OnPresenceJoin(Presence)  {}
func (BaseObserver) OnPresenceLeave(Presence) {}
func (BaseObserver) OnLog(LogEntry)           {}

// Dispatch calls the observer method matching the event kind.
func Dispatch(obs Observer, ev *Event) {
	switch ev.Kind {
	case EventMessage:
		obs.OnMessage(ev.Message)
	case EventPresenceJoin:
		obs.OnPresenceJoin(ev.Presence)
	case EventPresenceLeave:
		obs.OnPresenceLeave(ev.Presence)
	case EventLog:
		obs.OnLog(ev.Log)
	}
}
