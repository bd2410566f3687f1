package core

import "fmt"

// RoomInfo is what the room directory knows about a room.
type RoomInfo struct {
	ID          string
	Name        string
	Description string
	Privacy     string
}

// ChannelKind names one of the logical channels a room exposes on the transport.
type ChannelKind string

const (
	// ChannelChat carries chat messages.
	ChannelChat ChannelKind = "chat"
	// ChannelPresence carries join/leave notifications.
	ChannelPresence ChannelKind = "presence"
)

// Channel addresses a room on the real-time transport.
type Channel struct {
	// Name is the transport-level queue name, "room.<id>".
	Name string
	Room RoomInfo
}

// RoomChannel returns the transport channel for a room.
func RoomChannel(room RoomInfo) Channel {
	return Channel{Name: fmt.Sprintf("room.%s", room.ID), Room: room}
}

// Topic is the flat topic name for a channel kind, "room.<id>.<kind>".
func (c Channel) Topic(kind ChannelKind) string {
	return c.Name + "." + string(kind)
}

// RawEvent is an undecoded payload delivered by the transport.
type RawEvent struct {
	Kind    ChannelKind
	Payload []byte
}
