package http

import (
	"time"

	"github.com/vovakirdan/wirechat-bots/internal/core"
	"github.com/vovakirdan/wirechat-bots/internal/proto"
	"github.com/vovakirdan/wirechat-bots/internal/store"
)

// MessageResponse is a room message in API responses.
type MessageResponse struct {
	ID        string `json:"id"`
	RoomID    string `json:"room_id"`
	AuthorID  string `json:"author_id,omitempty"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	Kind      string `json:"kind"`
	CreatedAt string `json:"created_at"`
}

// ArchivedMessageResponse is an archived message with its archive sequence number.
type ArchivedMessageResponse struct {
	MessageResponse
	Seq int64 `json:"seq"`
}

// UserResponse is a present user in API responses.
type UserResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RoomResponse is a directory entry in API responses.
type RoomResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Privacy     string `json:"privacy,omitempty"`
}

// RoomStateResponse is the shared state of a room.
type RoomStateResponse struct {
	RoomID   string            `json:"room_id"`
	Messages []MessageResponse `json:"messages"`
	Users    []UserResponse    `json:"users"`
}

func messageResponse(m core.Message) MessageResponse {
	return MessageResponse{
		ID:        m.ID,
		RoomID:    m.RoomID,
		AuthorID:  m.AuthorID,
		Author:    m.Author,
		Text:      m.Text,
		Kind:      m.Kind.String(),
		CreatedAt: m.Timestamp.Format(time.RFC3339),
	}
}

func archivedResponse(m *store.ArchivedMessage) ArchivedMessageResponse {
	return ArchivedMessageResponse{
		MessageResponse: MessageResponse{
			ID:        m.ID,
			RoomID:    m.RoomID,
			AuthorID:  m.AuthorID,
			Author:    m.Author,
			Text:      m.Text,
			Kind:      m.Kind,
			CreatedAt: m.CreatedAt.Format(time.RFC3339),
		},
		Seq: m.Seq,
	}
}

func roomResponse(r core.RoomInfo) RoomResponse {
	return RoomResponse{ID: r.ID, Name: r.Name, Description: r.Description, Privacy: r.Privacy}
}

func frameFromEvent(ev core.Event) proto.StreamFrame {
	switch ev.Kind {
	case core.EventMessage:
		m := ev.Message
		return proto.StreamFrame{
			Type: proto.FrameMessage,
			Data: proto.MessageFrame{
				ID:        m.ID,
				RoomID:    m.RoomID,
				AuthorID:  m.AuthorID,
				Author:    m.Author,
				Text:      m.Text,
				Kind:      m.Kind.String(),
				Timestamp: m.Timestamp.UnixMilli(),
			},
		}
	case core.EventPresenceJoin, core.EventPresenceLeave:
		typ := proto.FrameUserJoined
		if ev.Kind == core.EventPresenceLeave {
			typ = proto.FrameUserLeft
		}
		return proto.StreamFrame{
			Type: typ,
			Data: proto.PresenceFrame{
				RoomID:   ev.Presence.RoomID,
				UserID:   ev.Presence.User.ID,
				Username: ev.Presence.User.Name,
			},
		}
	default:
		return proto.StreamFrame{
			Type: proto.FrameLog,
			Data: proto.LogFrame{
				SessionID: ev.Log.SessionID,
				Bot:       ev.Log.Bot,
				Text:      ev.Log.Text,
				Timestamp: ev.Log.Time.UnixMilli(),
			},
		}
	}
}

// eventRoom returns the room an event belongs to, or "" for log lines.
func eventRoom(ev core.Event) string {
	switch ev.Kind {
	case core.EventMessage:
		return ev.Message.RoomID
	case core.EventPresenceJoin, core.EventPresenceLeave:
		return ev.Presence.RoomID
	default:
		return ""
	}
}
