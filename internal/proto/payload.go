package proto

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Sender identifies the author of a chat payload.
type Sender struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// ChatPayload travels on a room's "chat" channel.
type ChatPayload struct {
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
	// Text is accepted as an alias of Message on decode.
	Text   string `json:"text,omitempty"`
	Sender Sender `json:"sender"`
	TS     int64  `json:"ts,omitempty"`
}

// Body returns the message text, whichever field carried it.
func (p ChatPayload) Body() string {
	if p.Message != "" {
		return p.Message
	}
	return p.Text
}

// PresenceType is the kind of presence change.
type PresenceType string

const (
	PresenceJoin  PresenceType = "join"
	PresenceLeave PresenceType = "leave"
)

// PresencePayload travels on a room's "presence" channel.
type PresencePayload struct {
	Type     PresenceType `json:"type"`
	UserID   string       `json:"user_id"`
	Username string       `json:"username"`
}

// DecodeChat parses a chat payload. Servers disagree on whether ids are strings
// or numbers, so id and sender.id accept both.
func DecodeChat(raw []byte) (ChatPayload, error) {
	var wire struct {
		ID      json.RawMessage `json:"id"`
		Message string          `json:"message"`
		Text    string          `json:"text"`
		Sender  struct {
			ID       json.RawMessage `json:"id"`
			Username string          `json:"username"`
		} `json:"sender"`
		TS int64 `json:"ts"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return ChatPayload{}, fmt.Errorf("decode chat payload: %w", err)
	}
	p := ChatPayload{
		ID:      looseID(wire.ID),
		Message: wire.Message,
		Text:    wire.Text,
		Sender:  Sender{ID: looseID(wire.Sender.ID), Username: wire.Sender.Username},
		TS:      wire.TS,
	}
	if strings.TrimSpace(p.Body()) == "" {
		return ChatPayload{}, fmt.Errorf("decode chat payload: empty message")
	}
	return p, nil
}

// DecodePresence parses a presence payload.
func DecodePresence(raw []byte) (PresencePayload, error) {
	var p PresencePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return PresencePayload{}, fmt.Errorf("decode presence payload: %w", err)
	}
	if p.Type != PresenceJoin && p.Type != PresenceLeave {
		return PresencePayload{}, fmt.Errorf("decode presence payload: unknown type %q", p.Type)
	}
	if p.UserID == "" && p.Username == "" {
		return PresencePayload{}, fmt.Errorf("decode presence payload: missing user")
	}
	return p, nil
}

func looseID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}
