package session

import (
	"context"
	"time"

	"github.com/vovakirdan/wirechat-bots/internal/core"
)

// Membership is a session's subscription to one room. It is created once per
// join and never reused after leave.
type Membership struct {
	room     core.RoomInfo
	channel  core.Channel
	joinedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// handlers are installed at join time and reused on every resubscribe.
	handlers map[core.ChannelKind]func(raw []byte)
}

// Room returns the joined room.
func (m *Membership) Room() core.RoomInfo { return m.room }

// JoinedAt returns when the membership was created.
func (m *Membership) JoinedAt() time.Time { return m.joinedAt }

// Context is cancelled when the membership is torn down.
func (m *Membership) Context() context.Context { return m.ctx }

// pump feeds one channel's stream into its handler until the stream closes
// or the membership ends.
func (m *Membership) pump(kind core.ChannelKind, stream <-chan core.RawEvent) {
	handle := m.handlers[kind]
	for {
		select {
		case <-m.ctx.Done():
			return
		case ev, ok := <-stream:
			if !ok {
				return
			}
			handle(ev.Payload)
		}
	}
}

// RoomStatus is a read-only view of a membership.
type RoomStatus struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
}

// Status is a read-only snapshot of a session.
type Status struct {
	ID        string               `json:"id"`
	Username  string               `json:"username"`
	AccountID string               `json:"account_id"`
	State     core.ConnectionState `json:"state"`
	Rooms     []RoomStatus         `json:"rooms"`
	Profile   core.Profile         `json:"profile"`
}
