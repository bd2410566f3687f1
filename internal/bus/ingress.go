package bus

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/vovakirdan/wirechat-bots/internal/core"
	"github.com/vovakirdan/wirechat-bots/internal/proto"
	"github.com/vovakirdan/wirechat-bots/internal/utils"
)

// Ingress is the per-session entry point for raw transport events.
// It assigns synthetic ids from the session id, receipt time and a sequence.
type Ingress struct {
	bus       *Bus
	sessionID string
	accountID string
	seq       atomic.Uint64
}

// Ingress returns the entry point for a session authenticated as accountID.
func (b *Bus) Ingress(sessionID, accountID string) *Ingress {
	return &Ingress{bus: b, sessionID: sessionID, accountID: accountID}
}

// Chat normalizes a raw chat payload and appends it to the room.
// It reports false when the event was a duplicate.
func (in *Ingress) Chat(room core.RoomInfo, raw []byte) (core.Message, bool, error) {
	payload, err := proto.DecodeChat(raw)
	if err != nil {
		return core.Message{}, false, err
	}

	now := in.bus.now()
	kind := core.MessageUser
	if payload.Sender.ID != "" && (payload.Sender.ID == in.accountID || in.bus.IsManaged(payload.Sender.ID)) {
		kind = core.MessageBot
	}
	author := payload.Sender.Username
	if author == "" {
		author = payload.Sender.ID
	}
	ts := now
	if payload.TS > 0 {
		ts = time.UnixMilli(payload.TS)
	}

	msg := core.Message{
		ID:        in.nextID(now),
		RoomID:    room.ID,
		AuthorID:  payload.Sender.ID,
		Author:    author,
		Text:      payload.Body(),
		Timestamp: ts,
		Kind:      kind,
	}
	ok := in.bus.accept(msg, fingerprint(room.ID, payload), in.sessionID, payload.ID != "")
	return msg, ok, nil
}

// Presence applies a raw presence payload to the room's user set.
// It reports false when the change was already known.
func (in *Ingress) Presence(room core.RoomInfo, raw []byte) (bool, error) {
	payload, err := proto.DecodePresence(raw)
	if err != nil {
		return false, err
	}
	name := payload.Username
	if name == "" {
		name = payload.UserID
	}
	user := core.User{ID: payload.UserID, Name: name}
	now := in.bus.now()

	var text string
	if payload.Type == proto.PresenceJoin {
		text = fmt.Sprintf("%s has joined the room.", name)
	} else {
		text = fmt.Sprintf("%s has left the room.", name)
	}
	notice := core.Message{
		ID:        in.nextID(now),
		RoomID:    room.ID,
		Author:    "system",
		Text:      text,
		Timestamp: now,
		Kind:      core.MessageSystem,
	}
	return in.bus.presence(room.ID, user, payload.Type == proto.PresenceJoin, notice), nil
}

func (in *Ingress) nextID(now time.Time) string {
	return utils.MessageID(in.sessionID, now, in.seq.Add(1))
}

func (b *Bus) accept(msg core.Message, fp uint64, sessionID string, hasServerID bool) bool {
	if b.closed.Load() {
		return false
	}
	room := b.lookup(msg.RoomID, true)
	room.mu.Lock()
	defer room.mu.Unlock()
	if !room.admit(fp, sessionID, hasServerID) {
		return false
	}
	room.append(msg, fp, true)
	b.fanOut(core.Event{Kind: core.EventMessage, Message: msg})
	return true
}

func (b *Bus) presence(roomID string, user core.User, join bool, notice core.Message) bool {
	if b.closed.Load() {
		return false
	}
	room := b.lookup(roomID, true)
	room.mu.Lock()
	defer room.mu.Unlock()

	kind := core.EventPresenceJoin
	if join {
		if !room.addUser(user) {
			return false
		}
	} else {
		existing, ok := room.removeUser(user)
		if !ok {
			return false
		}
		user = existing
		kind = core.EventPresenceLeave
	}
	room.append(notice, 0, false)
	b.fanOut(core.Event{Kind: kind, Presence: core.Presence{RoomID: roomID, User: user}})
	b.fanOut(core.Event{Kind: core.EventMessage, Message: notice})
	return true
}

// fingerprint identifies one transport event independently of the session
// that received it.
func fingerprint(roomID string, p proto.ChatPayload) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(roomID)
	_, _ = d.WriteString("\x00")
	if p.ID != "" {
		_, _ = d.WriteString("id:")
		_, _ = d.WriteString(p.ID)
		return d.Sum64()
	}
	_, _ = d.WriteString(p.Sender.ID)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(p.Body())
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strconv.FormatInt(p.TS, 10))
	return d.Sum64()
}
