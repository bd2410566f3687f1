package bus

import (
	"sync"

	"github.com/vovakirdan/wirechat-bots/internal/core"
)

// roomState holds the retained messages and present users of one room.
// Every field is guarded by mu.
type roomState struct {
	mu sync.Mutex

	id       string
	cap      int
	messages []core.Message
	// prints[i] is the fingerprint of messages[i]; empty for local notices.
	prints []uint64
	seen   map[uint64]*printEntry
	users  map[string]core.User
	order  []string
}

// printEntry counts how often a fingerprint was accepted and how often each
// session delivered it. Without a server id, identical repeats from one
// session are kept while cross-session copies are dropped.
type printEntry struct {
	accepted  int
	delivered map[string]int
}

func newRoomState(id string, capacity int) *roomState {
	return &roomState{
		id:    id,
		cap:   capacity,
		seen:  make(map[uint64]*printEntry),
		users: make(map[string]core.User),
	}
}

// admit reports whether the delivery of fingerprint fp by sessionID is new.
// A fingerprint built from a server message id is admitted once while it is
// retained, whichever session delivers it.
func (r *roomState) admit(fp uint64, sessionID string, hasServerID bool) bool {
	entry, ok := r.seen[fp]
	if !ok {
		entry = &printEntry{delivered: make(map[string]int)}
		r.seen[fp] = entry
	}
	if hasServerID {
		if entry.accepted > 0 {
			return false
		}
		entry.accepted = 1
		return true
	}
	entry.delivered[sessionID]++
	if entry.delivered[sessionID] > entry.accepted {
		entry.accepted++
		return true
	}
	return false
}

// append stores msg and evicts the oldest entries beyond the cap.
func (r *roomState) append(msg core.Message, fp uint64, hasPrint bool) {
	r.messages = append(r.messages, msg)
	if hasPrint {
		r.prints = append(r.prints, fp)
	} else {
		r.prints = append(r.prints, 0)
	}
	for len(r.messages) > r.cap {
		if old := r.prints[0]; old != 0 {
			if entry, ok := r.seen[old]; ok {
				entry.accepted--
				if entry.accepted <= 0 {
					delete(r.seen, old)
				}
			}
		}
		r.messages[0] = core.Message{}
		r.messages = r.messages[1:]
		r.prints = r.prints[1:]
	}
}

func (r *roomState) addUser(u core.User) bool {
	key := userKey(u)
	if _, ok := r.users[key]; ok {
		return false
	}
	r.users[key] = u
	r.order = append(r.order, key)
	return true
}

func (r *roomState) removeUser(u core.User) (core.User, bool) {
	key := userKey(u)
	existing, ok := r.users[key]
	if !ok {
		return core.User{}, false
	}
	delete(r.users, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return existing, true
}

func (r *roomState) history(n int) []core.Message {
	if n <= 0 || n > len(r.messages) {
		n = len(r.messages)
	}
	out := make([]core.Message, n)
	copy(out, r.messages[len(r.messages)-n:])
	return out
}

func (r *roomState) userList() []core.User {
	out := make([]core.User, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.users[key])
	}
	return out
}

func userKey(u core.User) string {
	if u.ID != "" {
		return u.ID
	}
	return "name:" + u.Name
}
