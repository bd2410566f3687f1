package bus

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-bots/internal/core"
	"github.com/vovakirdan/wirechat-bots/internal/log"
	"github.com/vovakirdan/wirechat-bots/internal/proto"
)

var lobby = core.RoomInfo{ID: "1", Name: "lobby"}

type recorder struct {
	core.BaseObserver
	mu     sync.Mutex
	msgs   []core.Message
	joins  []core.Presence
	leaves []core.Presence
	logs   []core.LogEntry
}

func (r *recorder) OnMessage(m core.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *recorder) OnPresenceJoin(p core.Presence) {
	r.mu.Lock()
	r.joins = append(r.joins, p)
	r.mu.Unlock()
}

func (r *recorder) OnPresenceLeave(p core.Presence) {
	r.mu.Lock()
	r.leaves = append(r.leaves, p)
	r.mu.Unlock()
}

func (r *recorder) OnLog(e core.LogEntry) {
	r.mu.Lock()
	r.logs = append(r.logs, e)
	r.mu.Unlock()
}

func (r *recorder) messages() []core.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Message(nil), r.msgs...)
}

func chatRaw(t *testing.T, p proto.ChatPayload) []byte {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return raw
}

func presenceRaw(t *testing.T, typ proto.PresenceType, id, name string) []byte {
	t.Helper()
	raw, err := json.Marshal(proto.PresencePayload{Type: typ, UserID: id, Username: name})
	require.NoError(t, err)
	return raw
}

func TestHistoryKeepsMostRecent200(t *testing.T) {
	b := New(log.Nop())
	in := b.Ingress("s1", "bot-1")

	for i := 0; i < 250; i++ {
		_, ok, err := in.Chat(lobby, chatRaw(t, proto.ChatPayload{
			Message: fmt.Sprintf("msg %d", i),
			Sender:  proto.Sender{ID: "u1", Username: "alice"},
		}))
		require.NoError(t, err)
		require.True(t, ok)
	}

	history := b.History(lobby.ID, 0)
	require.Len(t, history, DefaultHistoryCap)
	assert.Equal(t, "msg 50", history[0].Text)
	assert.Equal(t, "msg 249", history[len(history)-1].Text)

	last := b.History(lobby.ID, 10)
	require.Len(t, last, 10)
	assert.Equal(t, "msg 240", last[0].Text)
}

func TestFanOutPreservesRoomOrder(t *testing.T) {
	b := New(log.Nop())
	rec := &recorder{}
	unsubscribe := b.Subscribe("rec", rec)
	defer unsubscribe()

	in := b.Ingress("s1", "bot-1")
	for i := 0; i < 100; i++ {
		_, _, err := in.Chat(lobby, chatRaw(t, proto.ChatPayload{
			Message: fmt.Sprintf("%d", i),
			Sender:  proto.Sender{ID: "u1"},
		}))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return len(rec.messages()) == 100 }, 2*time.Second, 5*time.Millisecond)
	for i, m := range rec.messages() {
		assert.Equal(t, fmt.Sprintf("%d", i), m.Text)
	}
}

type blockingObserver struct {
	core.BaseObserver
	release chan struct{}
}

func (o *blockingObserver) OnMessage(core.Message) { <-o.release }

type panickingObserver struct {
	core.BaseObserver
}

func (panickingObserver) OnMessage(core.Message) { panic("observer bug") }

func TestSlowAndFailingObserversAreIsolated(t *testing.T) {
	b := New(log.Nop())
	slow := &blockingObserver{release: make(chan struct{})}
	defer close(slow.release)

	b.Subscribe("slow", slow)
	b.Subscribe("panics", panickingObserver{})
	rec := &recorder{}
	b.Subscribe("rec", rec)

	in := b.Ingress("s1", "bot-1")
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_, _, _ = in.Chat(lobby, chatRaw(t, proto.ChatPayload{
				Message: fmt.Sprintf("%d", i),
				Sender:  proto.Sender{ID: "u1"},
			}))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("append blocked on a slow observer")
	}
	require.Eventually(t, func() bool { return len(rec.messages()) == 50 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, b.History(lobby.ID, 0), 50)
}

func TestCrossSessionDedup(t *testing.T) {
	b := New(log.Nop())
	a := b.Ingress("s1", "bot-1")
	c := b.Ingress("s2", "bot-2")

	withID := chatRaw(t, proto.ChatPayload{ID: "77", Message: "hello", Sender: proto.Sender{ID: "u1"}})
	_, ok, err := a.Chat(lobby, withID)
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = c.Chat(lobby, withID)
	require.NoError(t, err)
	assert.False(t, ok, "second session's copy must be dropped")

	// Without server ids, genuine repeats by one sender still count.
	noID := chatRaw(t, proto.ChatPayload{Message: "hi", Sender: proto.Sender{ID: "u2"}})
	_, ok, _ = a.Chat(lobby, noID)
	assert.True(t, ok)
	_, ok, _ = c.Chat(lobby, noID)
	assert.False(t, ok)
	_, ok, _ = a.Chat(lobby, noID)
	assert.True(t, ok)
	_, ok, _ = c.Chat(lobby, noID)
	assert.False(t, ok)

	assert.Len(t, b.History(lobby.ID, 0), 3)
}

func TestReplayedServerMessageIsAcceptedOnce(t *testing.T) {
	b := New(log.Nop())
	rec := &recorder{}
	b.Subscribe("rec", rec)
	in := b.Ingress("s1", "bot-1")

	raw := chatRaw(t, proto.ChatPayload{ID: "77", Message: "hello", Sender: proto.Sender{ID: "u1"}})
	_, ok, err := in.Chat(lobby, raw)
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = in.Chat(lobby, raw)
	require.NoError(t, err)
	assert.False(t, ok, "same session replaying a server id must be dropped")

	assert.Len(t, b.History(lobby.ID, 0), 1)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.messages(), 1)
}

func TestManagedSendersAreBotMessages(t *testing.T) {
	b := New(log.Nop())
	b.RegisterAccount("bot-2")
	in := b.Ingress("s1", "bot-1")

	own, _, err := in.Chat(lobby, chatRaw(t, proto.ChatPayload{Message: "mine", Sender: proto.Sender{ID: "bot-1"}}))
	require.NoError(t, err)
	assert.Equal(t, core.MessageBot, own.Kind)

	peer, _, err := in.Chat(lobby, chatRaw(t, proto.ChatPayload{Message: "peer", Sender: proto.Sender{ID: "bot-2"}}))
	require.NoError(t, err)
	assert.Equal(t, core.MessageBot, peer.Kind)

	human, _, err := in.Chat(lobby, chatRaw(t, proto.ChatPayload{Message: "human", Sender: proto.Sender{ID: "u9", Username: "zoe"}}))
	require.NoError(t, err)
	assert.Equal(t, core.MessageUser, human.Kind)
	assert.Equal(t, "zoe", human.Author)

	b.UnregisterAccount("bot-2")
	assert.False(t, b.IsManaged("bot-2"))
}

func TestPresenceNotices(t *testing.T) {
	b := New(log.Nop())
	rec := &recorder{}
	b.Subscribe("rec", rec)
	in := b.Ingress("s1", "bot-1")

	ok, err := in.Presence(lobby, presenceRaw(t, proto.PresenceJoin, "u1", "alice"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = in.Presence(lobby, presenceRaw(t, proto.PresenceJoin, "u1", "alice"))
	require.NoError(t, err)
	assert.False(t, ok, "duplicate join must be dropped")

	require.Equal(t, []core.User{{ID: "u1", Name: "alice"}}, b.Users(lobby.ID))

	ok, err = in.Presence(lobby, presenceRaw(t, proto.PresenceLeave, "u1", "alice"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, b.Users(lobby.ID))

	history := b.History(lobby.ID, 0)
	require.Len(t, history, 2)
	assert.Equal(t, "alice has joined the room.", history[0].Text)
	assert.Equal(t, core.MessageSystem, history[0].Kind)
	assert.Equal(t, "alice has left the room.", history[1].Text)

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.joins) == 1 && len(rec.leaves) == 1 && len(rec.msgs) == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(log.Nop())
	rec := &recorder{}
	unsubscribe := b.Subscribe("rec", rec)
	assert.Equal(t, 1, b.ObserverCount())

	b.Log(core.LogEntry{Text: "before"})
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.logs) == 1
	}, 2*time.Second, 5*time.Millisecond)

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, b.ObserverCount())

	b.Log(core.LogEntry{Text: "after"})
	time.Sleep(20 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.logs, 1)
}

func TestInvalidPayloadsAreRejected(t *testing.T) {
	b := New(log.Nop())
	in := b.Ingress("s1", "bot-1")

	_, ok, err := in.Chat(lobby, []byte(`{`))
	assert.Error(t, err)
	assert.False(t, ok)
	_, err = in.Presence(lobby, []byte(`{"type":"dance","user_id":"u"}`))
	assert.Error(t, err)
	assert.Empty(t, b.History(lobby.ID, 0))
}
