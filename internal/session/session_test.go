package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-bots/internal/bus"
	"github.com/vovakirdan/wirechat-bots/internal/core"
	"github.com/vovakirdan/wirechat-bots/internal/log"
	"github.com/vovakirdan/wirechat-bots/internal/proto"
	"github.com/vovakirdan/wirechat-bots/internal/session/sessiontest"
)

type fixture struct {
	bus       *bus.Bus
	transport *sessiontest.Transport
	session   *Session
}

func newFixture(t *testing.T, failConnects int) *fixture {
	t.Helper()
	b := bus.New(log.Nop())
	transport := &sessiontest.Transport{FailConnects: failConnects}
	deps := Deps{
		Auth: sessiontest.NewAuth(map[string]string{"bot": "pw"}),
		Transport: transport,
		Directory: &sessiontest.Directory{Rooms: []core.RoomInfo{
			{ID: "1", Name: "lobby"},
			{ID: "2", Name: "lobby-two"},
			{ID: "3", Name: "games"},
		}},
		Bus: b,
		Log: log.Nop(),
	}
	cfg := Config{ConnectTimeout: time.Second, ReconnectMin: 10 * time.Millisecond, ReconnectMax: 40 * time.Millisecond}
	s := New(deps, cfg, core.Profile{Name: "bot", Personality: core.DefaultPersonality(), AutoReply: true})
	t.Cleanup(func() {
		_ = s.Close()
		b.Close()
	})
	return &fixture{bus: b, transport: transport, session: s}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOpenRejectsBadCredentials(t *testing.T) {
	f := newFixture(t, 0)
	err := f.session.Open(context.Background(), "bot", "wrong")
	if !errors.Is(err, core.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
	if f.session.State() != core.StateDisconnected {
		t.Fatalf("expected disconnected, got %s", f.session.State())
	}
	if f.transport.Attempts() != 0 {
		t.Fatalf("transport must not be touched after failed login")
	}
}

func TestOpenConnects(t *testing.T) {
	f := newFixture(t, 0)
	if err := f.session.Open(context.Background(), "bot", "pw"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if f.session.State() != core.StateConnected {
		t.Fatalf("expected connected, got %s", f.session.State())
	}
	if acc := f.session.Account(); acc == nil || acc.ID != "acc-bot" {
		t.Fatalf("unexpected account %+v", acc)
	}
	if !f.bus.IsManaged("acc-bot") {
		t.Fatalf("account should be registered as managed")
	}
	if err := f.session.Open(context.Background(), "bot", "pw"); !errors.Is(err, core.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest on second open, got %v", err)
	}
}

func TestDegradedContract(t *testing.T) {
	f := newFixture(t, -1)
	ctx := context.Background()
	if err := f.session.Open(ctx, "bot", "pw"); err != nil {
		t.Fatalf("open must succeed when only the transport fails: %v", err)
	}
	if f.session.State() != core.StateDegraded {
		t.Fatalf("expected degraded, got %s", f.session.State())
	}
	if _, err := f.session.JoinByIdentifier(ctx, "lobby"); !errors.Is(err, core.ErrTransportUnavailable) {
		t.Fatalf("expected ErrTransportUnavailable on join, got %v", err)
	}
	if err := f.session.Publish(ctx, "1", "hi"); !errors.Is(err, core.ErrNotMember) {
		t.Fatalf("expected ErrNotMember on publish, got %v", err)
	}
	rooms, err := f.session.Search(ctx, "games", 10)
	if err != nil || len(rooms) != 1 || rooms[0].ID != "3" {
		t.Fatalf("search should work while degraded: %v %+v", err, rooms)
	}
}

func TestJoinByNameTakesFirstMatchAndLeave(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	if err := f.session.Open(ctx, "bot", "pw"); err != nil {
		t.Fatalf("open: %v", err)
	}

	m, err := f.session.JoinByIdentifier(ctx, "lobby")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if m.Room().ID != "1" {
		t.Fatalf("expected first match room 1, got %s", m.Room().ID)
	}
	conn := f.transport.Last()
	if !conn.Subscribed("room.1.chat") || !conn.Subscribed("room.1.presence") {
		t.Fatalf("expected both channels subscribed")
	}
	if got := len(conn.PublishedOn("room.1.presence")); got != 1 {
		t.Fatalf("expected one presence announcement, got %d", got)
	}
	if st := f.session.Status(); len(st.Rooms) != 1 || st.Rooms[0].Name != "lobby" {
		t.Fatalf("unexpected status %+v", st)
	}

	if err := f.session.Leave(ctx, "1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if conn.Subscribed("room.1.chat") || conn.Subscribed("room.1.presence") {
		t.Fatalf("expected channels unsubscribed after leave")
	}
	if m.Context().Err() == nil {
		t.Fatalf("membership context must be cancelled after leave")
	}
	if len(f.session.Status().Rooms) != 0 {
		t.Fatalf("expected no rooms after leave")
	}
	if err := f.session.Leave(ctx, "1"); !errors.Is(err, core.ErrNotMember) {
		t.Fatalf("expected ErrNotMember on second leave, got %v", err)
	}
}

func TestLeaveIsLocalWhenUnsubscribeFails(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	if err := f.session.Open(ctx, "bot", "pw"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.session.JoinByIdentifier(ctx, "3"); err != nil {
		t.Fatalf("join: %v", err)
	}
	f.transport.Last().UnsubscribeErr = errors.New("broker gone")
	if err := f.session.Leave(ctx, "3"); err != nil {
		t.Fatalf("leave must succeed locally: %v", err)
	}
	if _, ok := f.session.MembershipContext("3"); ok {
		t.Fatalf("membership should be gone")
	}
}

func TestDoubleJoinReturnsSameMembership(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	if err := f.session.Open(ctx, "bot", "pw"); err != nil {
		t.Fatalf("open: %v", err)
	}
	first, err := f.session.JoinByIdentifier(ctx, "games")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	second, err := f.session.JoinByIdentifier(ctx, "3")
	if err != nil {
		t.Fatalf("second join: %v", err)
	}
	if first != second {
		t.Fatalf("expected the existing membership to be returned")
	}
	if len(f.session.Status().Rooms) != 1 {
		t.Fatalf("expected exactly one membership")
	}
}

func TestJoinUnknownRoom(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	if err := f.session.Open(ctx, "bot", "pw"); err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, id := range []string{"nowhere", "99"} {
		if _, err := f.session.JoinByIdentifier(ctx, id); !errors.Is(err, core.ErrRoomNotFound) {
			t.Fatalf("join %q: expected ErrRoomNotFound, got %v", id, err)
		}
	}
	if _, err := f.session.JoinByIdentifier(ctx, "  "); !errors.Is(err, core.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for blank identifier, got %v", err)
	}
}

func TestInboundEventsReachBus(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	if err := f.session.Open(ctx, "bot", "pw"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.session.JoinByIdentifier(ctx, "1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	conn := f.transport.Last()
	raw, _ := json.Marshal(proto.ChatPayload{Message: "hello bot", Sender: proto.Sender{ID: "u1", Username: "alice"}})
	if !conn.Deliver("room.1.chat", core.ChannelChat, raw) {
		t.Fatalf("deliver failed")
	}
	presence, _ := json.Marshal(proto.PresencePayload{Type: proto.PresenceJoin, UserID: "u1", Username: "alice"})
	conn.Deliver("room.1.presence", core.ChannelPresence, presence)

	waitFor(t, func() bool { return len(f.bus.History("1", 0)) == 2 }, "two messages in history")
	history := f.bus.History("1", 0)
	if history[0].Text != "hello bot" || history[0].Kind != core.MessageUser {
		t.Fatalf("unexpected first message %+v", history[0])
	}
	if history[1].Kind != core.MessageSystem {
		t.Fatalf("expected system notice, got %+v", history[1])
	}
}

func TestPublish(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	if err := f.session.Open(ctx, "bot", "pw"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := f.session.Publish(ctx, "1", "hi"); !errors.Is(err, core.ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
	if _, err := f.session.JoinByIdentifier(ctx, "1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := f.session.Publish(ctx, "1", "hi all"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	conn := f.transport.Last()
	sent := conn.PublishedOn("room.1.chat")
	if len(sent) != 1 {
		t.Fatalf("expected one chat publish, got %d", len(sent))
	}
	payload, err := proto.DecodeChat(sent[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Message != "hi all" || payload.Sender.ID != "acc-bot" || payload.ID == "" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	conn.SetPublishErr(errors.New("broker down"))
	if err := f.session.Publish(ctx, "1", "again"); !errors.Is(err, core.ErrPublishFailed) {
		t.Fatalf("expected ErrPublishFailed, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	if err := f.session.Open(ctx, "bot", "pw"); err != nil {
		t.Fatalf("open: %v", err)
	}
	m, err := f.session.JoinByIdentifier(ctx, "1")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	f.session.TryBeginResponse("m1")

	if err := f.session.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := f.session.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if f.session.State() != core.StateDisconnected {
		t.Fatalf("expected disconnected after close")
	}
	if m.Context().Err() == nil {
		t.Fatalf("membership context must be cancelled by close")
	}
	if f.session.InFlight() != 0 {
		t.Fatalf("in-flight set must be cleared")
	}
	select {
	case <-f.transport.Last().Done():
	default:
		t.Fatalf("connection must be closed")
	}
	if f.bus.IsManaged("acc-bot") {
		t.Fatalf("account should be unregistered")
	}
	if _, err := f.session.JoinByIdentifier(ctx, "1"); !errors.Is(err, core.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestCloseAnnouncesLeave(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	if err := f.session.Open(ctx, "bot", "pw"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.session.JoinByIdentifier(ctx, "1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	conn := f.transport.Last()
	if err := f.session.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sent := conn.PublishedOn("room.1.presence")
	if len(sent) != 2 {
		t.Fatalf("expected join and leave announcements, got %d", len(sent))
	}
	leave, err := proto.DecodePresence(sent[1])
	if err != nil {
		t.Fatalf("decode leave: %v", err)
	}
	if leave.Type != proto.PresenceLeave || leave.UserID != "acc-bot" {
		t.Fatalf("unexpected leave payload %+v", leave)
	}
	for _, u := range f.bus.Users("1") {
		if u.ID == "acc-bot" {
			t.Fatalf("closed session still listed in room users")
		}
	}
}

func TestReconnectResubscribesMemberships(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	if err := f.session.Open(ctx, "bot", "pw"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.session.JoinByIdentifier(ctx, "1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	first := f.transport.Last()
	f.transport.SetFailConnects(2)
	first.Drop()

	waitFor(t, func() bool {
		last := f.transport.Last()
		return f.session.State() == core.StateConnected && last != first && last.Subscribed("room.1.chat")
	}, "reconnect")
	if f.transport.Attempts() < 4 {
		t.Fatalf("expected retries before reconnecting, got %d attempts", f.transport.Attempts())
	}

	raw, _ := json.Marshal(proto.ChatPayload{Message: "still here?", Sender: proto.Sender{ID: "u1"}})
	f.transport.Last().Deliver("room.1.chat", core.ChannelChat, raw)
	waitFor(t, func() bool { return len(f.bus.History("1", 0)) == 1 }, "message after reconnect")
}

func TestDegradedSessionRecovers(t *testing.T) {
	f := newFixture(t, 3)
	if err := f.session.Open(context.Background(), "bot", "pw"); err != nil {
		t.Fatalf("open: %v", err)
	}
	waitFor(t, func() bool { return f.session.State() == core.StateConnected }, "recovery from degraded")
}

func TestInFlightTracking(t *testing.T) {
	f := newFixture(t, 0)
	s := f.session
	if !s.TryBeginResponse("m1") {
		t.Fatalf("first begin should succeed")
	}
	if s.TryBeginResponse("m1") {
		t.Fatalf("second begin must be rejected")
	}
	s.EndResponse("m1")
	if !s.TryBeginResponse("m1") {
		t.Fatalf("begin after end should succeed")
	}
}
