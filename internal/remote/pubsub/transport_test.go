package pubsub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-bots/internal/core"
	"github.com/vovakirdan/wirechat-bots/internal/log"
)

var lobby = core.RoomChannel(core.RoomInfo{ID: "1", Name: "lobby"})

func newMemoryTransport(t *testing.T, opts ...Option) *Transport {
	t.Helper()
	logger := log.Nop()
	backend := NewMemory(log.NewWatermillAdapter(logger))
	t.Cleanup(func() { _ = backend.Close() })
	return NewTransport(backend, logger, opts...)
}

func connect(t *testing.T, tr *Transport, id string) core.Conn {
	t.Helper()
	conn, err := tr.Connect(context.Background(), &core.Account{ID: id, Username: id, Token: "tok-" + id})
	if err != nil {
		t.Fatalf("connect %s: %v", id, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func receive(t *testing.T, stream <-chan core.RawEvent) core.RawEvent {
	t.Helper()
	select {
	case ev, ok := <-stream:
		if !ok {
			t.Fatalf("stream closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return core.RawEvent{}
}

func expectClosed(t *testing.T, stream <-chan core.RawEvent) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-stream:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("stream was not closed")
		}
	}
}

func TestPublishReachesEverySubscriber(t *testing.T) {
	tr := newMemoryTransport(t)
	alice := connect(t, tr, "alice")
	bob := connect(t, tr, "bob")

	aliceStream, err := alice.Subscribe(context.Background(), lobby, core.ChannelChat)
	if err != nil {
		t.Fatalf("subscribe alice: %v", err)
	}
	bobStream, err := bob.Subscribe(context.Background(), lobby, core.ChannelChat)
	if err != nil {
		t.Fatalf("subscribe bob: %v", err)
	}

	if err := alice.Publish(context.Background(), lobby, core.ChannelChat, []byte(`{"message":"hi"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, stream := range []<-chan core.RawEvent{aliceStream, bobStream} {
		ev := receive(t, stream)
		if ev.Kind != core.ChannelChat || string(ev.Payload) != `{"message":"hi"}` {
			t.Fatalf("unexpected event %+v", ev)
		}
	}
}

func TestChannelsAreIsolated(t *testing.T) {
	tr := newMemoryTransport(t)
	conn := connect(t, tr, "alice")

	presence, err := conn.Subscribe(context.Background(), lobby, core.ChannelPresence)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	other := core.RoomChannel(core.RoomInfo{ID: "2"})
	if err := conn.Publish(context.Background(), other, core.ChannelPresence, []byte(`{}`)); err != nil {
		t.Fatalf("publish other: %v", err)
	}
	if err := conn.Publish(context.Background(), lobby, core.ChannelChat, []byte(`{}`)); err != nil {
		t.Fatalf("publish chat: %v", err)
	}
	if err := conn.Publish(context.Background(), lobby, core.ChannelPresence, []byte(`{"type":"join"}`)); err != nil {
		t.Fatalf("publish presence: %v", err)
	}
	ev := receive(t, presence)
	if string(ev.Payload) != `{"type":"join"}` {
		t.Fatalf("expected only the lobby presence event, got %s", ev.Payload)
	}
}

func TestUnsubscribeAndCancelCloseStream(t *testing.T) {
	tr := newMemoryTransport(t)
	conn := connect(t, tr, "alice")

	stream, err := conn.Subscribe(context.Background(), lobby, core.ChannelChat)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := conn.Unsubscribe(lobby, core.ChannelChat); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	expectClosed(t, stream)
	if err := conn.Unsubscribe(lobby, core.ChannelChat); err != nil {
		t.Fatalf("second unsubscribe should be a no-op: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stream, err = conn.Subscribe(ctx, lobby, core.ChannelChat)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	expectClosed(t, stream)
}

func TestCloseEndsConnection(t *testing.T) {
	tr := newMemoryTransport(t)
	conn := connect(t, tr, "alice")
	stream, err := conn.Subscribe(context.Background(), lobby, core.ChannelChat)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-conn.Done():
	default:
		t.Fatalf("done should be closed")
	}
	expectClosed(t, stream)
	if err := conn.Publish(context.Background(), lobby, core.ChannelChat, nil); !errors.Is(err, ErrConnClosed) {
		t.Fatalf("expected ErrConnClosed, got %v", err)
	}
	if _, err := conn.Subscribe(context.Background(), lobby, core.ChannelChat); !errors.Is(err, ErrConnClosed) {
		t.Fatalf("expected ErrConnClosed, got %v", err)
	}
}

func TestTokenValidation(t *testing.T) {
	tr := newMemoryTransport(t, WithTokenValidator(func(token string) (string, error) {
		if token == "tok-alice" {
			return "alice", nil
		}
		return "", errors.New("bad token")
	}))

	if _, err := tr.Connect(context.Background(), &core.Account{ID: "alice", Token: "tok-alice"}); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if _, err := tr.Connect(context.Background(), &core.Account{ID: "alice", Token: "forged"}); !errors.Is(err, core.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
	if _, err := tr.Connect(context.Background(), &core.Account{ID: "mallory", Token: "tok-alice"}); !errors.Is(err, core.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed for mismatched account, got %v", err)
	}
}

type flakyBackend struct {
	*Memory
	down chan struct{}
}

func (b *flakyBackend) Healthy(context.Context) error {
	select {
	case <-b.down:
		return errors.New("broker down")
	default:
		return nil
	}
}

func TestProbeDropsConnectionWhenBrokerFails(t *testing.T) {
	logger := log.Nop()
	backend := &flakyBackend{Memory: NewMemory(log.NewWatermillAdapter(logger)), down: make(chan struct{})}
	defer backend.Close()
	tr := NewTransport(backend, logger, WithHealthInterval(10*time.Millisecond))

	conn, err := tr.Connect(context.Background(), &core.Account{ID: "alice"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	close(backend.down)
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("connection should drop when the broker fails")
	}
	if _, err := tr.Connect(context.Background(), &core.Account{ID: "alice"}); err == nil {
		t.Fatalf("connect should fail while the broker is down")
	}
}
