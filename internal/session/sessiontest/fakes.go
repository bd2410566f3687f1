// Package sessiontest provides in-memory collaborators for session tests.
package sessiontest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/vovakirdan/wirechat-bots/internal/core"
)

// Auth accepts a fixed set of username/password pairs.
type Auth struct {
	mu    sync.Mutex
	users map[string]string
	Calls int
}

// NewAuth builds an Auth from username → password pairs.
func NewAuth(users map[string]string) *Auth {
	return &Auth{users: users}
}

func (a *Auth) Authenticate(_ context.Context, username, password string) (*core.Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Calls++
	if pw, ok := a.users[username]; !ok || pw != password {
		return nil, core.ErrAuthFailed
	}
	return &core.Account{ID: "acc-" + username, Username: username, Token: "tok-" + username}, nil
}

// Directory is a fixed list of rooms.
type Directory struct {
	Rooms []core.RoomInfo
}

func (d *Directory) FetchByID(_ context.Context, _ *core.Account, id string) (*core.RoomInfo, error) {
	for _, r := range d.Rooms {
		if r.ID == id {
			room := r
			return &room, nil
		}
	}
	return nil, core.ErrRoomNotFound
}

func (d *Directory) SearchByName(_ context.Context, _ *core.Account, name string, limit int) ([]core.RoomInfo, error) {
	var out []core.RoomInfo
	for _, r := range d.Rooms {
		if strings.Contains(strings.ToLower(r.Name), strings.ToLower(name)) {
			out = append(out, r)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// Transport hands out Conns. The first FailConnects attempts fail.
type Transport struct {
	mu           sync.Mutex
	FailConnects int
	conns        []*Conn
	attempts     int
}

// ErrConnectRefused is returned for scripted connect failures.
var ErrConnectRefused = errors.New("connect refused")

func (t *Transport) Connect(ctx context.Context, _ *core.Account) (core.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
	if t.FailConnects != 0 {
		if t.FailConnects > 0 {
			t.FailConnects--
		}
		return nil, ErrConnectRefused
	}
	c := NewConn()
	t.conns = append(t.conns, c)
	return c, nil
}

// SetFailConnects changes the scripted failure count; -1 fails forever.
func (t *Transport) SetFailConnects(n int) {
	t.mu.Lock()
	t.FailConnects = n
	t.mu.Unlock()
}

// Attempts returns how many times Connect was called.
func (t *Transport) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// Last returns the newest connection, or nil.
func (t *Transport) Last() *Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

// Published is one payload sent through a Conn.
type Published struct {
	Topic   string
	Payload []byte
}

type subscription struct {
	ch     chan core.RawEvent
	closed bool
}

// Conn records publishes and lets tests inject deliveries.
type Conn struct {
	mu             sync.Mutex
	subs           map[string]*subscription
	published      []Published
	done           chan struct{}
	closed         bool
	PublishErr     error
	UnsubscribeErr error
}

// NewConn returns an open connection.
func NewConn() *Conn {
	return &Conn{subs: make(map[string]*subscription), done: make(chan struct{})}
}

func (c *Conn) Subscribe(ctx context.Context, ch core.Channel, kind core.ChannelKind) (<-chan core.RawEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("connection closed")
	}
	topic := ch.Topic(kind)
	if old, ok := c.subs[topic]; ok {
		c.closeSub(old)
	}
	sub := &subscription{ch: make(chan core.RawEvent, 256)}
	c.subs[topic] = sub
	go func() {
		select {
		case <-ctx.Done():
		case <-c.done:
		}
		c.mu.Lock()
		c.closeSub(sub)
		if c.subs[topic] == sub {
			delete(c.subs, topic)
		}
		c.mu.Unlock()
	}()
	return sub.ch, nil
}

func (c *Conn) Publish(_ context.Context, ch core.Channel, kind core.ChannelKind, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	if c.PublishErr != nil {
		return c.PublishErr
	}
	c.published = append(c.published, Published{Topic: ch.Topic(kind), Payload: append([]byte(nil), payload...)})
	return nil
}

func (c *Conn) Unsubscribe(ch core.Channel, kind core.ChannelKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	topic := ch.Topic(kind)
	if sub, ok := c.subs[topic]; ok {
		c.closeSub(sub)
		delete(c.subs, topic)
	}
	return c.UnsubscribeErr
}

func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	for topic, sub := range c.subs {
		c.closeSub(sub)
		delete(c.subs, topic)
	}
	return nil
}

// Drop simulates a lost connection.
func (c *Conn) Drop() { _ = c.Close() }

// Deliver pushes a payload to the subscriber of topic. It reports false when
// nobody is subscribed.
func (c *Conn) Deliver(topic string, kind core.ChannelKind, payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[topic]
	if !ok || sub.closed {
		return false
	}
	sub.ch <- core.RawEvent{Kind: kind, Payload: payload}
	return true
}

// Subscribed reports whether topic has a live subscriber.
func (c *Conn) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[topic]
	return ok
}

// Published returns a copy of everything published so far.
func (c *Conn) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.published...)
}

// PublishedOn returns payloads published to topic.
func (c *Conn) PublishedOn(topic string) [][]byte {
	var out [][]byte
	for _, p := range c.Published() {
		if p.Topic == topic {
			out = append(out, p.Payload)
		}
	}
	return out
}

// SetPublishErr makes later publishes fail.
func (c *Conn) SetPublishErr(err error) {
	c.mu.Lock()
	c.PublishErr = err
	c.mu.Unlock()
}

func (c *Conn) closeSub(sub *subscription) {
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}
