package wirechat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-bots/internal/core"
	"github.com/vovakirdan/wirechat-bots/internal/proto"
)

// ErrConnClosed is returned for operations on a closed connection.
var ErrConnClosed = errors.New("connection closed")

type stream struct {
	kind    core.ChannelKind
	claimed bool
	in      chan core.RawEvent
	out     chan core.RawEvent
	stop    chan struct{}
}

// Conn is one bot's websocket to the wirechat server. Rooms are addressed by
// name on the wire.
type Conn struct {
	ws  *websocket.Conn
	log zerolog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	streams map[string]map[core.ChannelKind]*stream
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Connect implements core.Transport: dial, say hello, start reading.
func (c *Client) Connect(ctx context.Context, account *core.Account) (core.Conn, error) {
	if account == nil || account.Token == "" {
		return nil, fmt.Errorf("%w: missing token", core.ErrAuthFailed)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+account.Token)
	ws, _, err := websocket.Dial(ctx, c.cfg.WSURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.WSURL, err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	conn := &Conn{
		ws:      ws,
		log:     c.log.With().Str("bot", account.Username).Logger(),
		streams: make(map[string]map[core.ChannelKind]*stream),
		ctx:     cctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	hello := proto.HelloData{User: account.Username, Token: account.Token, Protocol: proto.ProtocolVersion}
	if err := conn.send(ctx, proto.InboundTypeHello, hello); err != nil {
		cancel()
		_ = ws.Close(websocket.StatusInternalError, "hello failed")
		return nil, fmt.Errorf("hello: %w", err)
	}

	go conn.readLoop()
	return conn, nil
}

// Subscribe implements core.Conn. The first subscription for a room sends a
// join and opens streams for every room channel at once, so events the server
// sends in reply to the join are buffered until their channel is subscribed.
func (c *Conn) Subscribe(ctx context.Context, ch core.Channel, kind core.ChannelKind) (<-chan core.RawEvent, error) {
	room := ch.Room.Name

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnClosed
	}
	kinds := c.streams[room]
	first := kinds == nil
	if first {
		kinds = make(map[core.ChannelKind]*stream)
		for _, k := range []core.ChannelKind{core.ChannelChat, core.ChannelPresence} {
			kinds[k] = c.openStream(k)
		}
		c.streams[room] = kinds
	}
	s := kinds[kind]
	if s == nil || s.claimed {
		if s != nil {
			close(s.stop)
		}
		s = c.openStream(kind)
		kinds[kind] = s
	}
	s.claimed = true
	c.mu.Unlock()

	if first {
		if err := c.send(ctx, proto.InboundTypeJoin, proto.JoinData{Room: room}); err != nil {
			_ = c.Unsubscribe(ch, kind)
			return nil, fmt.Errorf("join %s: %w", room, err)
		}
	}
	return s.out, nil
}

// openStream must be called with mu held.
func (c *Conn) openStream(kind core.ChannelKind) *stream {
	s := &stream{
		kind: kind,
		in:   make(chan core.RawEvent, 64),
		out:  make(chan core.RawEvent, 64),
		stop: make(chan struct{}),
	}
	go c.forward(s)
	return s
}

// Publish implements core.Conn. Presence is announced by the server itself
// on join and leave, so presence publishes are accepted and dropped.
func (c *Conn) Publish(ctx context.Context, ch core.Channel, kind core.ChannelKind, payload []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	if kind != core.ChannelChat {
		return nil
	}
	msg, err := proto.DecodeChat(payload)
	if err != nil {
		return err
	}
	return c.send(ctx, proto.InboundTypeMsg, proto.MsgData{Room: ch.Room.Name, Text: msg.Body()})
}

// Unsubscribe implements core.Conn. Dropping the last subscribed channel of a
// room sends a leave.
func (c *Conn) Unsubscribe(ch core.Channel, kind core.ChannelKind) error {
	room := ch.Room.Name

	c.mu.Lock()
	kinds := c.streams[room]
	s, ok := kinds[kind]
	if !ok || !s.claimed {
		c.mu.Unlock()
		return nil
	}
	delete(kinds, kind)
	close(s.stop)

	last := true
	for _, other := range kinds {
		if other.claimed {
			last = false
		}
	}
	if last {
		for _, other := range kinds {
			close(other.stop)
		}
		delete(c.streams, room)
	}
	closed := c.closed
	c.mu.Unlock()

	if !last || closed {
		return nil
	}
	return c.send(c.ctx, proto.InboundTypeLeave, proto.JoinData{Room: room})
}

// Done implements core.Conn.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close implements core.Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.ws.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		c.log.Debug().Err(err).Msg("close websocket")
	}
	c.cancel()
	<-c.done
	return nil
}

func (c *Conn) send(ctx context.Context, typ string, data any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsjson.Write(ctx, c.ws, proto.Inbound{Type: typ, Data: data})
}

// forward owns s.out and closes it once the stream is stopped.
func (c *Conn) forward(s *stream) {
	defer close(s.out)
	for {
		select {
		case <-s.stop:
			return
		case <-c.done:
			return
		case ev := <-s.in:
			select {
			case s.out <- ev:
			case <-s.stop:
				return
			case <-c.done:
				return
			}
		}
	}
}

func (c *Conn) readLoop() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		c.streams = make(map[string]map[core.ChannelKind]*stream)
		c.mu.Unlock()
		c.cancel()
		close(c.done)
	}()

	for {
		var out proto.Outbound
		if err := wsjson.Read(c.ctx, c.ws, &out); err != nil {
			if c.ctx.Err() == nil {
				c.log.Warn().Err(err).Msg("wirechat connection lost")
			}
			return
		}
		if out.Type == proto.OutboundTypeError {
			if out.Error != nil {
				c.log.Warn().Err(out.Error).Msg("wirechat error")
			}
			continue
		}
		c.route(out)
	}
}

// route turns a server event into a channel payload for the subscribed room.
func (c *Conn) route(out proto.Outbound) {
	var (
		room    string
		kind    core.ChannelKind
		payload any
	)
	switch out.Event {
	case proto.EventNameMessage:
		var ev proto.EventMessage
		if err := json.Unmarshal(out.Data, &ev); err != nil {
			c.log.Warn().Err(err).Msg("decode message event")
			return
		}
		room, kind = ev.Room, core.ChannelChat
		p := proto.ChatPayload{
			Message: ev.Text,
			Sender:  proto.Sender{ID: ev.User, Username: ev.User},
			TS:      ev.TS * 1000,
		}
		if ev.ID > 0 {
			p.ID = strconv.FormatInt(ev.ID, 10)
		}
		payload = p
	case proto.EventNameUserJoined:
		var ev proto.EventUserJoined
		if err := json.Unmarshal(out.Data, &ev); err != nil {
			c.log.Warn().Err(err).Msg("decode join event")
			return
		}
		room, kind = ev.Room, core.ChannelPresence
		payload = proto.PresencePayload{Type: proto.PresenceJoin, UserID: ev.User, Username: ev.User}
	case proto.EventNameUserLeft:
		var ev proto.EventUserLeft
		if err := json.Unmarshal(out.Data, &ev); err != nil {
			c.log.Warn().Err(err).Msg("decode leave event")
			return
		}
		room, kind = ev.Room, core.ChannelPresence
		payload = proto.PresencePayload{Type: proto.PresenceLeave, UserID: ev.User, Username: ev.User}
	default:
		return
	}

	c.mu.Lock()
	s := c.streams[room][kind]
	c.mu.Unlock()
	if s == nil {
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case s.in <- core.RawEvent{Kind: kind, Payload: raw}:
	case <-s.stop:
	case <-c.ctx.Done():
	}
}
