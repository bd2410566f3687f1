package pubsub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-bots/internal/core"
)

// ErrConnClosed is returned for operations on a closed connection.
var ErrConnClosed = errors.New("connection closed")

type subscription struct {
	cancel   context.CancelFunc
	finished chan struct{}
	cleanup  func() error
}

// Conn is one bot's connection to the broker.
type Conn struct {
	id      string
	account core.Account
	backend Backend
	log     zerolog.Logger

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
	done   chan struct{}
}

// Subscribe implements core.Conn. Subscribing an already subscribed channel
// replaces the previous stream.
func (c *Conn) Subscribe(ctx context.Context, ch core.Channel, kind core.ChannelKind) (<-chan core.RawEvent, error) {
	topic := ch.Topic(kind)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnClosed
	}
	old := c.subs[topic]
	delete(c.subs, topic)
	c.mu.Unlock()
	if old != nil {
		_ = old.stop()
	}

	sctx, cancel := context.WithCancel(ctx)
	sub, cleanup, err := c.backend.NewSubscriber(sctx, topic, c.id)
	if err != nil {
		cancel()
		return nil, err
	}
	messages, err := sub.Subscribe(sctx, topic)
	if err != nil {
		cancel()
		_ = cleanup()
		return nil, err
	}

	s := &subscription{cancel: cancel, finished: make(chan struct{}), cleanup: cleanup}
	out := make(chan core.RawEvent, 64)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		_ = cleanup()
		return nil, ErrConnClosed
	}
	c.subs[topic] = s
	c.mu.Unlock()

	go c.forward(sctx, s, kind, messages, out)
	return out, nil
}

func (c *Conn) forward(ctx context.Context, s *subscription, kind core.ChannelKind, in <-chan *message.Message, out chan<- core.RawEvent) {
	defer close(s.finished)
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			payload := append([]byte(nil), msg.Payload...)
			msg.Ack()
			select {
			case out <- core.RawEvent{Kind: kind, Payload: payload}:
			case <-ctx.Done():
				return
			case <-c.done:
				return
			}
		}
	}
}

// Publish implements core.Conn.
func (c *Conn) Publish(ctx context.Context, ch core.Channel, kind core.ChannelKind, payload []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("sender", c.account.ID)
	msg.SetContext(ctx)
	return c.backend.Publisher().Publish(ch.Topic(kind), msg)
}

// Unsubscribe implements core.Conn.
func (c *Conn) Unsubscribe(ch core.Channel, kind core.ChannelKind) error {
	topic := ch.Topic(kind)
	c.mu.Lock()
	s, ok := c.subs[topic]
	delete(c.subs, topic)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return s.stop()
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
	subs := c.subs
	c.subs = make(map[string]*subscription)
	close(c.done)
	c.mu.Unlock()

	var errs []error
	for _, s := range subs {
		errs = append(errs, s.stop())
	}
	return errors.Join(errs...)
}

// probe closes the connection when the broker stops answering.
func (c *Conn) probe(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := c.backend.Healthy(ctx)
			cancel()
			if err != nil {
				c.log.Warn().Err(err).Msg("broker unreachable, dropping connection")
				_ = c.Close()
				return
			}
		}
	}
}

func (s *subscription) stop() error {
	s.cancel()
	<-s.finished
	return s.cleanup()
}
