// Package pubsub implements the real-time transport on a watermill broker.
// Room channels map to topics "room.<id>.<kind>".
package pubsub

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-bots/internal/core"
)

// TokenValidator checks an account token and returns the account id it was issued to.
type TokenValidator func(token string) (string, error)

// Transport opens connections on a shared broker.
type Transport struct {
	backend        Backend
	validate       TokenValidator
	healthInterval time.Duration
	log            *zerolog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithTokenValidator rejects connections whose token does not check out.
func WithTokenValidator(v TokenValidator) Option {
	return func(t *Transport) { t.validate = v }
}

// WithHealthInterval probes the broker periodically and drops connections
// when it becomes unreachable. Zero disables probing.
func WithHealthInterval(d time.Duration) Option {
	return func(t *Transport) { t.healthInterval = d }
}

// NewTransport builds a transport on backend.
func NewTransport(backend Backend, logger *zerolog.Logger, opts ...Option) *Transport {
	t := &Transport{backend: backend, log: logger}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect implements core.Transport.
func (t *Transport) Connect(ctx context.Context, account *core.Account) (core.Conn, error) {
	if account == nil {
		return nil, fmt.Errorf("%w: missing account", core.ErrAuthFailed)
	}
	if t.validate != nil {
		id, err := t.validate(account.Token)
		if err != nil {
			return nil, core.Wrap(core.ErrAuthFailed, err, "invalid transport token")
		}
		if id != account.ID {
			return nil, fmt.Errorf("%w: token issued to another account", core.ErrAuthFailed)
		}
	}
	if err := t.backend.Healthy(ctx); err != nil {
		return nil, fmt.Errorf("broker unreachable: %w", err)
	}

	c := &Conn{
		id:      uuid.NewString(),
		account: *account,
		backend: t.backend,
		subs:    make(map[string]*subscription),
		done:    make(chan struct{}),
	}
	c.log = t.log.With().Str("conn_id", c.id).Str("bot", account.Username).Logger()
	if t.healthInterval > 0 {
		go c.probe(t.healthInterval)
	}
	return c, nil
}
