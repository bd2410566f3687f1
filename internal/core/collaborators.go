package core

import "context"

// Account is an identity authenticated by the remote chat service.
type Account struct {
	ID       string
	Username string
	// Token is the credential presented to the real-time transport.
	Token string
}

// Authenticator verifies bot credentials.
type Authenticator interface {
	// Authenticate returns ErrAuthFailed (possibly wrapped) for bad credentials.
	Authenticate(ctx context.Context, username, password string) (*Account, error)
}

// Transport opens real-time connections for authenticated accounts.
type Transport interface {
	Connect(ctx context.Context, account *Account) (Conn, error)
}

// Conn is one real-time connection, multiplexing any number of room channels.
type Conn interface {
	// Subscribe starts delivery for a channel kind. The stream is closed after
	// Unsubscribe, Close, or connection loss.
	Subscribe(ctx context.Context, ch Channel, kind ChannelKind) (<-chan RawEvent, error)
	Publish(ctx context.Context, ch Channel, kind ChannelKind, payload []byte) error
	Unsubscribe(ch Channel, kind ChannelKind) error
	// Done is closed when the connection is lost or closed.
	Done() <-chan struct{}
	Close() error
}

// RoomDirectory resolves rooms on the remote chat service.
type RoomDirectory interface {
	// FetchByID returns ErrRoomNotFound (possibly wrapped) when the room does not exist.
	FetchByID(ctx context.Context, account *Account, id string) (*RoomInfo, error)
	SearchByName(ctx context.Context, account *Account, name string, limit int) ([]RoomInfo, error)
}

// ReplyRequest is everything a responder gets to produce a reply.
type ReplyRequest struct {
	Personality Personality
	History     []Message
	BotName     string
	Provider    Provider
}

// Responder generates reply text. It owns its own timeout policy.
type Responder interface {
	GenerateReply(ctx context.Context, req ReplyRequest) (string, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, req ReplyRequest) (string, error)

func (f ResponderFunc) GenerateReply(ctx context.Context, req ReplyRequest) (string, error) {
	return f(ctx, req)
}
