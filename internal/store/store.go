package store

import (
	"context"
	"errors"
	"time"

	"github.com/vovakirdan/wirechat-bots/internal/core"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("not found")

// Account is a local identity a bot can log in with.
type Account struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Room is a room known to the local directory.
type Room struct {
	ID          int64
	Name        string
	Description string
	Privacy     string
	CreatedAt   time.Time
}

// ArchivedMessage is a room message persisted by the archive.
type ArchivedMessage struct {
	Seq       int64
	ID        string
	RoomID    string
	AuthorID  string
	Author    string
	Text      string
	Kind      string
	CreatedAt time.Time
}

// AccountStore handles local account persistence.
type AccountStore interface {
	// CreateAccount creates a new account with a hashed password.
	CreateAccount(ctx context.Context, username, passwordHash string) (*Account, error)

	// GetAccountByID retrieves an account by ID.
	GetAccountByID(ctx context.Context, id int64) (*Account, error)

	// GetAccountByUsername retrieves an account by username.
	GetAccountByUsername(ctx context.Context, username string) (*Account, error)
}

// RoomStore handles room persistence.
type RoomStore interface {
	// CreateRoom creates a new room.
	CreateRoom(ctx context.Context, name, description, privacy string) (*Room, error)

	// GetRoomByID retrieves a room by ID.
	GetRoomByID(ctx context.Context, id int64) (*Room, error)

	// SearchRooms returns rooms whose name contains query, oldest first.
	SearchRooms(ctx context.Context, query string, limit int) ([]*Room, error)
}

// ProfileStore handles bot profile persistence.
type ProfileStore interface {
	// GetProfile returns nil, nil when no profile is stored for username.
	GetProfile(ctx context.Context, username string) (*core.Profile, error)

	// SaveProfile inserts or replaces the profile of username.
	SaveProfile(ctx context.Context, username string, p core.Profile) error
}

// MessageStore handles archived messages.
type MessageStore interface {
	// SaveMessage persists a message. Saving the same message id twice is a no-op.
	SaveMessage(ctx context.Context, msg *ArchivedMessage) error

	// ListMessages returns up to limit messages of a room, oldest first.
	// If beforeSeq is provided, only messages older than it are returned.
	ListMessages(ctx context.Context, roomID string, limit int, beforeSeq *int64) ([]*ArchivedMessage, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	AccountStore
	RoomStore
	ProfileStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
