package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/wirechat-bots/internal/core"
	"github.com/vovakirdan/wirechat-bots/internal/store"
)

//go:embed schema.sql
var schema string

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// New opens (creating if needed) the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, nil)
}

// NewWithSetup is New followed by a caller setup function, e.g. seeding in tests.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== AccountStore implementation ====

// CreateAccount creates a new account with a hashed password.
func (s *SQLiteStore) CreateAccount(ctx context.Context, username, passwordHash string) (*store.Account, error) {
	query := `
		INSERT INTO accounts (username, password_hash)
		VALUES (?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, username, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetAccountByID(ctx, id)
}

// GetAccountByID retrieves an account by ID.
func (s *SQLiteStore) GetAccountByID(ctx context.Context, id int64) (*store.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at
		FROM accounts
		WHERE id = ?
	`, id))
}

// GetAccountByUsername retrieves an account by username.
func (s *SQLiteStore) GetAccountByUsername(ctx context.Context, username string) (*store.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at
		FROM accounts
		WHERE username = ?
	`, username))
}

func (s *SQLiteStore) scanAccount(row *sql.Row) (*store.Account, error) {
	var acc store.Account
	err := row.Scan(&acc.ID, &acc.Username, &acc.PasswordHash, &acc.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query account: %w", err)
	}
	return &acc, nil
}

// ==== RoomStore implementation ====

// CreateRoom creates a new room.
func (s *SQLiteStore) CreateRoom(ctx context.Context, name, description, privacy string) (*store.Room, error) {
	if privacy == "" {
		privacy = "public"
	}
	query := `
		INSERT INTO rooms (name, description, privacy)
		VALUES (?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, name, description, privacy)
	if err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetRoomByID(ctx, id)
}

// GetRoomByID retrieves a room by ID.
func (s *SQLiteStore) GetRoomByID(ctx context.Context, id int64) (*store.Room, error) {
	query := `
		SELECT id, name, description, privacy, created_at
		FROM rooms
		WHERE id = ?
	`
	var room store.Room
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&room.ID,
		&room.Name,
		&room.Description,
		&room.Privacy,
		&room.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("room: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query room: %w", err)
	}
	return &room, nil
}

// SearchRooms returns rooms whose name contains query, oldest first.
func (s *SQLiteStore) SearchRooms(ctx context.Context, query string, limit int) ([]*store.Room, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, privacy, created_at
		FROM rooms
		WHERE name LIKE ?
		ORDER BY id ASC
		LIMIT ?
	`, "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*store.Room
	for rows.Next() {
		var room store.Room
		if err := rows.Scan(&room.ID, &room.Name, &room.Description, &room.Privacy, &room.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, &room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	return rooms, nil
}

// ==== ProfileStore implementation ====

// GetProfile returns nil, nil when no profile is stored for username.
func (s *SQLiteStore) GetProfile(ctx context.Context, username string) (*core.Profile, error) {
	query := `
		SELECT display_name, personality, provider, auto_reply
		FROM bot_profiles
		WHERE username = ?
	`
	var (
		p           core.Profile
		personality string
		provider    string
	)
	err := s.db.QueryRowContext(ctx, query, username).Scan(&p.Name, &personality, &provider, &p.AutoReply)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query profile: %w", err)
	}
	if err := json.Unmarshal([]byte(personality), &p.Personality); err != nil {
		return nil, fmt.Errorf("decode personality: %w", err)
	}
	p.Provider = core.Provider(provider)
	return &p, nil
}

// SaveProfile inserts or replaces the profile of username.
func (s *SQLiteStore) SaveProfile(ctx context.Context, username string, p core.Profile) error {
	personality, err := json.Marshal(p.Personality)
	if err != nil {
		return fmt.Errorf("encode personality: %w", err)
	}
	query := `
		INSERT INTO bot_profiles (username, display_name, personality, provider, auto_reply, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			display_name = excluded.display_name,
			personality  = excluded.personality,
			provider     = excluded.provider,
			auto_reply   = excluded.auto_reply,
			updated_at   = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query, username, p.Name, string(personality), string(p.Provider), p.AutoReply, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// ==== MessageStore implementation ====

// SaveMessage persists a message. Saving the same message id twice is a no-op.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.ArchivedMessage) error {
	query := `
		INSERT OR IGNORE INTO messages (id, room_id, author_id, author, text, kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, msg.ID, msg.RoomID, msg.AuthorID, msg.Author, msg.Text, msg.Kind, msg.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	msg.Seq = seq
	return nil
}

// ListMessages returns up to limit messages of a room, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID string, limit int, beforeSeq *int64) ([]*store.ArchivedMessage, error) {
	var query string
	var args []any

	if beforeSeq != nil {
		query = `
			SELECT seq, id, room_id, author_id, author, text, kind, created_at
			FROM messages
			WHERE room_id = ? AND seq < ?
			ORDER BY seq DESC
			LIMIT ?
		`
		args = []any{roomID, *beforeSeq, limit}
	} else {
		query = `
			SELECT seq, id, room_id, author_id, author, text, kind, created_at
			FROM messages
			WHERE room_id = ?
			ORDER BY seq DESC
			LIMIT ?
		`
		args = []any{roomID, limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.ArchivedMessage
	for rows.Next() {
		var m store.ArchivedMessage
		if err := rows.Scan(&m.Seq, &m.ID, &m.RoomID, &m.AuthorID, &m.Author, &m.Text, &m.Kind, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Reverse to chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
