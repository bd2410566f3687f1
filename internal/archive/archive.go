// Package archive persists accepted room messages.
package archive

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-bots/internal/core"
	"github.com/vovakirdan/wirechat-bots/internal/store"
)

const saveTimeout = 5 * time.Second

// Archive is a bus observer writing every accepted message to a MessageStore.
type Archive struct {
	core.BaseObserver
	store store.MessageStore
	log   *zerolog.Logger
}

// New creates an archive observer.
func New(messages store.MessageStore, logger *zerolog.Logger) *Archive {
	return &Archive{store: messages, log: logger}
}

// OnMessage persists msg. Failures are logged and dropped.
func (a *Archive) OnMessage(msg core.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	err := a.store.SaveMessage(ctx, &store.ArchivedMessage{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		AuthorID:  msg.AuthorID,
		Author:    msg.Author,
		Text:      msg.Text,
		Kind:      msg.Kind.String(),
		CreatedAt: msg.Timestamp,
	})
	if err != nil {
		a.log.Error().Err(err).Str("room_id", msg.RoomID).Str("message_id", msg.ID).Msg("archive message failed")
	}
}

// List returns archived messages of a room, oldest first.
func (a *Archive) List(ctx context.Context, roomID string, limit int, beforeSeq *int64) ([]*store.ArchivedMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return a.store.ListMessages(ctx, roomID, limit, beforeSeq)
}
