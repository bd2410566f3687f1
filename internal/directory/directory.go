// Package directory resolves rooms from the local store.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vovakirdan/wirechat-bots/internal/core"
	"github.com/vovakirdan/wirechat-bots/internal/store"
)

// Directory implements core.RoomDirectory over a store.RoomStore.
// Every account sees every room.
type Directory struct {
	rooms store.RoomStore
}

var _ core.RoomDirectory = (*Directory)(nil)

// New creates a store-backed room directory.
func New(rooms store.RoomStore) *Directory {
	return &Directory{rooms: rooms}
}

// FetchByID returns the room with the given numeric id.
func (d *Directory) FetchByID(ctx context.Context, _ *core.Account, id string) (*core.RoomInfo, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return nil, core.Wrap(core.ErrRoomNotFound, nil, fmt.Sprintf("room %q not found", id))
	}

	room, err := d.rooms.GetRoomByID(ctx, n)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.Wrap(core.ErrRoomNotFound, nil, fmt.Sprintf("room %q not found", id))
		}
		return nil, fmt.Errorf("fetch room: %w", err)
	}

	info := toInfo(room)
	return &info, nil
}

// SearchByName returns rooms whose name contains name, oldest first.
func (d *Directory) SearchByName(ctx context.Context, _ *core.Account, name string, limit int) ([]core.RoomInfo, error) {
	rooms, err := d.rooms.SearchRooms(ctx, strings.TrimSpace(name), limit)
	if err != nil {
		return nil, fmt.Errorf("search rooms: %w", err)
	}

	out := make([]core.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, toInfo(r))
	}
	return out, nil
}

func toInfo(r *store.Room) core.RoomInfo {
	return core.RoomInfo{
		ID:          strconv.FormatInt(r.ID, 10),
		Name:        r.Name,
		Description: r.Description,
		Privacy:     r.Privacy,
	}
}
