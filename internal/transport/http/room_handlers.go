package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-bots/internal/archive"
	"github.com/vovakirdan/wirechat-bots/internal/bus"
	"github.com/vovakirdan/wirechat-bots/internal/core"
)

// RoomHandlers provides HTTP handlers for shared room state.
type RoomHandlers struct {
	bus     *bus.Bus
	archive *archive.Archive
	log     *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(b *bus.Bus, a *archive.Archive, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		bus:     b,
		archive: a,
		log:     logger,
	}
}

// State returns the retained messages and present users of a room.
// GET /api/rooms/:roomID?limit=
func (h *RoomHandlers) State(c *gin.Context) {
	roomID := c.Param("roomID")
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit", Code: core.ErrCodeBadRequest})
		return
	}

	history := h.bus.History(roomID, limit)
	users := h.bus.Users(roomID)

	resp := RoomStateResponse{
		RoomID:   roomID,
		Messages: make([]MessageResponse, 0, len(history)),
		Users:    make([]UserResponse, 0, len(users)),
	}
	for _, m := range history {
		resp.Messages = append(resp.Messages, messageResponse(m))
	}
	for _, u := range users {
		resp.Users = append(resp.Users, UserResponse{ID: u.ID, Name: u.Name})
	}
	c.JSON(http.StatusOK, resp)
}

// Archive pages through persisted messages of a room, oldest first.
// GET /api/rooms/:roomID/archive?limit=&before=
func (h *RoomHandlers) Archive(c *gin.Context) {
	if h.archive == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "archive disabled"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit", Code: core.ErrCodeBadRequest})
		return
	}
	var before *int64
	if raw := c.Query("before"); raw != "" {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid before", Code: core.ErrCodeBadRequest})
			return
		}
		before = &seq
	}

	msgs, err := h.archive.List(c.Request.Context(), c.Param("roomID"), limit, before)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", c.Param("roomID")).Msg("failed to list archive")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: core.ErrCodeInternal})
		return
	}
	out := make([]ArchivedMessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, archivedResponse(m))
	}
	c.JSON(http.StatusOK, out)
}
