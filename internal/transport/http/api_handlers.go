package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-bots/internal/core"
	"github.com/vovakirdan/wirechat-bots/internal/manager"
	"github.com/vovakirdan/wirechat-bots/internal/session"
)

// BotHandlers provides HTTP handlers for bot management endpoints.
type BotHandlers struct {
	manager *manager.Manager
	limiter *rateLimiter
	log     *zerolog.Logger
}

// NewBotHandlers creates a new bot handlers instance.
func NewBotHandlers(m *manager.Manager, limiter *rateLimiter, logger *zerolog.Logger) *BotHandlers {
	return &BotHandlers{
		manager: m,
		limiter: limiter,
		log:     logger,
	}
}

// CreateBotRequest represents the create bot request body.
type CreateBotRequest struct {
	Username string        `json:"username" binding:"required"`
	Password string        `json:"password" binding:"required"`
	Profile  *core.Profile `json:"profile,omitempty"`
}

// JoinRoomRequest represents the join room request body.
type JoinRoomRequest struct {
	// Identifier is a numeric room id or a room name to search for.
	Identifier string `json:"identifier" binding:"required"`
}

// SendMessageRequest represents the send message request body.
type SendMessageRequest struct {
	Text string `json:"text" binding:"required,max=4000"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

var statusByCode = map[string]int{
	core.ErrCodeAuthFailed:           http.StatusUnauthorized,
	core.ErrCodeTransportUnavailable: http.StatusServiceUnavailable,
	core.ErrCodeRoomNotFound:         http.StatusNotFound,
	core.ErrCodeNotMember:            http.StatusConflict,
	core.ErrCodePublishFailed:        http.StatusBadGateway,
	core.ErrCodeResponderFailed:      http.StatusBadGateway,
	core.ErrCodeSessionClosed:        http.StatusGone,
	core.ErrCodeSessionNotFound:      http.StatusNotFound,
	core.ErrCodeBadRequest:           http.StatusBadRequest,
}

// writeError maps a domain error to a status code and body.
func writeError(c *gin.Context, logger *zerolog.Logger, err error) {
	code := core.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: core.ErrCodeInternal})
		return
	}
	msg := err.Error()
	var ce *core.CoreError
	if errors.As(err, &ce) {
		msg = ce.Message
	}
	c.JSON(status, ErrorResponse{Error: msg, Code: code})
}

func (h *BotHandlers) session(c *gin.Context) (*session.Session, bool) {
	s, err := h.manager.Get(c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return nil, false
	}
	return s, true
}

// Create logs a new bot in.
// POST /api/bots
func (h *BotHandlers) Create(c *gin.Context) {
	var req CreateBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create bot request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: core.ErrCodeBadRequest})
		return
	}

	s, err := h.manager.Create(c.Request.Context(), req.Username, req.Password, req.Profile)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, s.Status())
}

// List returns every bot.
// GET /api/bots
func (h *BotHandlers) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.List())
}

// Get returns one bot.
// GET /api/bots/:id
func (h *BotHandlers) Get(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Status())
}

// Remove logs a bot out. Unknown ids succeed.
// DELETE /api/bots/:id
func (h *BotHandlers) Remove(c *gin.Context) {
	if err := h.manager.Remove(c.Param("id")); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateProfile replaces a bot's profile.
// PUT /api/bots/:id/profile
func (h *BotHandlers) UpdateProfile(c *gin.Context) {
	var p core.Profile
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: core.ErrCodeBadRequest})
		return
	}
	saved, err := h.manager.SetProfile(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

// SearchRooms looks rooms up by name as the bot.
// GET /api/bots/:id/rooms/search?q=&limit=
func (h *BotHandlers) SearchRooms(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 100 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit", Code: core.ErrCodeBadRequest})
		return
	}

	rooms, err := s.Search(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	out := make([]RoomResponse, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, roomResponse(r))
	}
	c.JSON(http.StatusOK, out)
}

// JoinRoom joins a room by id or name.
// POST /api/bots/:id/rooms
func (h *BotHandlers) JoinRoom(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: core.ErrCodeBadRequest})
		return
	}

	m, err := s.JoinByIdentifier(c.Request.Context(), req.Identifier)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	room := m.Room()
	c.JSON(http.StatusCreated, session.RoomStatus{ID: room.ID, Name: room.Name, JoinedAt: m.JoinedAt()})
}

// LeaveRoom leaves a room.
// DELETE /api/bots/:id/rooms/:roomID
func (h *BotHandlers) LeaveRoom(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Leave(c.Request.Context(), c.Param("roomID")); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SendMessage publishes a message as the bot.
// POST /api/bots/:id/rooms/:roomID/messages
func (h *BotHandlers) SendMessage(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: core.ErrCodeBadRequest})
		return
	}
	if !h.limiter.allow(s.ID()) {
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
		return
	}

	if err := s.Publish(c.Request.Context(), c.Param("roomID"), req.Text); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}
