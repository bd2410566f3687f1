package http

import (
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-bots/internal/archive"
	"github.com/vovakirdan/wirechat-bots/internal/bus"
	"github.com/vovakirdan/wirechat-bots/internal/config"
	"github.com/vovakirdan/wirechat-bots/internal/manager"
)

// Deps are the services the control API exposes.
type Deps struct {
	Manager *manager.Manager
	Bus     *bus.Bus
	Archive *archive.Archive
	// Operators validates tokens when cfg.JWT.APIAuthRequired is set.
	Operators OperatorValidator
}

// NewServer builds the control API server.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	protected := router.Group("/")
	if cfg.JWT.APIAuthRequired && deps.Operators != nil {
		protected.Use(AuthMiddleware(deps.Operators, logger))
	}

	protected.GET("/ws", gin.WrapH(NewWSHandler(deps.Bus, logger)))

	bots := NewBotHandlers(deps.Manager, newRateLimiter(cfg.HTTP.SendRateLimit, time.Minute), logger)
	rooms := NewRoomHandlers(deps.Bus, deps.Archive, logger)

	api := protected.Group("/api")
	{
		api.POST("/bots", bots.Create)
		api.GET("/bots", bots.List)
		api.GET("/bots/:id", bots.Get)
		api.DELETE("/bots/:id", bots.Remove)
		api.PUT("/bots/:id/profile", bots.UpdateProfile)
		api.GET("/bots/:id/rooms/search", bots.SearchRooms)
		api.POST("/bots/:id/rooms", bots.JoinRoom)
		api.DELETE("/bots/:id/rooms/:roomID", bots.LeaveRoom)
		api.POST("/bots/:id/rooms/:roomID/messages", bots.SendMessage)

		api.GET("/rooms/:roomID", rooms.State)
		api.GET("/rooms/:roomID/archive", rooms.Archive)
	}

	return &stdhttp.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
