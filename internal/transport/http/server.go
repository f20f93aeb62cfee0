package http

import (
	"fmt"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/greenroom-app/greenroom-server/internal/auth"
	"github.com/greenroom-app/greenroom-server/internal/config"
	"github.com/greenroom-app/greenroom-server/internal/core"
	"github.com/greenroom-app/greenroom-server/internal/hub"
	"github.com/greenroom-app/greenroom-server/internal/notify"
)

// Deps bundles everything the HTTP layer routes to.
type Deps struct {
	Auth      *auth.Service
	Directory *core.Directory
	Rooms     *core.Rooms
	Bus       notify.Bus
	Hub       *hub.Hub
}

// NewServer builds the HTTP server with all routes wired.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	apiHandlers := NewAPIHandlers(deps.Auth, logger)
	roomHandlers := NewRoomHandlers(deps.Directory, deps.Rooms, logger)
	wsHandler := NewWSHandler(deps.Auth, deps.Rooms, deps.Bus, deps.Hub, cfg.SwapTimeout, logger)

	limiter := newRateLimiter(cfg.AuthRateLimit)
	authGroup := router.Group("/api/auth", RateLimitMiddleware(limiter))
	authGroup.POST("/register", apiHandlers.Register)
	authGroup.POST("/login", apiHandlers.Login)
	authGroup.POST("/guest", apiHandlers.GuestLogin)

	protected := router.Group("/api", AuthMiddleware(deps.Auth, logger))
	protected.POST("/rooms", roomHandlers.CreateRoom)
	protected.POST("/rooms/join", roomHandlers.JoinRoom)
	protected.POST("/rooms/leave", roomHandlers.LeaveRoom)
	protected.GET("/rooms/:id/members", roomHandlers.Members)
	protected.GET("/characters", roomHandlers.Characters)

	router.GET("/ws", wsHandler.Handle)

	srv := &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	stop := make(chan struct{})
	limiter.startReset(stop)
	srv.RegisterOnShutdown(func() { close(stop) })

	return srv
}

func healthHandler(c *gin.Context) {
	fmt.Fprint(c.Writer, "ok")
}
