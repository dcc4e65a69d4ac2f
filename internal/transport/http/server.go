package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ieum-labs/roomsync/internal/auth"
	"github.com/ieum-labs/roomsync/internal/config"
	"github.com/ieum-labs/roomsync/internal/core"
	"github.com/ieum-labs/roomsync/internal/store"
)

// messagesPerMinute caps process-wide message sends. Zero disables.
const messagesPerMinute = 600

// NewServer builds the HTTP server: REST surface plus the WebSocket
// endpoint the dispatcher pushes through.
func NewServer(service *core.Service, authService *auth.Service, st store.Store, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	apiHandlers := NewAPIHandlers(authService, logger)
	roomHandlers := NewRoomHandlers(st, service, logger)

	limiter := newRateLimiter(messagesPerMinute)
	limiter.startReset(make(chan struct{}))
	messageHandlers := NewMessageHandlers(service, st, limiter, logger)

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	api := router.Group("/api")
	api.POST("/register", apiHandlers.Register)
	api.POST("/login", apiHandlers.Login)

	authed := api.Group("")
	authed.Use(AuthMiddleware(authService, logger))
	authed.POST("/rooms", roomHandlers.CreateRoom)
	authed.GET("/rooms", roomHandlers.ListRooms)
	authed.GET("/rooms/:id", roomHandlers.GetRoom)
	authed.POST("/rooms/:id/participants", roomHandlers.AddParticipant)
	authed.GET("/rooms/:id/messages", roomHandlers.History)
	authed.POST("/messages", messageHandlers.SendMessage)
	authed.DELETE("/messages/:id", messageHandlers.DeleteMessage)

	// The WebSocket handler hijacks the connection, which gin's
	// ResponseWriter does not support. Mount it on the outer mux.
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(service, authService, logger))
	mux.Handle("/", router)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
