package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskhub/chat-service/internal/auth"
	"github.com/taskhub/chat-service/internal/httpapi/handlers"
	"github.com/taskhub/chat-service/internal/httpapi/middleware"
	"github.com/taskhub/chat-service/internal/message"
	"github.com/taskhub/chat-service/internal/ws"
)

// NewRouter assembles the HTTP surface: the pull-sync and receipt endpoints
// under /api, and the websocket chat channel at /ws.
func NewRouter(svc *message.Service, verifier *auth.Verifier, channel *ws.Handler, allowedOrigins string, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(log))
	r.Use(corsMiddleware(allowedOrigins))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": 40400, "message": "route not found", "data": nil})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"code": 40500, "message": "method not allowed", "data": nil})
	})

	h := handlers.NewHandler(svc, channel, log)

	r.GET("/ping", h.Ping)
	r.GET("/ws", channel.Serve)

	api := r.Group("/api")
	api.Use(middleware.AuthRequired(verifier))

	api.GET("/messages/with/:peer", h.History)
	api.GET("/messages/threads", h.Threads)
	api.GET("/messages/unread/count", h.UnreadCount)
	api.POST("/messages", h.Send)
	api.POST("/messages/read", h.MarkRead)
	api.POST("/messages/read-all", h.MarkAllRead)

	return r
}

func corsMiddleware(allowed string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowCredentials = true
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}

	allowed = strings.TrimSpace(allowed)
	if allowed == "" || allowed == "*" {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		for _, origin := range strings.Split(allowed, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowOrigins = append(cfg.AllowOrigins, origin)
			}
		}
	}
	return cors.New(cfg)
}
