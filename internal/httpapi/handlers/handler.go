package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskhub/chat-service/internal/message"
)

// Delivery fans a persisted message out to the participants' live socket
// sessions. Implemented by the websocket channel; nil disables pushes.
type Delivery interface {
	DeliverNewMessage(m *message.Message)
}

type Handler struct {
	Svc      *message.Service
	Delivery Delivery
	Log      *zap.Logger
}

func NewHandler(svc *message.Service, delivery Delivery, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Svc: svc, Delivery: delivery, Log: log}
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "ok",
		"data":    data,
	})
}

func fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    nil,
	})
}

func (h *Handler) Ping(c *gin.Context) {
	ok(c, gin.H{"pong": true})
}
