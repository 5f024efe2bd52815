package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskhub/chat-service/internal/httpapi/middleware"
	"github.com/taskhub/chat-service/internal/message"
)

// History is the pull-sync read: the full ordered message list between the
// caller and :peer, ascending by creation time. Clients use it for initial
// load and to reconcile pushes missed while disconnected.
func (h *Handler) History(c *gin.Context) {
	ident, okk := middleware.IdentityFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	peerID, err := strconv.ParseInt(c.Param("peer"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid peer id")
		return
	}

	msgs, err := h.Svc.History(c.Request.Context(), ident, peerID)
	if err != nil {
		h.Log.Error("history query failed", zap.Int64("user_id", ident.ID), zap.Error(err))
		fail(c, http.StatusInternalServerError, 50001, "failed to fetch messages")
		return
	}

	ok(c, gin.H{"messages": msgs})
}

type sendMessageReq struct {
	ReceiverID int64  `json:"receiver_id" binding:"required"`
	Content    string `json:"content" binding:"required"`
}

// Send is the REST fallback for the socket channel; it runs the exact same
// pipeline, so limits and error reasons stay consistent across both paths.
func (h *Handler) Send(c *gin.Context) {
	ident, okk := middleware.IdentityFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10002, "invalid json")
		return
	}

	m, err := h.Svc.Send(c.Request.Context(), ident, message.SendInput{
		SenderID:   ident.ID,
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
	})
	if err != nil {
		switch {
		case errors.Is(err, message.ErrEmptyContent):
			fail(c, http.StatusBadRequest, 10003, "Message content is empty")
		case errors.Is(err, message.ErrContentTooLong):
			fail(c, http.StatusBadRequest, 10004, "Message too long")
		case errors.Is(err, message.ErrReceiverNotFound):
			fail(c, http.StatusNotFound, 40401, "Receiver does not exist")
		default:
			h.Log.Error("message persistence failed", zap.Int64("user_id", ident.ID), zap.Error(err))
			fail(c, http.StatusInternalServerError, 50002, "Failed to save message")
		}
		return
	}

	// Same fan-out as the socket path: live sessions of both participants
	// get the push; the HTTP response carries the canonical row.
	if h.Delivery != nil {
		h.Delivery.DeliverNewMessage(m)
	}

	ok(c, gin.H{"message": m})
}

// UnreadCount returns the caller's count of unread received messages.
func (h *Handler) UnreadCount(c *gin.Context) {
	ident, okk := middleware.IdentityFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	n, err := h.Svc.UnreadCount(c.Request.Context(), ident)
	if err != nil {
		h.Log.Error("unread count failed", zap.Int64("user_id", ident.ID), zap.Error(err))
		fail(c, http.StatusInternalServerError, 50003, "failed to count unread messages")
		return
	}

	ok(c, gin.H{"count": n})
}

type markReadReq struct {
	MessageID int64 `json:"message_id" binding:"required"`
}

// MarkRead flips one received message to read.
func (h *Handler) MarkRead(c *gin.Context) {
	ident, okk := middleware.IdentityFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req markReadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10002, "invalid json")
		return
	}

	m, err := h.Svc.MarkRead(c.Request.Context(), ident, req.MessageID)
	if err != nil {
		switch {
		case errors.Is(err, message.ErrMessageNotFound):
			fail(c, http.StatusNotFound, 40402, "message not found")
		case errors.Is(err, message.ErrNotReceiver):
			fail(c, http.StatusForbidden, 40302, "you can only mark messages sent to you as read")
		default:
			h.Log.Error("mark read failed", zap.Int64("message_id", req.MessageID), zap.Error(err))
			fail(c, http.StatusInternalServerError, 50004, "failed to mark message as read")
		}
		return
	}

	ok(c, gin.H{"message": m})
}

type markAllReadReq struct {
	SenderID int64 `json:"sender_id" binding:"required"`
}

// MarkAllRead flips every unread message from sender_id to the caller.
func (h *Handler) MarkAllRead(c *gin.Context) {
	ident, okk := middleware.IdentityFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req markAllReadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10002, "invalid json")
		return
	}

	n, err := h.Svc.MarkAllRead(c.Request.Context(), ident, req.SenderID)
	if err != nil {
		h.Log.Error("mark all read failed", zap.Int64("sender_id", req.SenderID), zap.Error(err))
		fail(c, http.StatusInternalServerError, 50005, "failed to mark messages as read")
		return
	}

	ok(c, gin.H{"updated": n})
}

// Threads returns the caller's conversation overview: one entry per
// counterpart with the last message and unread count.
func (h *Handler) Threads(c *gin.Context) {
	ident, okk := middleware.IdentityFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	threads, err := h.Svc.Threads(c.Request.Context(), ident)
	if err != nil {
		h.Log.Error("threads query failed", zap.Int64("user_id", ident.ID), zap.Error(err))
		fail(c, http.StatusInternalServerError, 50006, "failed to fetch message threads")
		return
	}

	ok(c, gin.H{"threads": threads})
}
