package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/taskhub/chat-service/internal/auth"
	"github.com/taskhub/chat-service/internal/message"
)

// Handler is the chat channel: it authenticates each new connection from the
// token carried in the handshake query string, registers it, runs the send
// pipeline for every inbound event, and fans persisted messages out to the
// sender's and receiver's live sessions.
type Handler struct {
	verifier *auth.Verifier
	registry *Registry
	svc      *message.Service
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewHandler(verifier *auth.Verifier, registry *Registry, svc *message.Service, allowedOrigins string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{
		verifier: verifier,
		registry: registry,
		svc:      svc,
		log:      log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed string) func(*http.Request) bool {
	allowed = strings.TrimSpace(allowed)
	if allowed == "" || allowed == "*" {
		return func(*http.Request) bool { return true }
	}
	origins := map[string]bool{}
	for _, o := range strings.Split(allowed, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origins[origin]
	}
}

// Serve upgrades the request and drives the connection until it closes.
func (h *Handler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	ident, err := h.verifier.Verify(c.Query("token"))
	if err != nil {
		code, reason := CloseInvalidCredential, "unauthorized: invalid credential"
		if errors.Is(err, auth.ErrMissingToken) {
			code, reason = CloseMissingCredential, "unauthorized: missing credential"
		}
		h.log.Info("websocket handshake refused", zap.Int("code", code), zap.Error(err))
		closeWith(conn, code, reason)
		return
	}

	cl := newClient(ident, conn, h.log)
	h.registry.Register(ident.ID, cl.key, cl)
	h.log.Info("websocket connected",
		zap.Int64("user_id", ident.ID), zap.String("role", string(ident.Role)))

	defer func() {
		h.registry.Deregister(ident.ID, cl.key)
		cl.Shutdown()
		h.log.Info("websocket disconnected", zap.Int64("user_id", ident.ID))
	}()

	go cl.writePump()
	cl.readPump(func(data []byte) {
		h.handleFrame(cl, data)
	})
}

// handleFrame runs one inbound event through the pipeline. Failures reject
// the message, never the connection.
func (h *Handler) handleFrame(cl *client, data []byte) {
	in, err := parseSendEvent(data)
	if err != nil {
		cl.TrySend(encodeError(reasonFor(err)))
		return
	}

	// Deliberately not tied to the connection's lifetime: an accepted
	// message completes persistence and stays deliverable to the other
	// party even if this connection dies mid-flight.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m, err := h.svc.Send(ctx, cl.identity, in)
	if err != nil {
		reason := reasonFor(err)
		if reason == ReasonSaveFailed {
			h.log.Error("message persistence failed",
				zap.Int64("user_id", cl.identity.ID), zap.Error(err))
		}
		cl.TrySend(encodeError(reason))
		return
	}

	// Authoritative id back to the originating connection first, so the
	// client can reconcile its optimistic record deterministically.
	cl.TrySend(encodeAck(m.ID))

	h.DeliverNewMessage(m)
}

// DeliverNewMessage pushes a persisted message to every live session of its
// sender and receiver. Both the socket path and the REST fallback fan out
// through here, so a receiver with an open connection sees the message no
// matter which transport carried it in.
func (h *Handler) DeliverNewMessage(m *message.Message) {
	payload := encodeNewMessage(m)
	h.registry.Push(m.SenderID, payload)
	if m.ReceiverID != m.SenderID {
		h.registry.Push(m.ReceiverID, payload)
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}
