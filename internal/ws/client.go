package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/taskhub/chat-service/internal/auth"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	maxFrameBytes = 16 * 1024
	sendBuffer    = 64
)

// client owns one authenticated connection: a read loop feeding the event
// handler in arrival order, and a write pump draining the outbound buffer.
type client struct {
	key      uuid.UUID
	identity auth.Identity
	conn     *websocket.Conn
	send     chan []byte
	closed   chan struct{}
	once     sync.Once
	log      *zap.Logger
}

func newClient(ident auth.Identity, conn *websocket.Conn, log *zap.Logger) *client {
	return &client{
		key:      uuid.New(),
		identity: ident,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		closed:   make(chan struct{}),
		log:      log,
	}
}

// TrySend queues a payload without blocking. A full buffer or a closed
// connection reports false, which the registry treats as a dead connection.
func (c *client) TrySend(payload []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	case <-c.closed:
		return false
	default:
		return false
	}
}

// Shutdown closes the connection and unblocks both pumps. Safe to call from
// any goroutine, any number of times.
func (c *client) Shutdown() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// readPump delivers inbound frames to handle one at a time, preserving the
// connection's send order. Returns when the transport dies.
func (c *client) readPump(handle func(data []byte)) {
	defer c.Shutdown()

	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("websocket read failed",
					zap.Int64("user_id", c.identity.ID), zap.Error(err))
			}
			return
		}
		handle(data)
	}
}

// writePump is the connection's only writer after the handshake.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
