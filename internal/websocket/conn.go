package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"metachat/chat-relay/internal/relay"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	DefaultSendBuffer = 256
)

var (
	ErrConnClosed = errors.New("connection closed")
	ErrBufferFull = errors.New("connection send buffer full")
)

// EventHandler receives the lifecycle and inbound frames of a connection.
type EventHandler interface {
	Connect(conn relay.Connection)
	Dispatch(ctx context.Context, conn relay.Connection, data []byte)
	Disconnect(conn relay.Connection)
}

// Conn adapts a gorilla websocket to relay.Connection. Outbound frames go
// through a bounded buffer drained by a single writer goroutine.
type Conn struct {
	id      string
	ws      *websocket.Conn
	send    chan []byte
	closed  chan struct{}
	once    sync.Once
	handler EventHandler
	logger  *logrus.Logger
}

func NewConn(ws *websocket.Conn, handler EventHandler, logger *logrus.Logger, bufferSize int) *Conn {
	if bufferSize <= 0 {
		bufferSize = DefaultSendBuffer
	}
	return &Conn{
		id:      uuid.NewString(),
		ws:      ws,
		send:    make(chan []byte, bufferSize),
		closed:  make(chan struct{}),
		handler: handler,
		logger:  logger,
	}
}

func (c *Conn) ID() string { return c.id }

// Send queues data without blocking. A client that cannot keep up is
// disconnected.
func (c *Conn) Send(data []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		c.logger.WithField("connection_id", c.id).Warn("Send buffer full, closing connection")
		c.Close()
		return ErrBufferFull
	}
}

// Close marks the connection closed without touching the socket, so it never
// blocks the caller. The write pump sends the close frame and tears down the
// socket.
func (c *Conn) Close() {
	c.once.Do(func() { close(c.closed) })
}

// Serve runs the connection until the peer goes away or ctx is done. Inbound
// frames are dispatched one at a time in arrival order.
func (c *Conn) Serve(ctx context.Context) {
	c.handler.Connect(c)
	defer func() {
		c.handler.Disconnect(c)
		c.Close()
	}()

	go c.writePump()

	stop := context.AfterFunc(ctx, c.Close)
	defer stop()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.WithError(err).WithField("connection_id", c.id).Warn("Read error")
			}
			return
		}

		c.handler.Dispatch(ctx, c, data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.closed:
			return
		case message := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
