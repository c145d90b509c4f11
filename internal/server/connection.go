package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	sendBuffer = 256
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// Connection is one websocket client acting as a single identity.
type Connection struct {
	conn      *websocket.Conn
	send      chan *Message
	identity  string
	server    *Server
	logger    zerolog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu      sync.RWMutex
	watched map[uint64]bool
}

func newConnection(parent context.Context, conn *websocket.Conn, identity string, s *Server) *Connection {
	ctx, cancel := context.WithCancel(parent)
	return &Connection{
		conn:     conn,
		send:     make(chan *Message, sendBuffer),
		identity: identity,
		server:   s,
		logger:   s.logger.With().Str("identity", identity).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		watched:  make(map[uint64]bool),
	}
}

// Identity returns the identity the connection acts as.
func (c *Connection) Identity() string { return c.identity }

func (c *Connection) start() {
	go c.writePump()
	go c.readPump()
}

// Close stops both pumps. The write pump sends the close frame.
func (c *Connection) Close() {
	c.closeOnce.Do(c.cancel)
}

// Send queues msg for the client. A client that cannot keep up is
// disconnected.
func (c *Connection) Send(msg *Message) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		c.logger.Warn().Msg("Connection send buffer full, closing connection")
		c.Close()
		return ErrSendBufferFull
	}
}

func (c *Connection) watch(session uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watched[session] = true
}

func (c *Connection) unwatch(session uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.watched, session)
}

// Watching reports whether signals for session are pushed to c.
func (c *Connection) Watching(session uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.watched[session]
}

func (c *Connection) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error().Err(err).Msg("WebSocket error")
			}
			return
		}
		c.server.handle(c, &msg)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Error().Err(err).Msg("Failed to write message")
				c.Close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
