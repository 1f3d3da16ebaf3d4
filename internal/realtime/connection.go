// Package realtime owns the websocket transport: per-connection write pumps
// and the hub that maps logical users and chat rooms onto live connections.
// The chat core only ever sees opaque connection ids through the hub's
// Registry and Dispatcher ports, never a socket.
package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second

	// Outbound buffer per connection. A client that cannot drain this many
	// frames is closed rather than allowed to stall fan-out for everyone.
	sendBuffer = 128
)

var errConnClosed = errors.New("connection closed")

// Connection wraps a websocket and serializes outbound writes through a
// buffered channel. Safe for concurrent use.
type Connection struct {
	ID     string
	UserID string

	ws      *websocket.Conn
	send    chan []byte
	once    sync.Once
	closing chan struct{}
}

// NewConnection constructs a Connection for the given user with a fresh
// connection id.
func NewConnection(userID string, ws *websocket.Conn) *Connection {
	return &Connection{
		ID:      uuid.NewString(),
		UserID:  userID,
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		closing: make(chan struct{}),
	}
}

// Start launches the write pump. Call exactly once per connection.
func (c *Connection) Start() {
	go c.writePump()
}

// Send enqueues the payload for delivery without blocking the caller. A full
// buffer closes the connection: the client will reconnect and catch up by
// pulling, which is cheaper than unbounded queueing.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.closing:
		return errConnClosed
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errConnClosed
	}
}

// Close terminates the connection and stops the write pump. Subsequent calls
// are no-ops.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.closing)
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closing:
			return
		case payload := <-c.send:
			if err := c.write(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
