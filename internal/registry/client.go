package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the subset of *websocket.Conn the registry drives. Tests swap
// in a fake; production always passes the gorilla connection.
type Transport interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Session is the authenticated identity bound to a connection.
type Session struct {
	UserID string
}

// Client is one live connection. The registry owns its lifecycle; everyone
// else talks to it through the registry by id or user id.
type Client struct {
	id   string
	conn Transport

	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}

	session  atomic.Pointer[Session]
	lastSeen atomic.Int64

	writeWait time.Duration
	pingEvery time.Duration
}

// ID returns the opaque connection id.
func (c *Client) ID() string { return c.id }

// Session returns the bound identity, if any.
func (c *Client) Session() (Session, bool) {
	s := c.session.Load()
	if s == nil {
		return Session{}, false
	}
	return *s, true
}

func (c *Client) touch(now time.Time) {
	c.lastSeen.Store(now.UnixNano())
}

func (c *Client) seen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// enqueue hands a frame to the write pump without ever blocking. A full queue
// drops the frame; a slow reader never delays anyone else.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// writePump owns all writes on the connection: queued frames and keepalive
// pings. It exits when the client closes or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingEvery)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
