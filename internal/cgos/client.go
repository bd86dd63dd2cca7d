package cgos

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	clientWriteWait  = 10 * time.Second
	clientSendBuffer = 256
)

// Client adapts one WebSocket connection to a viewer Sink. Deliveries go
// through a buffered channel drained by a write pump; a sink that cannot
// keep up drops lines rather than stalling the viewer.
type Client struct {
	viewer *Viewer
	conn   *websocket.Conn
	send   chan string
	once   sync.Once
	done   chan struct{}
}

// NewClient wraps an upgraded connection. The caller attaches it to the
// viewer and then calls Run.
func NewClient(v *Viewer, conn *websocket.Conn) *Client {
	return &Client{
		viewer: v,
		conn:   conn,
		send:   make(chan string, clientSendBuffer),
		done:   make(chan struct{}),
	}
}

// Run services the connection until it closes, then detaches from the
// viewer. Blocks.
func (c *Client) Run() {
	go c.writePump()
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.viewer.HandleCommand(c, string(msg))
	}
	c.viewer.Detach(c)
	c.Shutdown()
}

func (c *Client) writePump() {
	for {
		select {
		case line := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				c.Shutdown()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Deliver implements Sink; it never blocks the viewer.
func (c *Client) Deliver(line string) {
	select {
	case c.send <- line:
	default:
	}
}

// Shutdown implements Sink: closes the socket, which unblocks Run.
func (c *Client) Shutdown() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
