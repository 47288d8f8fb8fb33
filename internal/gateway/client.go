package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cadencebot/cadence/internal/bus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

// Client is one connected websocket consumer of the event feed.
type Client struct {
	id   string
	conn *websocket.Conn

	send      chan bus.Event
	closeOnce sync.Once
	done      chan struct{}
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan bus.Event, sendBufferSize),
		done: make(chan struct{}),
	}
}

// SendEvent queues an event for delivery. Drops when the client's buffer is
// full — a slow consumer must not stall the broadcaster.
func (c *Client) SendEvent(event bus.Event) {
	select {
	case c.send <- event:
	case <-c.done:
	default:
		slog.Warn("gateway: client send buffer full, dropping event",
			"client", c.id, "event", event.Name)
	}
}

// Run services the connection until it closes or ctx is done. The read loop
// only consumes control frames; the feed is one-way.
func (c *Client) Run(ctx context.Context) {
	go c.readLoop()
	c.writeLoop(ctx)
}

func (c *Client) readLoop() {
	defer c.Close()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case event := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(event); err != nil {
				slog.Debug("gateway: write failed", "client", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close shuts the connection down. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
