package room

import (
	"context"
	"strconv"
	"sync"
	"time"

	"cotowatch/logger"
	"cotowatch/model"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 16 * 1024
	sendBuffer     = 256
)

// Client is one participant connection subscribed to a room topic.
type Client struct {
	ID     string
	RoomID int64
	User   *model.User
	Conn   *websocket.Conn

	send chan []byte

	mu       sync.Mutex
	closed   bool
	replaced bool
}

// NewClient wraps conn. conn may be nil when the client is driven directly, as in tests.
func NewClient(conn *websocket.Conn, roomID int64, user *model.User) *Client {
	if user == nil {
		user = &model.User{}
	}
	return &Client{
		ID:     uuid.NewString(),
		RoomID: roomID,
		User:   user,
		Conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}
}

func (c *Client) topic() string { return Topic(c.RoomID) }

// userKey identifies the client for duplicate replacement; guests never collide.
func (c *Client) userKey() string {
	if !c.User.Authenticated() {
		return ""
	}
	return c.topic() + ":" + strconv.FormatInt(c.User.ID, 10)
}

// enqueue queues payload without blocking. It reports false when the buffer is
// full or the client has been closed.
func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) close(replaced bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.replaced = replaced
	close(c.send)
}

// Replaced reports whether a newer connection of the same user took this one's place.
func (c *Client) Replaced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replaced
}

// Outbound exposes the send queue; it is closed when the hub lets go of the client.
func (c *Client) Outbound() <-chan []byte { return c.send }

// ReadPump hands every text frame to handle until the connection fails or ctx ends.
func (c *Client) ReadPump(ctx context.Context, handle func(ctx context.Context, data []byte)) {
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error",
					logger.ErrorField(err),
					logger.Int64("room", c.RoomID),
					logger.String("client", c.ID))
			}
			return
		}
		handle(ctx, message)
	}
}

// WritePump writes queued payloads, one frame each, and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
