package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jww "github.com/spf13/jwalterweatherman"
	"go.uber.org/ratelimit"

	"petconnect/internal/auth"
)

const (
	writeWait  = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait   = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod = (pongWait * 9) / 10 // Must be less than pongWait.
)

// Dispatcher handles one inbound frame from a connection.
type Dispatcher interface {
	Handle(ctx context.Context, c *Client, frame []byte)
}

// Client is a middleman between one websocket connection and the hub. Its
// identity is fixed at connect time.
type Client struct {
	ID       string
	identity auth.Identity
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	limiter  ratelimit.Limiter

	dropped bool // Guarded by the registry lock.
}

func newClient(h *Hub, conn *websocket.Conn, id auth.Identity) *Client {
	return &Client{
		ID:       uuid.NewString(),
		identity: id,
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, h.opts.SendBuffer),
		limiter:  ratelimit.New(h.opts.EventsPerSecond),
	}
}

func (c *Client) UserID() string { return c.identity.UserID }

func (c *Client) Identity() auth.Identity { return c.identity }

// readPump pumps frames from the websocket connection to the dispatcher.
func (c *Client) readPump(d Dispatcher) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				jww.WARN.Printf("[ws] read %s (user %s): %v", c.ID, c.UserID(), err)
			}
			return
		}
		c.limiter.Take()
		d.Handle(ctx, c, frame)
	}
}

// writePump pumps frames from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

			// Flush whatever queued up meanwhile; each event keeps its own frame.
			n := len(c.send)
			for i := 0; i < n; i++ {
				frame, ok := <-c.send
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if !ok {
					c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
