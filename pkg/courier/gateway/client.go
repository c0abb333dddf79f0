package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// sendBuffer is the per-client outbound queue. A client that cannot
	// drain it is disconnected rather than allowed to block broadcasts.
	sendBuffer = 64
)

// client is one live control-plane connection. Owned exclusively by the
// gateway; its lifecycle is Accepted, Unauthenticated, Authenticated,
// Closed.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	name          string
	role          string
	capabilities  []string
	authenticated bool
	connectedAt   time.Time
	lastActivity  time.Time

	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, authenticated bool) *client {
	now := time.Now()
	return &client{
		id:            uuid.NewString(),
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		authenticated: authenticated,
		connectedAt:   now,
		lastActivity:  now,
	}
}

func (c *client) isAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

// authenticate marks the handshake complete and records the client's
// declared identity.
func (c *client) authenticate(name, role string, capabilities []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticated = true
	c.name = name
	c.role = role
	c.capabilities = capabilities
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// clientInfo is the presence entry for one connection.
type clientInfo struct {
	ID            string    `json:"id"`
	Name          string    `json:"name,omitempty"`
	Role          string    `json:"role,omitempty"`
	Capabilities  []string  `json:"capabilities,omitempty"`
	Authenticated bool      `json:"authenticated"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastActivity  time.Time `json:"last_activity"`
}

func (c *client) info() clientInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return clientInfo{
		ID:            c.id,
		Name:          c.name,
		Role:          c.role,
		Capabilities:  c.capabilities,
		Authenticated: c.authenticated,
		ConnectedAt:   c.connectedAt,
		LastActivity:  c.lastActivity,
	}
}

// enqueue queues an outbound frame. Reports false when the client's
// buffer is full or its send channel is closed.
func (c *client) enqueue(data []byte) bool {
	defer func() { recover() }()
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close signals teardown by closing the send queue. The write pump
// drains any frames still queued, writes the close frame, then closes
// the transport; closing the socket here would race the pump and drop
// queued responses. Safe to call more than once.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// writePump drains the send queue onto the socket and keeps the
// connection alive with pings. One per connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
