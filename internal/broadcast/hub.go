package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ops-gateway/internal/logging"
)

const (
	// sendBufferSize is the per-client outbound queue. Clients that fall
	// further behind are skipped, not retried.
	sendBufferSize = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Event is a single frame pushed to subscribed clients.
type Event struct {
	Type      string    `json:"type"`
	Channel   string    `json:"channel,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// inbound is what clients may send: subscribe and ping.
type inbound struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels,omitempty"`
}

// Hub owns the set of connected real-time clients and their channel
// subscriptions. Only the hub's register/unregister paths mutate the set.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *logging.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Client is one WebSocket connection. Its read goroutine owns the
// subscription state; the hub only reads it under the client lock.
// send is never closed: concurrent Publish calls may still hold a
// reference to a client being torn down, and a send on a closed channel
// would panic outside any recovery boundary. done signals the write
// pump to drain and exit instead.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	mu       sync.Mutex
	channels map[string]struct{}
}

// Register wraps an upgraded connection, sends the connected frame and
// starts the read and write pumps. Blocks until the connection closes.
func (h *Hub) Register(conn *websocket.Conn) {
	c := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
		channels: make(map[string]struct{}),
	}

	// Queue the connected frame before the client is visible to Publish
	// so it is always the first frame on the wire.
	c.enqueue(Event{Type: "connected", Timestamp: time.Now().UTC()})

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Infof("WebSocket client connected (total: %d)", count)

	go c.writePump()
	c.readPump()
}

// Publish delivers an event to every client subscribed to channel. A
// client with no channel filter receives everything; an empty channel
// reaches all clients. Delivery is best-effort and in publish order per
// client.
func (h *Hub) Publish(channel, eventType string, data any) {
	frame, err := json.Marshal(Event{
		Type:      eventType,
		Channel:   channel,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Errorf("Failed to marshal broadcast event %s: %v", eventType, err)
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c.subscribed(channel) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- frame:
		default:
			// Slow client; drop this event for it.
			h.logger.Debugf("Dropped %s event for slow client", eventType)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	close(c.done)
	h.logger.Infof("WebSocket client disconnected (remaining: %d)", count)
}

// subscribed reports whether the client should receive events on channel.
func (c *Client) subscribed(channel string) bool {
	if channel == "" {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.channels) == 0 {
		return true
	}
	_, ok := c.channels[channel]
	return ok
}

// setChannels replaces the client's subscription set.
func (c *Client) setChannels(channels []string) {
	next := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		next[ch] = struct{}{}
	}
	c.mu.Lock()
	c.channels = next
	c.mu.Unlock()
}

func (c *Client) enqueue(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	frame, err := json.Marshal(evt)
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// readPump consumes subscribe/ping frames until the connection drops,
// then releases the subscription.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "subscribe":
			c.setChannels(msg.Channels)
			c.enqueue(Event{Type: "subscribed", Data: map[string]any{"channels": msg.Channels}})
		case "ping":
			c.enqueue(Event{Type: "pong"})
		}
	}
}

// writePump flushes the send queue and keeps the connection alive with
// protocol-level pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
