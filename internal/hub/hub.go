package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-live/live-service/internal/config"
	"github.com/weiawesome/wes-io-live/live-service/internal/metrics"
	pkglog "github.com/weiawesome/wes-io-live/live-service/pkg/log"
)

var (
	ErrClientNotFound = errors.New("client not found")
	ErrClientEvicted  = errors.New("client send buffer full, evicted")
)

// DisconnectHandler is called once when a client's read loop ends.
type DisconnectHandler func(*Client)

// Client represents a connected WebSocket client.
type Client struct {
	ID   string
	Hub  *Hub
	Conn *websocket.Conn
	// Send is closed by the hub, under its write lock, when the client is
	// unregistered.
	Send chan []byte

	disconnectHandler DisconnectHandler
	evictOnce         sync.Once
}

// NewClient creates a client for conn with a buffered send queue.
func NewClient(id string, h *Hub, conn *websocket.Conn) *Client {
	size := h.config.SendBuffer
	if size <= 0 {
		size = 256
	}
	return &Client{
		ID:   id,
		Hub:  h,
		Conn: conn,
		Send: make(chan []byte, size),
	}
}

// SetDisconnectHandler sets the handler to be called on disconnect.
func (c *Client) SetDisconnectHandler(handler DisconnectHandler) {
	c.disconnectHandler = handler
}

// Hub manages all WebSocket connections.
type Hub struct {
	clients map[string]*Client
	mu      sync.RWMutex
	evict   chan *Client
	config  config.WebSocketConfig
	metrics *metrics.Metrics
}

// NewHub creates a new Hub.
func NewHub(cfg config.WebSocketConfig, m *metrics.Metrics) *Hub {
	if m == nil {
		m = metrics.NewMetrics()
	}
	return &Hub{
		clients: make(map[string]*Client),
		evict:   make(chan *Client, 64),
		config:  cfg,
		metrics: m,
	}
}

// Run closes the connections of evicted clients until ctx is done, then
// closes every remaining connection.
func (h *Hub) Run(ctx context.Context) {
	l := pkglog.L()
	for {
		select {
		case client := <-h.evict:
			l.Warn().Str(pkglog.FieldConnID, client.ID).Msg("evicting slow client")
			client.Conn.Close()

		case <-ctx.Done():
			h.mu.RLock()
			for _, client := range h.clients {
				client.Conn.Close()
			}
			h.mu.RUnlock()
			return
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	h.metrics.IncConnections()
	l := pkglog.L()
	l.Debug().Str(pkglog.FieldConnID, client.ID).Msg("client registered")
}

// Unregister removes a client from the hub and closes its send queue. It
// reports whether the client was registered.
func (h *Hub) Unregister(client *Client) bool {
	h.mu.Lock()
	current, ok := h.clients[client.ID]
	if ok && current == client {
		delete(h.clients, client.ID)
		close(client.Send)
	}
	h.mu.Unlock()

	if !ok || current != client {
		return false
	}
	h.metrics.DecConnections()
	l := pkglog.L()
	l.Debug().Str(pkglog.FieldConnID, client.ID).Msg("client unregistered")
	return true
}

// SendToClient queues a message for one client without blocking. A client
// whose queue is full is evicted.
func (h *Hub) SendToClient(clientID string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[clientID]
	if !ok {
		return ErrClientNotFound
	}

	select {
	case client.Send <- data:
		return nil
	default:
		h.scheduleEviction(client)
		return ErrClientEvicted
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) scheduleEviction(client *Client) {
	client.evictOnce.Do(func() {
		h.metrics.IncEvictions()
		select {
		case h.evict <- client:
		default:
			go client.Conn.Close()
		}
	})
}

// ReadPump pumps messages from the WebSocket connection to handler. It
// returns when the connection fails or closes.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer func() {
		c.Hub.Unregister(c)
		if c.disconnectHandler != nil {
			c.disconnectHandler(c)
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Hub.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l := pkglog.L()
				l.Warn().Err(err).Str(pkglog.FieldConnID, c.ID).Msg("websocket error")
			}
			break
		}

		handler(c, message)
	}
}

// WritePump pumps messages from the hub to the WebSocket connection.
func (c *Client) WritePump() {
	interval := c.Hub.config.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage queues a message for this client.
func (c *Client) SendMessage(message interface{}) error {
	return c.Hub.SendToClient(c.ID, message)
}
