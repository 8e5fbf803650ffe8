package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/obsidianstack/tpsmeter/server/internal/api"
)

// Event names carried in Message.Event.
const (
	EventTPS   = "tps"
	EventAlert = "alert"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// CORS is applied by the outer handler.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Hub fans messages out to connected WebSocket clients. Run pushes the
// current rate every interval; Publish pushes ad-hoc events such as alerts.
type Hub struct {
	src      api.RateSource
	interval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// New creates a Hub that reads from src and broadcasts every interval.
func New(src api.RateSource, interval time.Duration) *Hub {
	return &Hub{
		src:      src,
		interval: interval,
		clients:  make(map[*client]struct{}),
	}
}

// Run broadcasts the rate every interval until ctx is cancelled, then closes
// every connection and refuses new ones.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case <-ticker.C:
			h.Publish(EventTPS, api.BuildRate(h.src))
		}
	}
}

// Publish sends {event, data} to every connected client. Clients whose
// outgoing buffer is full are disconnected.
func (h *Hub) Publish(event string, data interface{}) {
	msg, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		slog.Error("ws: encode message", "event", event, "err", err)
		return
	}

	// Sends happen under the read lock so no channel is closed mid-send.
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Debug("ws: dropping slow client", "remote", c.conn.RemoteAddr().String())
		h.remove(c)
	}
}

// ServeHTTP upgrades the connection and streams messages to it until either
// side closes. The current rate is sent first.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered with an HTTP error.
		return
	}

	c := newClient(conn)
	if msg, err := json.Marshal(Message{Event: EventTPS, Data: api.BuildRate(h.src)}); err == nil {
		c.send <- msg // empty buffer, never blocks
	}
	if !h.add(c) {
		conn.Close()
		return
	}
	defer h.remove(c)

	go c.writePump()
	c.readPump()
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

// remove drops c and closes its send channel, which ends its write pump.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
