// Package broadcast pushes processed message records to WebSocket clients.
//
// Clients open a one-way connection to:
//
//	GET /ws
//
// Every successfully handled record is fanned out to all connected clients as
// a JSON event frame:
//
//	{"type":"message.received","message":{...canonical record...}}
//
// Clients never send application frames; the server reads and discards
// incoming data only to detect disconnects.
package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/warelay/warelay/internal/types"
)

const (
	// sendBuffer is the per-client outbound queue. A client that falls this
	// far behind is dropped rather than allowed to stall the fan-out.
	sendBuffer = 64

	writeWait = 10 * time.Second
)

var upgrader = gorillaws.Upgrader{
	// CheckOrigin rejects cross-origin WebSocket upgrade requests.
	// A request is considered same-origin when its Origin header matches the
	// Host header (scheme-agnostic).  Requests without an Origin header
	// (e.g. from native clients/curl) are always allowed.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser client, allow
		}
		parsed, err := parseHost(origin)
		if err != nil {
			return false
		}
		return parsed == r.Host
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// parseHost returns the host:port (or just host) portion of a URL string.
func parseHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid origin %q", rawURL)
	}
	return u.Host, nil
}

// Event is the frame fanned out to connected clients.
type Event struct {
	Type string         `json:"type"` // "message.received"
	Msg  *types.Message `json:"message"`
}

type client struct {
	conn *gorillaws.Conn
	send chan []byte
}

// Hub fans events out to all connected WebSocket clients. Safe for concurrent
// use.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	log *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		log:     log,
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish fans an event out to every connected client. Clients whose send
// buffer is full are dropped.
func (h *Hub) Publish(msg *types.Message) {
	raw, err := json.Marshal(Event{Type: "message.received", Msg: msg})
	if err != nil {
		h.log.Error("broadcast marshal failed", "id", msg.ID, "err", err)
		return
	}

	h.mu.Lock()
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- raw:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		h.dropLocked(c)
		h.log.Warn("dropping slow websocket client", "remote", c.conn.RemoteAddr().String())
	}
	h.mu.Unlock()
}

// ServeHTTP upgrades the connection and registers the client with the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Info("websocket client connected", "remote", conn.RemoteAddr().String(), "clients", n)

	go h.writeLoop(c)
	h.readLoop(c) // blocks until the client disconnects
}

// writeLoop drains the client's send channel onto the wire. Exits when the
// channel is closed (client dropped) or a write fails.
func (h *Hub) writeLoop(c *client) {
	for raw := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(gorillaws.TextMessage, raw); err != nil {
			h.remove(c)
			return
		}
	}
	_ = c.conn.WriteMessage(gorillaws.CloseMessage,
		gorillaws.FormatCloseMessage(gorillaws.CloseGoingAway, ""))
}

// readLoop discards inbound frames; its only job is disconnect detection.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	h.dropLocked(c)
	h.mu.Unlock()
}

// dropLocked unregisters c and tears its connection down. Caller holds h.mu.
func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	_ = c.conn.Close()
}

// Close disconnects every client and rejects future registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.dropLocked(c)
	}
}
