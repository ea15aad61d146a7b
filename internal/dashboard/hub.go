package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"loan-risk/internal/loan"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientQueueLen = 16
)

// Update is one message pushed to dashboard clients.
type Update struct {
	Summary   loan.Summary           `json:"summary"`
	Latest    *loan.PredictionRecord `json:"latest,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// SnapshotFunc computes the current summary for newly connected clients.
type SnapshotFunc func(ctx context.Context) (loan.Summary, error)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans summary updates out to every connected WebSocket client.
type Hub struct {
	upgrader  websocket.Upgrader
	snapshot  SnapshotFunc
	clients   map[*client]bool
	clientsMu sync.RWMutex
	broadcast chan Update
	stop      chan struct{}
	running   bool
	mu        sync.Mutex
	onClients func(n int)
}

// NewHub creates a hub. snapshot may be nil, in which case new clients
// wait for the next update.
func NewHub(snapshot SnapshotFunc) *Hub {
	return &Hub{
		upgrader:  websocket.Upgrader{CheckOrigin: sameOrigin},
		snapshot:  snapshot,
		clients:   make(map[*client]bool),
		broadcast: make(chan Update, 100),
		stop:      make(chan struct{}),
	}
}

// sameOrigin accepts clients without an Origin header, such as CLI tools,
// and browsers on the dashboard's own host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// OnClientsChanged registers fn to be called with the client count after
// every connect and disconnect. Call it before Start.
func (h *Hub) OnClientsChanged(fn func(n int)) {
	h.onClients = fn
}

// Start begins broadcasting published updates.
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return fmt.Errorf("dashboard hub is already running")
	}
	go h.broadcaster()
	h.running = true
	log.Info().Msg("Dashboard hub started")
	return nil
}

// Stop disconnects every client and stops broadcasting.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return
	}
	close(h.stop)

	h.clientsMu.Lock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.clientsMu.Unlock()
	h.notify(0)

	h.running = false
	log.Info().Msg("Dashboard hub stopped")
}

// Publish queues u for broadcast. It never blocks a scoring request: when
// the queue is full the update is dropped, since the next one supersedes it.
func (h *Hub) Publish(u Update) {
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- u:
	default:
		log.Warn().Msg("Dashboard broadcast queue full, dropping update")
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcaster() {
	for {
		select {
		case u := <-h.broadcast:
			h.broadcastToClients(u)
		case <-h.stop:
			return
		}
	}
}

func (h *Hub) broadcastToClients(u Update) {
	data, err := json.Marshal(u)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal dashboard update")
		return
	}

	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Slow client; drop it rather than stall everyone else.
			close(c.send)
			delete(h.clients, c)
		}
	}
}

// ServeWS upgrades the request and registers the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientQueueLen)}

	if h.snapshot != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		sum, err := h.snapshot(ctx)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load dashboard snapshot")
		} else if data, err := json.Marshal(Update{Summary: sum, Timestamp: time.Now()}); err == nil {
			c.send <- data
		}
	}

	h.clientsMu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.clientsMu.Unlock()
	h.notify(n)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.clientsMu.Lock()
	removed := h.clients[c]
	if removed {
		close(c.send)
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.clientsMu.Unlock()
	if removed {
		h.notify(n)
	}
}

func (h *Hub) notify(n int) {
	if h.onClients != nil {
		h.onClients(n)
	}
}

// readPump keeps the connection alive and notices when the client leaves.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// writePump is the only goroutine that writes to the connection.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Msg("Failed to send message to WebSocket client")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
