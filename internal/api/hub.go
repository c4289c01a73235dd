package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/daygrid/daygrid/internal/core"
	"github.com/daygrid/daygrid/internal/logging"
)

// StatusHub pushes sync job transitions to connected UI clients over
// websockets. It implements the orchestrator's Notifier.
type StatusHub struct {
	upgrader websocket.Upgrader
	clients  map[string]*wsClient
	mu       sync.RWMutex
	log      *logging.Logger
	closed   bool
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes
}

// statusMessage is the wire format for a job update
type statusMessage struct {
	Type string        `json:"type"`
	Job  *core.SyncJob `json:"job"`
	At   time.Time     `json:"at"`
}

// NewStatusHub creates a status hub
func NewStatusHub() *StatusHub {
	return &StatusHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*wsClient),
		log:     logging.WithField("component", "status_hub"),
	}
}

// HandleWebSocket upgrades a connection and keeps it until the client
// disconnects
func (h *StatusHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{id: uuid.New().String(), conn: conn}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client.id] = client
	h.mu.Unlock()

	h.log.Debug("client connected: %s", client.id)

	// Drain the read side to detect disconnects; clients never send data
	go func() {
		defer h.remove(client.id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// JobUpdate broadcasts a job transition to every connected client
func (h *StatusHub) JobUpdate(job *core.SyncJob) {
	msg := statusMessage{Type: "job_update", Job: job, At: time.Now().UTC()}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.mu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, data)
		c.mu.Unlock()
		if err != nil {
			h.remove(c.id)
		}
	}
}

// ClientCount returns how many clients are connected
func (h *StatusHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all clients
func (h *StatusHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, c := range h.clients {
		c.conn.Close()
		delete(h.clients, id)
	}
}

func (h *StatusHub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.clients[id]; ok {
		c.conn.Close()
		delete(h.clients, id)
	}
}
