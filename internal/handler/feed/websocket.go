package feed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/crm-assistant/internal/model/chat"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 32
)

type outgoingMessage struct {
	Type      string        `json:"type"`
	Data      chat.Snapshot `json:"data"`
	Timestamp int64         `json:"timestamp"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub pushes conversation snapshots to websocket viewers. Its Observe method
// plugs into a session as an observer; a viewer that cannot keep up is
// disconnected rather than allowed to stall the session.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[string]*client
	latest  []byte
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger:  logger,
		clients: make(map[string]*client),
	}
}

// RegisterRoutes mounts the snapshot feed.
func (h *Hub) RegisterRoutes(r chi.Router) {
	r.Get("/ws/snapshots", h.handleWebSocket)
}

// Observe broadcasts snap to every connected viewer without blocking.
func (h *Hub) Observe(snap chat.Snapshot) {
	payload, err := json.Marshal(outgoingMessage{
		Type:      "snapshot",
		Data:      snap,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		h.logger.Error("failed to marshal snapshot", zap.Error(err))
		return
	}

	var slow []string
	h.mu.Lock()
	h.latest = payload
	for id, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, id)
		}
	}
	h.mu.Unlock()

	for _, id := range slow {
		h.logger.Warn("dropping slow snapshot viewer", zap.String("client", id))
		h.remove(id)
	}
}

// Count returns the number of connected viewers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every viewer.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.remove(id)
	}
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[id] = c
	if h.latest != nil {
		c.send <- h.latest
	}
	h.mu.Unlock()
	h.logger.Debug("snapshot viewer connected", zap.String("client", id))

	go h.writePump(c)
	h.readPump(id, c)
}

// readPump discards inbound frames and detects the viewer going away.
func (h *Hub) readPump(id string, c *client) {
	defer h.remove(id)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.mu.Unlock()

	if ok {
		close(c.send)
		h.logger.Debug("snapshot viewer disconnected", zap.String("client", id))
	}
}
