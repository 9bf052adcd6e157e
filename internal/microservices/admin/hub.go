package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"aviatorhub/internal/microservices/tcp"
	"aviatorhub/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// spectators are read-only
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans broadcast frames out to websocket spectators as JSON. It
// implements tcp.Observer, so Observe runs under the registry lock and only
// ever enqueues.
type Hub struct {
	mu         sync.Mutex
	spectators map[int]*Spectator
	nextID     int
	dropped    int
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		spectators: make(map[int]*Spectator),
		logger:     logger,
	}
}

func (h *Hub) Observe(msg protocol.Message) {
	payload, err := json.Marshal(tcp.NewMessage(msg))
	if err != nil {
		h.logger.Error("failed_to_marshal_spectator_message", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.spectators {
		if !s.Enqueue(payload) {
			h.dropped++
		}
	}
}

func (h *Hub) register(conn *websocket.Conn) *Spectator {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	s := newSpectator(h.nextID, conn, h)
	h.spectators[s.ID] = s
	h.logger.Info("spectator_added",
		"spectator_id", s.ID,
		"total_spectators", len(h.spectators),
	)
	return s
}

func (h *Hub) unregister(s *Spectator) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.spectators[s.ID]; !ok {
		return
	}
	delete(h.spectators, s.ID)
	s.close()
	h.logger.Info("spectator_removed",
		"spectator_id", s.ID,
		"total_spectators", len(h.spectators),
	)
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.spectators)
}

// Dropped is the number of frames spectators were too slow to take.
func (h *Hub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// CloseAll disconnects every spectator.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.spectators {
		delete(h.spectators, id)
		s.close()
	}
}

// WSHandler upgrades GET /ws to a spectator feed.
func WSHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.logger.Warn("websocket_upgrade_failed", "error", err)
			return
		}
		s := hub.register(conn)
		go s.WritePump()
		go s.ReadPump()
	}
}
