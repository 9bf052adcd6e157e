package admin

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"aviatorhub/internal/microservices/tcp"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 100
)

// StatsSource is the live view of the game.
type StatsSource interface {
	Snapshot() tcp.Stats
}

// RoundHistory lists finished rounds.
type RoundHistory interface {
	RecentRounds(ctx context.Context, limit int) ([]*tcp.RoundRecord, error)
}

type Handler struct {
	stats   StatsSource
	history RoundHistory
}

func NewHandler(stats StatsSource, history RoundHistory) *Handler {
	if history == nil {
		history = tcp.NopRecorder{}
	}
	return &Handler{stats: stats, history: history}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.GET("/healthz", h.Health)
	router.GET("/stats", h.Stats)
	router.GET("/rounds/recent", h.RecentRounds)
}

// Health GET /healthz
func (h *Handler) Health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// Stats GET /stats
func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.stats.Snapshot())
}

// RecentRounds GET /rounds/recent?limit=n
func (h *Handler) RecentRounds(c *gin.Context) {
	limit := defaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = min(n, maxRecentLimit)
	}

	rounds, err := h.history.RecentRounds(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"rounds": rounds,
		"count":  len(rounds),
	})
}
