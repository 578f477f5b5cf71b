package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthHandler reports liveness and the relay's counters.
type HealthHandler struct {
	srv     *Server
	started time.Time
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(srv *Server) *HealthHandler {
	return &HealthHandler{srv: srv, started: time.Now()}
}

// Health responds to GET /health.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"uptime":        time.Since(h.started).Seconds(),
		"activeRooms":   h.srv.Rooms().ActiveCount(),
		"totalSessions": h.srv.Sessions().TotalCount(),
		"connections":   h.srv.ClientCount(),
	})
}

// Ready responds to GET /ready.
func (h *HealthHandler) Ready(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
