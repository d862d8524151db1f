package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lofyer/warp-multiproxy-go/internal/account"
)

// HealthHandler serves GET /health.
type HealthHandler struct {
	pool *account.Pool
}

// NewHealthHandler constructs a HealthHandler bound to pool.
func NewHealthHandler(pool *account.Pool) *HealthHandler {
	return &HealthHandler{pool: pool}
}

// Health handles GET /health: degraded iff no account is currently available.
func (h *HealthHandler) Health(c *gin.Context) {
	status := h.pool.Status()
	state := "healthy"
	if status.Available == 0 {
		state = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    state,
		"available": status.Available,
		"total":     status.Total,
	})
}
