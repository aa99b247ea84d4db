package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"realtime-service/internal/realtime"
)

// Pinger is the readiness contract satisfied by the redis service and
// any other dependency worth probing.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	hub     *realtime.Hub
	pingers map[string]Pinger
	started time.Time
}

func NewHealthHandler(hub *realtime.Hub, pingers map[string]Pinger) *HealthHandler {
	return &HealthHandler{
		hub:     hub,
		pingers: pingers,
		started: time.Now(),
	}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).String(),
	})
}

func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// Ready probes every registered dependency and reports 503 when any of
// them fails.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(gin.H, len(h.pingers))
	healthy := true
	for name, pinger := range h.pingers {
		if err := pinger.Ping(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"ready": healthy, "checks": checks})
}

func (h *HealthHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.hub.Stats())
}
