package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"realtime-service/internal/auth"
	"realtime-service/internal/realtime"
	"realtime-service/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSHandler struct {
	hub    *realtime.Hub
	gate   *auth.Gate
	logger *logger.Logger
}

func NewWSHandler(hub *realtime.Hub, gate *auth.Gate, log *logger.Logger) *WSHandler {
	return &WSHandler{hub: hub, gate: gate, logger: log}
}

// HandleWebSocket authenticates the handshake and hands the upgraded
// connection to the hub. Credentials are checked exactly once here; the
// resulting identity is pinned to the connection for its lifetime.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	identity, err := h.gate.Authenticate(c.Request.Context(), c.Request)
	if err != nil {
		h.logger.Warn("websocket handshake rejected", "remoteAddr", c.Request.RemoteAddr, "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "remoteAddr", c.Request.RemoteAddr, "error", err)
		return
	}

	h.hub.Serve(conn, identity, c.Request)
}
