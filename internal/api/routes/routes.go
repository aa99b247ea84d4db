package routes

import (
	"github.com/gin-gonic/gin"

	"realtime-service/internal/api/handlers"
	"realtime-service/internal/api/middleware"
	"realtime-service/internal/auth"
	"realtime-service/internal/realtime"
	"realtime-service/pkg/logger"
)

type Router struct {
	engine        *gin.Engine
	wsHandler     *handlers.WSHandler
	healthHandler *handlers.HealthHandler
}

func NewRouter(
	hub *realtime.Hub,
	gate *auth.Gate,
	pingers map[string]handlers.Pinger,
	log *logger.Logger,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS())
	engine.Use(middleware.LogApi(log))

	return &Router{
		engine:        engine,
		wsHandler:     handlers.NewWSHandler(hub, gate, log),
		healthHandler: handlers.NewHealthHandler(hub, pingers),
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/ws", r.wsHandler.HandleWebSocket)

	r.engine.GET("/health", r.healthHandler.Health)
	r.engine.GET("/health/live", r.healthHandler.Live)
	r.engine.GET("/health/ready", r.healthHandler.Ready)
	r.engine.GET("/health/stats", r.healthHandler.Stats)
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
