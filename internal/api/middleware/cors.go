package middleware

import (
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORS middleware for handling cross-origin requests. Browser WebSocket
// clients do not enforce CORS, but the health and stats endpoints do get
// hit from dashboards.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := origin != "" && (strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1"))
		if customOrigins := os.Getenv("ALLOWED_ORIGINS"); customOrigins != "" && !allowed {
			for _, customOrigin := range strings.Split(customOrigins, ",") {
				if origin == strings.TrimSpace(customOrigin) {
					allowed = true
					break
				}
			}
		}
		if allowed {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Requested-With, X-Api-Key")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Max-Age", "24h")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
