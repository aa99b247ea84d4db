package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"realtime-service/pkg/logger"
)

// LogApi records one structured line per HTTP request through the shared
// logger, so gin traffic lands in the same stream as the rest of the
// service.
func LogApi(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		log.Info("http request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"clientIP", c.ClientIP(),
			"latency", time.Since(start),
			"userAgent", c.Request.UserAgent(),
		)
	}
}
