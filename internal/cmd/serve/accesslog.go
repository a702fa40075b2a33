package serve

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

// accessLogMiddleware logs every request handled by the dispatch router
// with method, path, status and duration, the way the reference
// daemon's AccessLogMiddleware does. There is no admin-audit variant here:
// every privileged dispatch command already carries its caller identity
// through the envelope's access token, and destructive vault operations
// get their own durable record in internal/waiver rather than a log line.
func accessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", duration,
			"clientIP", c.ClientIP(),
		)
	}
}
