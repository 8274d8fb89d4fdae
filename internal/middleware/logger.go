package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Logger returns a zap-based request logging middleware. The raw query is
// logged because playback requests carry the resource in ?path=, and the
// authenticated user is attached when auth ran before this middleware.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		clientIP := c.ClientIP()
		method := c.Request.Method

		c.Next()

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("method", method),
			zap.String("path", path),
			zap.String("client_ip", clientIP),
		}
		if query != "" {
			fields = append(fields, zap.String("query", query))
		}
		if id := UserID(c); id != uuid.Nil {
			fields = append(fields, zap.String("user_id", id.String()))
		}
		logger.Info("request", fields...)
	}
}
