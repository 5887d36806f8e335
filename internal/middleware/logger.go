package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/radiolink/pkg/logger"
)

// Logger writes a concise structured access log for each request. Stream
// upgrades and health probes are logged at debug level.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		fields := []zap.Field{
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		log := logger.WithModule("http")
		switch {
		case c.Writer.Status() >= 500:
			log.Error("request", fields...)
		case c.FullPath() == "/health" || c.FullPath() == "/api/stream":
			log.Debug("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}
