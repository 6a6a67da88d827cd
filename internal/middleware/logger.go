package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geovision/geovision-backend/internal/logger"
)

// Logger middleware logs HTTP requests through the shared slog logger.
func Logger() gin.HandlerFunc {
	log := logger.L()
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client", c.ClientIP(),
		}
		if errs := c.Errors.String(); errs != "" {
			attrs = append(attrs, "errors", errs)
		}
		log.Info("request", attrs...)
	}
}
