package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/bhandras/termhub/internal/logger"
	"github.com/gin-gonic/gin"
)

// LoggingMiddleware logs HTTP requests. Socket.io polling and scrape traffic
// is logged at trace level; everything else at debug, or warn for 5xx.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		// Query strings are not logged: the handshake token may travel there.
		switch {
		case status >= http.StatusInternalServerError:
			logger.Warnf("[%s] %s - %d (%v)", c.Request.Method, path, status, latency)
		case strings.HasPrefix(path, "/socket.io/") || path == "/metrics":
			logger.Tracef("[%s] %s - %d (%v)", c.Request.Method, path, status, latency)
		default:
			logger.Debugf("[%s] %s - %d (%v)", c.Request.Method, path, status, latency)
		}
	}
}
