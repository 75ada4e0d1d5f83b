package middleware

import (
	"context"
	"strings"
	"time"

	"algohub/pkg/utils/contextkey"
	"algohub/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"
	userIDHeader    = "X-User-Id"
)

// TraceContextMiddleware ensures trace/request id are in context and response headers.
// A caller-supplied user id is propagated as-is; it is informational only.
func TraceContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		propagate(c, traceIDHeader, contextkey.TraceID, true)
		propagate(c, requestIDHeader, contextkey.RequestID, true)
		propagate(c, userIDHeader, contextkey.UserID, false)
		c.Next()
	}
}

func propagate(c *gin.Context, header string, key interface{ String() string }, generate bool) {
	value := strings.TrimSpace(c.GetHeader(header))
	if value == "" {
		if !generate {
			return
		}
		value = uuid.NewString()
	}
	c.Set(key.String(), value)
	c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), key, value))
	c.Writer.Header().Set(header, value)
}

// RequestLogger logs one line per completed request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
