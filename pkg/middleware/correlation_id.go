package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ridepulse/ridepulse/pkg/logger"
)

const (
	// CorrelationIDHeader carries the request id between services.
	CorrelationIDHeader = "X-Request-ID"
	// CorrelationIDKey is the gin context key for the correlation ID.
	CorrelationIDKey = "correlation_id"
)

// CorrelationID propagates the caller's X-Request-ID or mints a new one.
// Malformed caller-supplied IDs are replaced, never echoed back.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := sanitizeCorrelationID(c.GetHeader(CorrelationIDHeader))
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(CorrelationIDKey, id)
		c.Request = c.Request.WithContext(
			logger.ContextWithCorrelationID(c.Request.Context(), id))
		c.Writer.Header().Set(CorrelationIDHeader, id)

		c.Next()
	}
}

func sanitizeCorrelationID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if _, err := uuid.Parse(raw); err != nil {
		return ""
	}
	return raw
}

// GetCorrelationID reads the correlation ID set by the middleware.
func GetCorrelationID(c *gin.Context) string {
	if id, ok := c.Get(CorrelationIDKey); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return logger.CorrelationIDFromContext(c.Request.Context())
}
