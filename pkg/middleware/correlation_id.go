package middleware

import (
	"strings"

	"github.com/fieldline/dispatch/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// CorrelationIDHeader carries the request id end to end. The SMS
	// gateway sets it on delivery; anything non-UUID is replaced.
	CorrelationIDHeader = "X-Request-ID"
	// CorrelationIDKey is the gin context key holding the id.
	CorrelationIDKey = "correlation_id"
)

// CorrelationID adopts the caller's request id or mints one, then threads
// it through the request context and echoes it on the response.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(CorrelationIDHeader))
		if id != "" {
			if _, err := uuid.Parse(id); err != nil {
				id = ""
			}
		}
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(CorrelationIDKey, id)
		c.Request = c.Request.WithContext(logger.ContextWithCorrelationID(c.Request.Context(), id))
		c.Writer.Header().Set(CorrelationIDHeader, id)

		c.Next()
	}
}

// GetCorrelationID returns the request id for the current request.
func GetCorrelationID(c *gin.Context) string {
	if id, exists := c.Get(CorrelationIDKey); exists {
		if correlationID, ok := id.(string); ok {
			return correlationID
		}
	}
	return logger.CorrelationIDFromContext(c.Request.Context())
}
