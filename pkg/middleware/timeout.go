package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/fieldline/dispatch/pkg/common"
	"github.com/fieldline/dispatch/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestTimeout sets a deadline on the request context so downstream
// provider calls inherit the remaining budget. The handler is expected to
// degrade gracefully before the deadline; the abort here is a backstop for
// handlers that never write.
func RequestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)

		done := make(chan struct{})
		go func() {
			c.Next()
			close(done)
		}()

		select {
		case <-done:
			// Request completed before timeout
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				if !c.Writer.Written() {
					c.Abort()
					common.ErrorResponse(c, http.StatusInternalServerError,
						common.CodeInternalError, "request deadline exceeded")

					logger.WithContext(c.Request.Context()).Warn("request timeout",
						zap.String("path", c.Request.URL.Path),
						zap.String("method", c.Request.Method),
						zap.Duration("timeout", timeout),
					)
				}
			}
		}
	}
}
