package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/fieldline/dispatch/pkg/common"
	"github.com/fieldline/dispatch/pkg/errors"
	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
)

// SentryMiddleware attaches a Sentry hub to each request. Repanic is set so
// RecoveryWithSentry further down the chain still sees the panic and can
// answer the caller.
func SentryMiddleware() gin.HandlerFunc {
	return sentrygin.New(sentrygin.Options{
		Repanic:         true,
		WaitForDelivery: false,
		Timeout:         2 * time.Second,
	})
}

// ErrorHandler reports request failures to Sentry after the handler ran.
// Every request leaves a breadcrumb; only errors that pass ShouldReportError
// become events, so a malformed webhook payload does not page anyone.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		errors.AddBreadcrumbForRequest(
			c.Request.Method,
			c.Request.URL.Path,
			statusCode,
			duration,
		)

		if len(c.Errors) > 0 {
			for _, err := range c.Errors {
				if errors.ShouldReportError(err.Err, statusCode) {
					captureError(c, err.Err, statusCode, duration)
				}
			}
			return
		}

		// A 5xx with no recorded error still means something broke.
		if statusCode >= 500 {
			captureHTTPError(c, statusCode)
		}
	}
}

// RecoveryWithSentry recovers panics, reports them with the goroutine stack
// attached, and answers the caller with a generic 500.
func RecoveryWithSentry() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				hub := requestHub(c, http.StatusInternalServerError)
				hub.Scope().SetContext("panic", map[string]interface{}{
					"value":      fmt.Sprintf("%v", err),
					"stacktrace": string(debug.Stack()),
				})

				hub.RecoverWithContext(c.Request.Context(), err)
				hub.Flush(2 * time.Second)

				c.Abort()
				common.ErrorResponse(c, http.StatusInternalServerError,
					common.CodeInternalError, "an unexpected error occurred")
			}
		}()

		c.Next()
	}
}

// requestHub returns the request's Sentry hub with the scope primed from the
// request. Falls back to a clone of the global hub when the sentrygin
// middleware did not run.
func requestHub(c *gin.Context, statusCode int) *sentry.Hub {
	hub := sentrygin.GetHubFromContext(c)
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}

	hub.Scope().SetRequest(c.Request)
	hub.Scope().SetLevel(sentryLevel(statusCode))
	hub.Scope().SetTag("http.method", c.Request.Method)
	hub.Scope().SetTag("http.status_code", fmt.Sprintf("%d", statusCode))
	hub.Scope().SetTag("endpoint", c.Request.URL.Path)

	if correlationID := GetCorrelationID(c); correlationID != "" {
		hub.Scope().SetTag("correlation_id", correlationID)
	}

	return hub
}

func captureError(c *gin.Context, err error, statusCode int, duration time.Duration) {
	hub := requestHub(c, statusCode)

	hub.Scope().SetContext("http", map[string]interface{}{
		"method":       c.Request.Method,
		"url":          c.Request.URL.String(),
		"status_code":  statusCode,
		"duration_ms":  duration.Milliseconds(),
		"remote_addr":  c.ClientIP(),
		"user_agent":   c.Request.UserAgent(),
		"content_type": c.ContentType(),
	})
	hub.Scope().SetContext("route", map[string]interface{}{
		"path":    c.Request.URL.Path,
		"handler": c.HandlerName(),
	})

	hub.CaptureException(err)
}

func captureHTTPError(c *gin.Context, statusCode int) {
	hub := requestHub(c, statusCode)
	hub.CaptureMessage(fmt.Sprintf("HTTP %d: %s %s",
		statusCode, c.Request.Method, c.Request.URL.Path))
}

func sentryLevel(statusCode int) sentry.Level {
	switch {
	case statusCode >= 500:
		return sentry.LevelError
	case statusCode == 429:
		return sentry.LevelWarning
	default:
		return sentry.LevelInfo
	}
}
