package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/fieldline/dispatch/pkg/common"
	"github.com/fieldline/dispatch/pkg/config"
	"github.com/fieldline/dispatch/pkg/logger"
	"github.com/fieldline/dispatch/pkg/ratelimit"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxPeekBodySize = 64 << 10

// RateLimit applies rate limiting to incoming requests using the provided
// limiter configuration. Turns are limited per caller phone when one can be
// read from the body, otherwise per client IP.
func RateLimit(limiter *ratelimit.Limiter, cfg config.RateLimitConfig) gin.HandlerFunc {
	if limiter == nil || !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		endpointPath := c.FullPath()
		if endpointPath == "" {
			endpointPath = c.Request.URL.Path
		}

		endpointKey := fmt.Sprintf("%s:%s", c.Request.Method, endpointPath)

		identityType := ratelimit.IdentityInstance
		identity := c.ClientIP()
		if identity == "" {
			identity = "unknown"
		}

		if caller := peekCallerPhone(c); caller != "" {
			identityType = ratelimit.IdentityCaller
			identity = caller
		}

		rule := limiter.RuleFor(identityType)
		if rule.Limit <= 0 {
			c.Next()
			return
		}

		result, err := limiter.Allow(c.Request.Context(), endpointKey, identity, rule, identityType)
		if err != nil {
			logger.WarnContext(c.Request.Context(), "rate limit evaluation failed",
				zap.String("endpoint", endpointKey),
				zap.String("identity", identity),
				zap.Error(err),
			)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		remaining := result.Remaining
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		resetSeconds := int(result.ResetAfter.Round(time.Second) / time.Second)
		if resetSeconds < 0 {
			resetSeconds = 0
		}
		c.Header("X-RateLimit-Reset", strconv.Itoa(resetSeconds))

		if result.Allowed {
			c.Next()
			return
		}

		retrySeconds := int(result.RetryAfter.Round(time.Second) / time.Second)
		if retrySeconds <= 0 {
			retrySeconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(retrySeconds))

		logger.WarnContext(c.Request.Context(), "rate limit exceeded",
			zap.String("endpoint", endpointKey),
			zap.String("identity", identity),
			zap.Int("retry_after_seconds", retrySeconds),
		)

		common.ErrorResponse(c, http.StatusTooManyRequests, common.CodeRateLimited, "rate limit exceeded")
		c.Abort()
	}
}

// peekCallerPhone reads the caller phone from the JSON body without consuming
// it. Validation happens later during binding; any parse failure here simply
// falls back to IP identity.
func peekCallerPhone(c *gin.Context) string {
	if c.Request == nil || c.Request.Body == nil {
		return ""
	}

	original := c.Request.Body
	bodyBytes, err := io.ReadAll(io.LimitReader(original, maxPeekBodySize))
	c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(bodyBytes), original))
	if err != nil {
		return ""
	}

	var peek struct {
		CallerPhone string `json:"caller_phone"`
	}
	if err := json.Unmarshal(bodyBytes, &peek); err != nil {
		return ""
	}
	return peek.CallerPhone
}
