package middleware

import (
	"net/http"

	"github.com/fieldline/dispatch/pkg/common"
	"github.com/gin-gonic/gin"
)

// MaxBodySize rejects request bodies larger than maxBytes. A declared
// Content-Length over the limit gets an immediate 413; chunked bodies are
// capped with MaxBytesReader so the JSON binder hits the same limit while
// decoding.
func MaxBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			common.ErrorResponse(c, http.StatusRequestEntityTooLarge,
				common.CodePayloadTooLarge, "request body exceeds the size limit")
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
