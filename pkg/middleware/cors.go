package middleware

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS handles cross-origin requests for dashboards and webhook tooling.
// Origins are provided as a comma-separated list. An empty list falls back
// to a development default.
func CORS(originsStr string) gin.HandlerFunc {
	config := cors.DefaultConfig()

	var origins []string
	for _, o := range strings.Split(originsStr, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}

	switch {
	case len(origins) == 0:
		config.AllowOrigins = []string{"http://localhost:3000"}
	case len(origins) == 1 && origins[0] == "*":
		config.AllowAllOrigins = true
	default:
		config.AllowOrigins = origins
	}

	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", CorrelationIDHeader}
	config.MaxAge = 12 * time.Hour

	return cors.New(config)
}
