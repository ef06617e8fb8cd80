package common

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Provider status values reported by the health endpoint.
const (
	ProviderOK   = "ok"   // configured, breaker closed
	ProviderOpen = "open" // breaker open, fallback in use
	ProviderOff  = "off"  // no credential configured
)

// ProviderStatusFunc reports per-provider health keyed by provider name
// (geocoding, llm, traffic).
type ProviderStatusFunc func() map[string]string

// HealthResponse represents health check response
type HealthResponse struct {
	Status        string                 `json:"status"`
	Service       string                 `json:"service"`
	Version       string                 `json:"version"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Timestamp     string                 `json:"timestamp"`
	Providers     map[string]string      `json:"providers,omitempty"`
	Checks        map[string]CheckStatus `json:"checks,omitempty"`
}

// CheckStatus represents the status of a single readiness check
type CheckStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Duration  string `json:"duration,omitempty"`
	Timestamp string `json:"timestamp"`
}

var startTime = time.Now()

// HealthCheck reports overall service health plus per-provider state. An
// open breaker degrades the status but the endpoint stays 200: the pipeline
// still answers via fallbacks.
func HealthCheck(serviceName, version string, providers ProviderStatusFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ok"
		var providerStatuses map[string]string
		if providers != nil {
			providerStatuses = providers()
			for _, s := range providerStatuses {
				if s == ProviderOpen {
					status = "degraded"
					break
				}
			}
		}

		c.JSON(http.StatusOK, HealthResponse{
			Status:        status,
			Service:       serviceName,
			Version:       version,
			UptimeSeconds: int64(time.Since(startTime).Seconds()),
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
			Providers:     providerStatuses,
		})
	}
}

// LivenessProbe returns a simple liveness check. It should always return
// 200 OK unless the process is wedged.
func LivenessProbe(serviceName, version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status:        "alive",
			Service:       serviceName,
			Version:       version,
			UptimeSeconds: int64(time.Since(startTime).Seconds()),
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// ReadinessProbe returns a readiness check with dependency validation, for
// deployments where traffic should be withheld until dependencies respond
// (the Redis dedup backend, when enabled).
func ReadinessProbe(serviceName, version string, checks map[string]func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ready"
		checkResults := make(map[string]CheckStatus)
		allHealthy := true
		now := time.Now().UTC()

		type checkResult struct {
			name     string
			err      error
			duration time.Duration
		}

		resultChan := make(chan checkResult, len(checks))
		var wg sync.WaitGroup

		for name, checkFunc := range checks {
			wg.Add(1)
			go func(n string, cf func() error) {
				defer wg.Done()
				start := time.Now()
				err := cf()
				resultChan <- checkResult{name: n, err: err, duration: time.Since(start)}
			}(name, checkFunc)
		}

		go func() {
			wg.Wait()
			close(resultChan)
		}()

		for result := range resultChan {
			if result.err != nil {
				checkResults[result.name] = CheckStatus{
					Status:    "unhealthy",
					Message:   result.err.Error(),
					Duration:  result.duration.String(),
					Timestamp: now.Format(time.RFC3339),
				}
				status = "not ready"
				allHealthy = false
			} else {
				checkResults[result.name] = CheckStatus{
					Status:    "healthy",
					Duration:  result.duration.String(),
					Timestamp: now.Format(time.RFC3339),
				}
			}
		}

		statusCode := http.StatusOK
		if !allHealthy {
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, HealthResponse{
			Status:        status,
			Service:       serviceName,
			Version:       version,
			UptimeSeconds: int64(time.Since(startTime).Seconds()),
			Timestamp:     now.Format(time.RFC3339),
			Checks:        checkResults,
		})
	}
}
