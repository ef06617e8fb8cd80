package errors

import (
	stderrors "errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fieldline/dispatch/pkg/common"
	"github.com/getsentry/sentry-go"
)

// SentryConfig holds the Sentry SDK settings.
type SentryConfig struct {
	DSN              string
	Environment      string
	Release          string
	SampleRate       float64
	TracesSampleRate float64
	Debug            bool
	EnableTracing    bool
	ServerName       string
	AttachStacktrace bool
}

// DefaultSentryConfig builds a config from the environment. Callers
// typically override DSN, Release and ServerName from their own config.
func DefaultSentryConfig() *SentryConfig {
	return &SentryConfig{
		DSN:              os.Getenv("SENTRY_DSN"),
		Environment:      getEnvironment(),
		Release:          os.Getenv("SENTRY_RELEASE"),
		SampleRate:       getSampleRate(),
		TracesSampleRate: getTracesSampleRate(),
		Debug:            os.Getenv("SENTRY_DEBUG") == "true",
		EnableTracing:    os.Getenv("SENTRY_ENABLE_TRACING") != "false",
		ServerName:       os.Getenv("SERVICE_NAME"),
		AttachStacktrace: true,
	}
}

// InitSentry initializes the Sentry SDK. It returns an error when the DSN
// is empty so the caller can log that reporting is off and carry on.
func InitSentry(config *SentryConfig) error {
	if config.DSN == "" {
		return fmt.Errorf("sentry DSN is not configured")
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              config.DSN,
		Environment:      config.Environment,
		Release:          config.Release,
		SampleRate:       config.SampleRate,
		TracesSampleRate: config.TracesSampleRate,
		Debug:            config.Debug,
		EnableTracing:    config.EnableTracing,
		ServerName:       config.ServerName,
		AttachStacktrace: config.AttachStacktrace,
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			// Info and Debug events are diagnostic noise, not incidents.
			if event.Level == sentry.LevelInfo || event.Level == sentry.LevelDebug {
				return nil
			}
			return event
		},
		BeforeBreadcrumb: func(breadcrumb *sentry.Breadcrumb, hint *sentry.BreadcrumbHint) *sentry.Breadcrumb {
			// Strip credentials before the breadcrumb leaves the process.
			if breadcrumb.Category == "http" && breadcrumb.Data != nil {
				delete(breadcrumb.Data, "Authorization")
				delete(breadcrumb.Data, "Cookie")
				delete(breadcrumb.Data, "X-API-Key")
			}
			return breadcrumb
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}

	return nil
}

// Flush drains the Sentry buffer, typically during shutdown.
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

// AddBreadcrumbForRequest records one HTTP request on the Sentry trail so an
// error report shows the turns that led up to it.
func AddBreadcrumbForRequest(method, url string, statusCode int, duration time.Duration) {
	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Type:      "http",
		Category:  "http.request",
		Level:     sentry.LevelInfo,
		Message:   fmt.Sprintf("%s %s", method, url),
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"method":      method,
			"url":         url,
			"status_code": statusCode,
			"duration_ms": duration.Milliseconds(),
		},
	})
}

// isBusinessError reports whether an error is an expected outcome of handling
// a customer turn rather than a fault. Malformed payloads, unknown trades and
// failed validations all land here.
func isBusinessError(err error) bool {
	if err == nil {
		return false
	}

	var appErr *common.AppError
	if stderrors.As(err, &appErr) {
		return appErr.ErrorCode != common.CodeInternalError
	}

	// Fall back to message heuristics for errors produced outside the
	// AppError hierarchy.
	businessErrors := []string{
		"validation failed",
		"invalid input",
		"not found",
		"bad request",
	}

	errMsg := strings.ToLower(err.Error())
	for _, businessErr := range businessErrors {
		if strings.Contains(errMsg, businessErr) {
			return true
		}
	}

	return false
}

// ShouldReportError decides whether an error is worth a Sentry event.
// Business errors and client mistakes are not, except 429 which usually
// means the rate limit is tuned wrong.
func ShouldReportError(err error, statusCode int) bool {
	if err == nil {
		return false
	}

	if isBusinessError(err) {
		return false
	}

	if statusCode >= 400 && statusCode < 500 && statusCode != 429 {
		return false
	}

	return true
}

func getEnvironment() string {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = os.Getenv("SENTRY_ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}
	return env
}

func getSampleRate() float64 {
	rate := os.Getenv("SENTRY_SAMPLE_RATE")
	if rate == "" {
		return 1.0
	}
	sampleRate, err := strconv.ParseFloat(rate, 64)
	if err != nil {
		return 1.0
	}
	return sampleRate
}

func getTracesSampleRate() float64 {
	rate := os.Getenv("SENTRY_TRACES_SAMPLE_RATE")
	if rate == "" {
		if getEnvironment() == "production" {
			return 0.1
		}
		return 1.0
	}
	sampleRate, err := strconv.ParseFloat(rate, 64)
	if err != nil {
		return 0.1
	}
	return sampleRate
}
