package resilience

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/fieldline/dispatch/pkg/logger"
	"go.uber.org/zap"
)

// RetryConfig defines the retry policy for one class of operation.
type RetryConfig struct {
	// MaxAttempts counts the initial attempt too.
	MaxAttempts int
	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps the computed delay.
	MaxBackoff time.Duration
	// BackoffMultiplier grows the delay between attempts, typically 2.0.
	BackoffMultiplier float64
	// EnableJitter randomizes each delay within ten percent of its
	// computed value.
	EnableJitter bool
	// RetryableErrors lists errors worth retrying. Ignored when
	// RetryableChecker is set.
	RetryableErrors []error
	// RetryableChecker decides whether an error is worth retrying.
	RetryableChecker func(error) bool
}

// TransientRetryConfig returns the retry policy applied to upstream provider
// calls: two retries after the initial attempt, exponential backoff starting
// at 100ms, and only transient failures retried.
func TransientRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
		EnableJitter:      true,
		RetryableChecker:  IsTransient,
	}
}

// RetryWithName runs the operation under the policy and records attempt and
// duration metrics under operationName.
func RetryWithName(ctx context.Context, config RetryConfig, operation Operation, operationName string) (interface{}, error) {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}

	startTime := time.Now()
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			RecordRetryOperation(operationName, time.Since(startTime).Seconds(), attempt, false)
			return nil, ctx.Err()
		default:
		}

		result, err := operation(ctx)
		if err == nil {
			RecordRetryAttempt(operationName, true)
			RecordRetryOperation(operationName, time.Since(startTime).Seconds(), attempt, true)

			if attempt > 1 {
				logger.Get().Info("operation succeeded after retry",
					zap.Int("attempt", attempt),
					zap.Int("max_attempts", config.MaxAttempts),
					zap.String("operation", operationName),
				)
			}
			return result, nil
		}

		RecordRetryAttempt(operationName, false)
		lastErr = err

		if !shouldRetry(err, config) {
			logger.Get().Debug("error is not retryable",
				zap.Error(err),
				zap.Int("attempt", attempt),
				zap.String("operation", operationName),
			)
			RecordRetryOperation(operationName, time.Since(startTime).Seconds(), attempt, false)
			return nil, err
		}

		if attempt == config.MaxAttempts {
			logger.Get().Warn("operation failed after all retry attempts",
				zap.Error(err),
				zap.Int("attempts", attempt),
				zap.String("operation", operationName),
			)
			break
		}

		backoff := calculateBackoff(attempt, config)
		RecordRetryBackoff(operationName, backoff.Seconds())

		logger.Get().Info("retrying operation after backoff",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", config.MaxAttempts),
			zap.Duration("backoff", backoff),
			zap.String("operation", operationName),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			RecordRetryOperation(operationName, time.Since(startTime).Seconds(), attempt+1, false)
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	RecordRetryOperation(operationName, time.Since(startTime).Seconds(), config.MaxAttempts, false)
	return nil, lastErr
}

// RetryWithBreaker runs the operation through the breaker inside the retry
// loop, so an open breaker fails fast instead of burning attempts. Metrics
// are recorded under the breaker's name.
func RetryWithBreaker(ctx context.Context, config RetryConfig, breaker *CircuitBreaker, operation Operation) (interface{}, error) {
	name := breaker.Name()
	if name == "" {
		name = "unknown"
	}
	return RetryWithName(ctx, config, func(ctx context.Context) (interface{}, error) {
		return breaker.Execute(ctx, operation)
	}, name)
}

func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	// initial * multiplier^(attempt-1), capped.
	backoff := float64(config.InitialBackoff) * math.Pow(config.BackoffMultiplier, float64(attempt-1))
	if backoff > float64(config.MaxBackoff) {
		backoff = float64(config.MaxBackoff)
	}

	duration := time.Duration(backoff)

	if config.EnableJitter {
		duration = addJitter(duration)
	}

	return duration
}

// addJitter randomizes the delay within ten percent of its computed value so
// simultaneous callers do not retry in lockstep.
func addJitter(duration time.Duration) time.Duration {
	if duration <= 0 {
		return duration
	}
	band := int64(duration) / 10
	if band <= 0 {
		return duration
	}
	offset := rand.Int63n(2*band+1) - band
	return time.Duration(int64(duration) + offset)
}

func shouldRetry(err error, config RetryConfig) bool {
	if err == nil {
		return false
	}

	if config.RetryableChecker != nil {
		return config.RetryableChecker(err)
	}

	if len(config.RetryableErrors) > 0 {
		for _, retryableErr := range config.RetryableErrors {
			if errors.Is(err, retryableErr) {
				return true
			}
		}
		return false
	}

	// With no explicit policy, retry everything except caller cancellation
	// and open breakers.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}

	return true
}

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// IsTransient reports whether an upstream failure is worth retrying:
// network errors, attempt timeouts, and retryable HTTP statuses. Caller
// cancellation and open breakers are permanent. An expired attempt deadline
// is transient here; the retry loop stops on its own once the surrounding
// context is spent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}

	var coder StatusCoder
	if errors.As(err, &coder) {
		return IsRetryableHTTPStatus(coder.StatusCode())
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsRetryableHTTPStatus reports whether an upstream status is worth another
// attempt: 408, 429 and the 5xx gateway family.
func IsRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
