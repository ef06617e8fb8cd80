package async

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/fieldline/dispatch/pkg/logger"
	"go.uber.org/zap"
)

// contextKey is a private type for context keys to prevent collisions
type contextKey string

// conversationSIDKey is the context key for the conversation SID
const conversationSIDKey contextKey = "conversation_sid"

// TaskContext holds context values that should be propagated to async tasks
type TaskContext struct {
	CorrelationID   string
	ConversationSID string
	StartTime       time.Time
	TaskName        string
}

// CaptureContext captures the current context values for async propagation
func CaptureContext(ctx context.Context, taskName string) TaskContext {
	tc := TaskContext{
		StartTime: time.Now(),
		TaskName:  taskName,
	}

	tc.CorrelationID = logger.CorrelationIDFromContext(ctx)
	tc.ConversationSID = GetConversationSID(ctx)

	return tc
}

// NewContext creates a new context with the captured values. The returned
// context is detached from the original request, so the task outlives the
// request deadline.
func (tc TaskContext) NewContext() context.Context {
	ctx := context.Background()

	if tc.CorrelationID != "" {
		ctx = logger.ContextWithCorrelationID(ctx, tc.CorrelationID)
	}
	if tc.ConversationSID != "" {
		ctx = WithConversationSID(ctx, tc.ConversationSID)
	}

	return ctx
}

// NewContextWithTimeout creates a new context with timeout and captured values
func (tc TaskContext) NewContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx := tc.NewContext()
	return context.WithTimeout(ctx, timeout)
}

// Go runs a function in a goroutine with context propagation and panic
// recovery. The task receives a detached context carrying the correlation ID
// and conversation SID of the originating request.
//
// Usage:
//
//	async.Go(ctx, "dedup-record", func(ctx context.Context) {
//	    store.Complete(ctx, sid, response)
//	})
func Go(ctx context.Context, taskName string, fn func(ctx context.Context)) {
	tc := CaptureContext(ctx, taskName)

	go func() {
		defer recoverWithLogging(tc)

		newCtx := tc.NewContext()
		fn(newCtx)

		logger.DebugContext(newCtx, "async task completed",
			zap.String("task", tc.TaskName),
			zap.Duration("duration", time.Since(tc.StartTime)),
		)
	}()
}

// GoWithTimeout runs a function in a goroutine with context propagation,
// timeout, and panic recovery
//
// Usage:
//
//	async.GoWithTimeout(ctx, "cache-write", 5*time.Second, func(ctx context.Context) {
//	    cache.Set(ctx, key, value, ttl)
//	})
func GoWithTimeout(ctx context.Context, taskName string, timeout time.Duration, fn func(ctx context.Context)) {
	tc := CaptureContext(ctx, taskName)

	go func() {
		defer recoverWithLogging(tc)

		newCtx, cancel := tc.NewContextWithTimeout(timeout)
		defer cancel()

		done := make(chan struct{})
		go func() {
			defer close(done)
			fn(newCtx)
		}()

		select {
		case <-done:
			logger.DebugContext(newCtx, "async task completed",
				zap.String("task", tc.TaskName),
				zap.Duration("duration", time.Since(tc.StartTime)),
			)
		case <-newCtx.Done():
			logger.WarnContext(newCtx, "async task timed out",
				zap.String("task", tc.TaskName),
				zap.Duration("timeout", timeout),
			)
		}
	}()
}

// recoverWithLogging recovers from panics and logs them with context
func recoverWithLogging(tc TaskContext) {
	if r := recover(); r != nil {
		ctx := tc.NewContext()
		fields := []zap.Field{
			zap.String("task", tc.TaskName),
			zap.Any("panic", r),
			zap.String("stack", string(debug.Stack())),
		}
		if tc.ConversationSID != "" {
			fields = append(fields, zap.String("conversation_sid", tc.ConversationSID))
		}
		logger.ErrorContext(ctx, "async task panicked", fields...)
	}
}

// RunAll runs multiple functions concurrently and waits for all to complete.
// Unlike Go, the caller's context is passed through unchanged: RunAll blocks
// until every function returns, so the request deadline still applies.
//
// Usage:
//
//	async.RunAll(ctx, "resolve-and-extract",
//	    func(ctx context.Context) { address, addrErr = resolver.Resolve(ctx, text) },
//	    func(ctx context.Context) { intent, nluErr = extractor.Extract(ctx, text) },
//	)
func RunAll(ctx context.Context, taskName string, fns ...func(ctx context.Context)) {
	tc := CaptureContext(ctx, taskName)

	done := make(chan struct{}, len(fns))

	for i, fn := range fns {
		go func(idx int, f func(ctx context.Context)) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "async task panicked",
						zap.String("task", tc.TaskName),
						zap.Int("index", idx),
						zap.Any("panic", r),
					)
				}
				done <- struct{}{}
			}()
			f(ctx)
		}(i, fn)
	}

	// Wait for all to complete
	for range fns {
		<-done
	}

	logger.DebugContext(ctx, "all async tasks completed",
		zap.String("task", tc.TaskName),
		zap.Int("count", len(fns)),
		zap.Duration("duration", time.Since(tc.StartTime)),
	)
}

// WithCorrelationID adds or replaces the correlation ID in a context
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return logger.ContextWithCorrelationID(ctx, correlationID)
}

// GetCorrelationID extracts the correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	return logger.CorrelationIDFromContext(ctx)
}

// WithConversationSID adds the conversation SID to context for async propagation
func WithConversationSID(ctx context.Context, sid string) context.Context {
	return context.WithValue(ctx, conversationSIDKey, sid)
}

// GetConversationSID extracts the conversation SID from context
func GetConversationSID(ctx context.Context) string {
	if sid, ok := ctx.Value(conversationSIDKey).(string); ok {
		return sid
	}
	return ""
}
