// Package observability provides the logger used throughout the engine.
//
// CoreLogger wraps a slog.Logger and optionally forwards captured errors and
// warnings to a Sentry hub. Captures are rate limited so that a wedged writer
// retrying the same failed operation does not flood the upload path.
package observability

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

type CoreLogger struct {
	mu sync.Mutex // guards sentryHub scope operations

	*slog.Logger
	sentryHub *sentry.Hub // nil disables capturing

	limiter *captureLimiter
}

// NewCoreLogger returns a logger writing to the slog Logger and uploading
// captured messages through a clone of sentryHub.
//
// sentryHub may be nil to disable capturing.
func NewCoreLogger(logger *slog.Logger, sentryHub *sentry.Hub) *CoreLogger {
	const limiterCacheSize = 64
	const limiterMinInterval = 5 * time.Minute

	if sentryHub != nil {
		sentryHub = sentryHub.Clone()
	}

	return &CoreLogger{
		Logger:    logger,
		sentryHub: sentryHub,

		// newCaptureLimiter only fails on a non-positive cache size.
		limiter: newCaptureLimiter(limiterCacheSize, limiterMinInterval),
	}
}

// With returns a derived logger that includes the given attrs in each
// message.
func (cl *CoreLogger) With(args ...any) *CoreLogger {
	var hub *sentry.Hub
	if cl.sentryHub != nil {
		hub = cl.sentryHub.Clone()
	}

	return &CoreLogger{
		Logger:    cl.Logger.With(args...),
		sentryHub: hub,
		limiter:   cl.limiter,
	}
}

// CaptureError logs an error and uploads it if capturing is enabled.
func (cl *CoreLogger) CaptureError(err error, args ...any) {
	cl.Error(err.Error(), args...)

	if cl.sentryHub == nil || !cl.limiter.allow(err.Error()) {
		return
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.sentryHub.CaptureException(err)
}

// CaptureWarn logs a warning and uploads it if capturing is enabled.
func (cl *CoreLogger) CaptureWarn(msg string, args ...any) {
	cl.Warn(msg, args...)

	if cl.sentryHub == nil || !cl.limiter.allow(msg) {
		return
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.sentryHub.CaptureMessage(msg)
}

// NewNoOpLogger returns a logger that discards all messages.
func NewNoOpLogger() *CoreLogger {
	return NewCoreLogger(slog.New(slog.NewJSONHandler(io.Discard, nil)), nil)
}
