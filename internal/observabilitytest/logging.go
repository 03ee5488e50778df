// Package observabilitytest provides loggers for tests.
package observabilitytest

import (
	"log/slog"
	"testing"

	"github.com/jetperch/jls/internal/observability"
)

// NewTestLogger returns a logger captured by the testing framework.
//
// Messages at or above INFO level show up in the test output on failure,
// which helps debugging.
func NewTestLogger(t *testing.T) *observability.CoreLogger {
	t.Helper()
	return observability.NewCoreLogger(
		slog.New(slog.NewTextHandler(t.Output(), nil)),
		nil,
	)
}
