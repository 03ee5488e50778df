package observability_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jetperch/jls/internal/observability"
)

func recordingLogger() (*observability.CoreLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return observability.NewCoreLogger(
		slog.New(slog.NewJSONHandler(buf, nil)), nil), buf
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var record map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &record))
	return record
}

func Test_CaptureError_LogsWithoutSentry(t *testing.T) {
	logger, buf := recordingLogger()

	logger.CaptureError(errors.New("chunk write failed"), "offset", 128)

	record := lastRecord(t, buf)
	assert.Equal(t, "ERROR", record["level"])
	assert.Equal(t, "chunk write failed", record["msg"])
	assert.EqualValues(t, 128, record["offset"])
}

func Test_With_AddsAttrs(t *testing.T) {
	logger, buf := recordingLogger()

	logger.With("signal_id", 5).Info("defined")

	record := lastRecord(t, buf)
	assert.EqualValues(t, 5, record["signal_id"])
	assert.Equal(t, "defined", record["msg"])
}

func Test_NoOpLogger_DoesNotPanic(t *testing.T) {
	logger := observability.NewNoOpLogger()

	logger.CaptureError(errors.New("boom"))
	logger.CaptureWarn("warning")
	logger.Info("info")
}
