package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestLoggerEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("collection", "users").Info("document stored")

	entry := lastLine(t, &buf)
	assert.Equal(t, "document stored", entry["msg"])
	assert.Equal(t, "users", entry["collection"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WarnLevel, &buf)

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	entry := lastLine(t, &buf)
	assert.Equal(t, "kept", entry["msg"])
}

func TestLoggerWithFieldsDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(InfoLevel, &buf)
	parent.WithFields(map[string]interface{}{"webhook_id": "wh-1"}).Info("delivered")

	parent.Info("plain")
	entry := lastLine(t, &buf)
	_, hasField := entry["webhook_id"]
	assert.False(t, hasField)
}

func TestLoggerWithErrorNil(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)
	assert.Same(t, logger, logger.WithError(nil))
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = WithUserID(ctx, "user-456")

	logger.WithContext(ctx).Info("request handled")

	entry := lastLine(t, &buf)
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "user-456", entry["user_id"])
}

func TestLoggerWithContextEmpty(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithContext(context.Background()).Info("request handled")

	entry := lastLine(t, &buf)
	_, hasRequestID := entry["request_id"]
	_, hasUserID := entry["user_id"]
	assert.False(t, hasRequestID)
	assert.False(t, hasUserID)
}
