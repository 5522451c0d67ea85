package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsToInfoJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Output: &buf})
	require.NoError(t, err)

	ctx := context.Background()
	logger.Debug(ctx, "hidden")
	logger.Info(ctx, "task started", "target", "events-v1-2024.01.01", "attempts", 1)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &decoded))
	assert.Equal(t, "info", decoded["level"])
	assert.Equal(t, "task started", decoded["message"])
	assert.Equal(t, "events-v1-2024.01.01", decoded["target"])
	assert.Equal(t, float64(1), decoded["attempts"])
}

func TestNew_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "error", Output: &buf})
	require.NoError(t, err)

	ctx := context.Background()
	logger.Info(ctx, "ignored")
	logger.Warn(ctx, "ignored too")
	logger.Error(ctx, "kept", "duration", time.Second)

	assert.Contains(t, buf.String(), "kept")
	assert.NotContains(t, buf.String(), "ignored")
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})

	assert.Error(t, err)
}

func TestNew_RejectsUnknownFormat(t *testing.T) {
	_, err := New(Options{Format: "xml"})

	assert.Error(t, err)
}

func TestNew_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Format: FormatConsole, Output: &buf})
	require.NoError(t, err)

	logger.Warn(context.Background(), "retrying", "target", "stacks-v1")

	assert.Contains(t, buf.String(), "retrying")
	assert.Contains(t, buf.String(), "stacks-v1")
}

func TestNop_DiscardsEverything(t *testing.T) {
	logger := Nop()
	ctx := context.Background()

	assert.NotPanics(t, func() {
		logger.Debug(ctx, "a")
		logger.Info(ctx, "b")
		logger.Warn(ctx, "c")
		logger.Error(ctx, "d")
	})
}

func TestRecorder_CapturesCalls(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()

	r.Info(ctx, "COMPLETED", "target", "users-v1")
	r.Error(ctx, "FAILED", "target", "tokens-v1")

	entries := r.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "info", entries[0].Level)
	assert.Equal(t, "users-v1", entries[0].Value("target"))
	assert.Nil(t, entries[0].Value("missing"))
	assert.Len(t, r.Messages("FAILED"), 1)
}
