package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	h, err := New(FormatJSON, "warn", &buf)
	require.NoError(t, err)

	log := slog.New(h)
	log.Info("dropped")
	log.Warn("source call failed", "source", "primary")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "source call failed", line["msg"])
	assert.Equal(t, "primary", line["source"])
	assert.Equal(t, "WARN", line["level"])
}

func TestNew_AutoFallsBackToJSONWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	h, err := New(FormatAuto, "", &buf)
	require.NoError(t, err)

	slog.New(h).Info("started", "port", "8080")
	assert.True(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestNew_PrettyWithoutTerminalHasNoColor(t *testing.T) {
	var buf bytes.Buffer
	h, err := New(FormatPretty, "debug", &buf)
	require.NoError(t, err)

	slog.New(h).Debug("cache hit", "key", "triple:list")
	out := buf.String()
	assert.Contains(t, out, "cache hit")
	assert.Contains(t, out, "key=triple:list")
	assert.NotContains(t, out, "\x1b[")
}

func TestNew_Errors(t *testing.T) {
	_, err := New("xml", "info", &bytes.Buffer{})
	assert.Error(t, err)

	_, err = New(FormatJSON, "loud", &bytes.Buffer{})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
