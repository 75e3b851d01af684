package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, Options{})
	require.NoError(t, err)

	log.Info("hello", "service", "github")
	log.V(1).Info("hidden")

	out := buf.String()
	assert.Contains(t, out, "msg=hello")
	assert.Contains(t, out, "service=github")
	assert.NotContains(t, out, "hidden")
}

func TestNewJSONWithVerbosity(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, Options{Format: FormatJSON, Verbosity: 1})
	require.NoError(t, err)

	log.V(1).Info("detail", "n", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "detail", rec["msg"])
	assert.EqualValues(t, 3, rec["n"])
}

func TestNewErrorLevelSuppressesInfo(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, Options{Level: "error"})
	require.NoError(t, err)

	log.Info("quiet")
	assert.Empty(t, buf.String())
}

func TestNewUnknownFormat(t *testing.T) {
	_, err := New(&bytes.Buffer{}, Options{Format: "xml"})
	assert.Error(t, err)
}

func TestContext(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, Options{})
	require.NoError(t, err)

	ctx := NewContext(context.Background(), log)
	FromContext(ctx).Info("from context")
	assert.Contains(t, buf.String(), "from context")

	// No logger on the context discards silently.
	FromContext(context.Background()).Info("nowhere")
}
