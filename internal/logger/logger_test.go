package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestConsoleHandlerFormatsRecord(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	l := slog.New(NewConsoleHandler(&buf, slog.LevelInfo))

	l.With("room", 3).WithGroup("user").Info("joined", "id", 7)

	out := buf.String()
	assert.Contains(t, out, "| INFO  | joined")
	assert.Contains(t, out, " room=3")
	assert.Contains(t, out, " user.id=7")
}

func TestConsoleHandlerRespectsLevel(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	h := NewConsoleHandler(&buf, slog.LevelWarn)

	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))

	slog.New(h).Info("dropped")
	assert.Empty(t, buf.String())
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bananas": slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
