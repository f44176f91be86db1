// Package logger provides the console slog handler used by the relay. Levels
// are coloured with fatih/color; colour is dropped automatically when the
// output is not a terminal.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

const timeFormat = "2006-01-02T15:04:05"

// ConsoleHandler renders records as `time | LEVEL | message key=value ...`.
type ConsoleHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

// NewConsoleHandler returns a handler writing to w at the given minimum level.
func NewConsoleHandler(w io.Writer, level slog.Leveler) *ConsoleHandler {
	return &ConsoleHandler{
		mu:    &sync.Mutex{},
		w:     w,
		level: level,
	}
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	b.WriteString(color.GreenString(r.Time.Format(timeFormat)))
	b.WriteString(" | ")
	b.WriteString(levelString(r.Level))
	b.WriteString(" | ")
	b.WriteString(color.CyanString(r.Message))

	for _, attr := range h.attrs {
		writeAttr(&b, "", attr)
	}
	r.Attrs(func(attr slog.Attr) bool {
		writeAttr(&b, h.prefix, attr)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	for _, attr := range attrs {
		if h.prefix != "" {
			attr.Key = h.prefix + attr.Key
		}
		merged = append(merged, attr)
	}

	clone := *h
	clone.attrs = merged
	return &clone
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

func levelString(level slog.Level) string {
	s := fmt.Sprintf("%-5s", level.String())
	switch {
	case level >= slog.LevelError:
		return color.RedString(s)
	case level >= slog.LevelWarn:
		return color.YellowString(s)
	case level >= slog.LevelInfo:
		return color.BlueString(s)
	default:
		return color.MagentaString(s)
	}
}

func writeAttr(b *strings.Builder, prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	if attr.Value.Kind() == slog.KindGroup {
		for _, nested := range attr.Value.Group() {
			writeAttr(b, prefix+attr.Key+".", nested)
		}
		return
	}
	b.WriteString(color.CyanString(fmt.Sprintf(" %s%s=%v", prefix, attr.Key, attr.Value.Any())))
}

// ParseLevel maps a config string to a slog level. Unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init installs a console logger on stdout as the slog default and returns it.
func Init(level string) *slog.Logger {
	l := slog.New(NewConsoleHandler(os.Stdout, ParseLevel(level)))
	slog.SetDefault(l)
	l.Debug("Logger initialized")
	return l
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
