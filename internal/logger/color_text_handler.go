package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
)

const colorReset = "\033[0m"

var levelColors = map[slog.Level]string{
	slog.LevelDebug: "\033[36m", // cyan
	slog.LevelInfo:  "\033[32m", // green
	slog.LevelWarn:  "\033[33m", // yellow
	slog.LevelError: "\033[31m", // red
}

// colorOutput is shared by a handler and everything derived from it.
type colorOutput struct {
	mu  sync.Mutex
	w   io.Writer
	buf bytes.Buffer
}

// ColorTextHandler writes an ANSI-colored level tag ahead of each text
// record. The tag goes straight to the writer so the terminal sees the raw
// escape codes; the record itself is formatted by slog.TextHandler.
type ColorTextHandler struct {
	out  *colorOutput
	text slog.Handler
}

func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions) *ColorTextHandler {
	out := &colorOutput{w: w}
	return &ColorTextHandler{out: out, text: slog.NewTextHandler(&out.buf, opts)}
}

func (h *ColorTextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.text.Enabled(ctx, level)
}

func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	code, ok := levelColors[r.Level]
	if !ok {
		code = colorReset
	}
	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	h.out.buf.Reset()
	if err := h.text.Handle(ctx, r); err != nil {
		return err
	}
	if _, err := io.WriteString(h.out.w, code+r.Level.String()+colorReset+" "); err != nil {
		return err
	}
	_, err := h.out.w.Write(h.out.buf.Bytes())
	return err
}

func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ColorTextHandler{out: h.out, text: h.text.WithAttrs(attrs)}
}

func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	return &ColorTextHandler{out: h.out, text: h.text.WithGroup(name)}
}
