package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pterm/pterm"
)

// ptermHandler is a minimal slog.Handler that routes records through
// pterm's styled printers, so CLI warnings/errors match the rest of the
// tool's colored output instead of slog's default plain-text writer.
type ptermHandler struct {
	attrs []slog.Attr
}

func newPtermHandler() *ptermHandler { return &ptermHandler{} }

func (h *ptermHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *ptermHandler) Handle(_ context.Context, r slog.Record) error {
	var fields []string
	for _, a := range h.attrs {
		fields = append(fields, fmt.Sprintf("%s=%v", a.Key, a.Value))
	}
	r.Attrs(func(a slog.Attr) bool {
		fields = append(fields, fmt.Sprintf("%s=%v", a.Key, a.Value))
		return true
	})
	msg := r.Message
	if len(fields) > 0 {
		msg = msg + " (" + strings.Join(fields, ", ") + ")"
	}

	switch {
	case r.Level >= slog.LevelError:
		pterm.Error.Println(msg)
	case r.Level >= slog.LevelWarn:
		pterm.Warning.Println(msg)
	case r.Level >= slog.LevelInfo:
		pterm.Info.Println(msg)
	default:
		pterm.Debug.Println(msg)
	}
	return nil
}

func (h *ptermHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ptermHandler{attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
}

func (h *ptermHandler) WithGroup(string) slog.Handler { return h }

var _ slog.Handler = (*ptermHandler)(nil)
