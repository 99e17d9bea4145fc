package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// plainHandler is a minimal slog.Handler that prints only the message
// (prefixed by the intention icon, if any) and appends key=value pairs,
// without time/level decorations. Warnings and errors get a short level tag
// so they stand out in service logs.
type plainHandler struct {
	w       io.Writer
	attrs   []slog.Attr
	mu      *sync.Mutex
	leveler slog.Leveler
}

func newPlainHandler(w io.Writer, leveler slog.Leveler) slog.Handler {
	return &plainHandler{w: w, leveler: leveler, mu: &sync.Mutex{}}
}

// Enabled implements slog.Handler by checking level
func (h *plainHandler) Enabled(_ context.Context, lvl slog.Level) bool {
	if h.leveler == nil {
		return true
	}
	return lvl >= h.leveler.Level()
}

// consoleHidden lists meta keys that never reach the console line.
var consoleHidden = map[string]bool{
	"intention": true,
	"time":      true,
	"level":     true,
	"msg":       true,
	"component": true,
}

// flatten expands group attributes one level deep.
func flatten(a slog.Attr, fn func(slog.Attr)) {
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			fn(ga)
		}
		return
	}
	fn(a)
}

// Handle prints the message and key=value pairs without time prefixes
func (h *plainHandler) Handle(_ context.Context, r slog.Record) error {
	var all []slog.Attr
	for _, a := range h.attrs {
		flatten(a, func(fa slog.Attr) { all = append(all, fa) })
	}
	r.Attrs(func(a slog.Attr) bool {
		flatten(a, func(fa slog.Attr) { all = append(all, fa) })
		return true
	})

	var b strings.Builder
	for _, a := range all {
		if a.Key == "intention" {
			b.WriteString(iconFor(Intention(a.Value.String())))
			b.WriteByte(' ')
			break
		}
	}
	if r.Level >= slog.LevelWarn {
		b.WriteString("[" + r.Level.String() + "] ")
	}
	b.WriteString(r.Message)

	for _, a := range all {
		if consoleHidden[a.Key] {
			continue
		}
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.w, b.String())
	return err
}

// WithAttrs returns a new handler with additional attributes bound
func (h *plainHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &nh
}

// WithGroup groups attributes; for plain output we encode as a group attr
func (h *plainHandler) WithGroup(name string) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), slog.Group(name))
	return &nh
}
