package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ternarybob/arbor"
)

// Slog returns a *slog.Logger that writes through the global arbor logger.
// Library packages take a *slog.Logger; the service and CLI hand them this.
func Slog(level string) *slog.Logger {
	return slog.New(NewHandler(GetLogger(), ParseLevel(level)))
}

// ParseLevel maps an arbor level name to a slog level. Unknown names map to
// info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "fatal", "panic":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Handler is a slog.Handler backed by an arbor logger.
type Handler struct {
	log    arbor.ILogger
	level  slog.Leveler
	attrs  []field
	prefix string
}

type field struct {
	key   string
	value string
}

// NewHandler creates a handler writing to log at or above level.
func NewHandler(log arbor.ILogger, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{log: log, level: level}
}

// Enabled reports whether records at l are written.
func (h *Handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

// Handle writes r as one arbor event.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	fields := make([]field, 0, len(h.attrs)+r.NumAttrs())
	fields = append(fields, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		fields = appendAttr(fields, h.prefix, a)
		return true
	})

	switch {
	case r.Level >= slog.LevelError:
		write(h.log.Error(), fields).Msg(r.Message)
	case r.Level >= slog.LevelWarn:
		write(h.log.Warn(), fields).Msg(r.Message)
	case r.Level >= slog.LevelInfo:
		write(h.log.Info(), fields).Msg(r.Message)
	default:
		write(h.log.Debug(), fields).Msg(r.Message)
	}
	return nil
}

// WithAttrs returns a handler that adds attrs to every record.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]field(nil), h.attrs...)
	for _, a := range attrs {
		next.attrs = appendAttr(next.attrs, h.prefix, a)
	}
	return &next
}

// WithGroup returns a handler that prefixes later keys with name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func appendAttr(fields []field, prefix string, a slog.Attr) []field {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return fields
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, g := range a.Value.Group() {
			fields = appendAttr(fields, p, g)
		}
		return fields
	}

	var v string
	switch a.Value.Kind() {
	case slog.KindString:
		v = a.Value.String()
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			v = err.Error()
		} else {
			v = fmt.Sprint(a.Value.Any())
		}
	default:
		v = a.Value.String()
	}
	return append(fields, field{key: prefix + a.Key, value: v})
}

// write adds fields to an arbor event.
func write[E interface{ Str(string, string) E }](ev E, fields []field) E {
	for _, f := range fields {
		ev = ev.Str(f.key, f.value)
	}
	return ev
}
