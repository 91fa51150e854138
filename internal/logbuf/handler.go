package logbuf

import (
	"context"
	"log/slog"
)

// CaptureHandler is an slog.Handler that records every entry into a Buffer
// and forwards to an inner handler. The buffer captures all levels so
// diagnostics keep debug records even when stdout filters them.
type CaptureHandler struct {
	inner  slog.Handler
	buf    *Buffer
	bound  []slog.Attr
	groups []string
}

// NewCaptureHandler wraps inner so records also land in buf.
func NewCaptureHandler(inner slog.Handler, buf *Buffer) *CaptureHandler {
	return &CaptureHandler{inner: inner, buf: buf}
}

func (h *CaptureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *CaptureHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.bound)+r.NumAttrs())
	for _, a := range h.bound {
		attrs[a.Key] = attrValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[h.key(a.Key)] = attrValue(a.Value)
		return true
	})
	if len(attrs) == 0 {
		attrs = nil
	}

	h.buf.Append(Entry{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
		Attrs:   attrs,
	})

	if h.inner.Enabled(ctx, r.Level) {
		return h.inner.Handle(ctx, r)
	}
	return nil
}

func (h *CaptureHandler) key(k string) string {
	for i := len(h.groups) - 1; i >= 0; i-- {
		k = h.groups[i] + "." + k
	}
	return k
}

// attrValue resolves an slog value into something JSON-safe; errors become
// strings so they do not marshal to {}.
func attrValue(v slog.Value) any {
	v = v.Resolve()
	raw := v.Any()
	if err, ok := raw.(error); ok {
		return err.Error()
	}
	return raw
}

// WithAttrs qualifies the new attrs with the group path in effect now, so a
// later WithGroup cannot retroactively re-key them.
func (h *CaptureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := h.bound[:len(h.bound):len(h.bound)]
	for _, a := range attrs {
		bound = append(bound, slog.Attr{Key: h.key(a.Key), Value: a.Value})
	}
	return &CaptureHandler{
		inner:  h.inner.WithAttrs(attrs),
		buf:    h.buf,
		bound:  bound,
		groups: h.groups,
	}
}

func (h *CaptureHandler) WithGroup(name string) slog.Handler {
	return &CaptureHandler{
		inner:  h.inner.WithGroup(name),
		buf:    h.buf,
		bound:  h.bound,
		groups: append(h.groups[:len(h.groups):len(h.groups)], name),
	}
}
