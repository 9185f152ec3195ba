package logging

import (
	"context"
	"log/slog"
)

// SessionGroup is the key the session attributes are logged under.
const SessionGroup = "session"

// ContextProvider returns attributes describing the live session, such as
// connection state and entity count. It is called once per record.
type ContextProvider func() []slog.Attr

// groupOrAttrs is one WithGroup or WithAttrs call made after the first group
// was opened.
type groupOrAttrs struct {
	group string
	attrs []slog.Attr
}

// ContextHandler adds the provider's attributes to every record under a
// fixed top-level group. Groups opened by callers never capture them.
type ContextHandler struct {
	inner    slog.Handler
	provider ContextProvider
	group    string
	goas     []groupOrAttrs
}

// NewContextHandler wraps inner. An empty group logs the provider's
// attributes at the top level.
func NewContextHandler(inner slog.Handler, group string, provider ContextProvider) *ContextHandler {
	return &ContextHandler{
		inner:    inner,
		provider: provider,
		group:    group,
	}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	var extra []slog.Attr
	if h.provider != nil {
		extra = h.provider()
	}
	if len(h.goas) == 0 && len(extra) == 0 {
		return h.inner.Handle(ctx, r)
	}

	attrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	for i := len(h.goas) - 1; i >= 0; i-- {
		g := h.goas[i]
		if g.group != "" {
			attrs = []slog.Attr{{Key: g.group, Value: slog.GroupValue(attrs...)}}
			continue
		}
		attrs = append(append([]slog.Attr(nil), g.attrs...), attrs...)
	}

	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	out.AddAttrs(attrs...)
	if len(extra) > 0 {
		if h.group == "" {
			out.AddAttrs(extra...)
		} else {
			out.AddAttrs(slog.Attr{Key: h.group, Value: slog.GroupValue(extra...)})
		}
	}
	return h.inner.Handle(ctx, out)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	c := *h
	if len(h.goas) == 0 {
		c.inner = h.inner.WithAttrs(attrs)
		return &c
	}
	c.goas = append(append([]groupOrAttrs(nil), h.goas...), groupOrAttrs{attrs: attrs})
	return &c
}

// WithGroup is tracked here rather than passed down, so the session group
// stays at the top level of the inner handler.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.goas = append(append([]groupOrAttrs(nil), h.goas...), groupOrAttrs{group: name})
	return &c
}
