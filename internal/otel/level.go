package otelsetup

import (
	"context"
	"log/slog"
)

// LevelHandler drops records below a minimum level before they reach the
// wrapped handler. The otelslog bridge has no level option of its own.
type LevelHandler struct {
	level slog.Leveler
	next  slog.Handler
}

// NewLevelHandler wraps next. A nil level means slog.LevelInfo.
func NewLevelHandler(level slog.Leveler, next slog.Handler) *LevelHandler {
	if level == nil {
		level = slog.LevelInfo
	}

	// Avoid stacking wrappers.
	if lh, ok := next.(*LevelHandler); ok {
		next = lh.next
	}

	return &LevelHandler{level: level, next: next}
}

func (h *LevelHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.level.Level() && h.next.Enabled(ctx, l)
}

func (h *LevelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.next.Handle(ctx, r)
}

func (h *LevelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewLevelHandler(h.level, h.next.WithAttrs(attrs))
}

func (h *LevelHandler) WithGroup(name string) slog.Handler {
	return NewLevelHandler(h.level, h.next.WithGroup(name))
}

// Handler returns the wrapped handler.
func (h *LevelHandler) Handler() slog.Handler { return h.next }
