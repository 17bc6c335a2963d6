// Package logging carries run correlation ids through context for slog.
// The ids are used for log enrichment only; collaborators receive them
// explicitly.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

type ctxKey int

const (
	threadIDKey ctxKey = iota
	runIDKey
	nodeSlugKey
)

// correlation lists the context keys and the attribute each one becomes.
var correlation = []struct {
	key  ctxKey
	attr string
}{
	{threadIDKey, "thread_id"},
	{runIDKey, "run_id"},
	{nodeSlugKey, "node_slug"},
}

// WithThreadID returns a context with the thread ID set.
func WithThreadID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, threadIDKey, id)
}

// WithRunID returns a context with the run ID set.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// WithNodeSlug returns a context with the executing node set.
func WithNodeSlug(ctx context.Context, slug string) context.Context {
	return context.WithValue(ctx, nodeSlugKey, slug)
}

// ThreadID extracts the thread ID from the context, or "" if absent.
func ThreadID(ctx context.Context) string { return value(ctx, threadIDKey) }

// RunID extracts the run ID from the context, or "" if absent.
func RunID(ctx context.Context) string { return value(ctx, runIDKey) }

// NodeSlug extracts the node slug from the context, or "" if absent.
func NodeSlug(ctx context.Context) string { return value(ctx, nodeSlugKey) }

func value(ctx context.Context, k ctxKey) string {
	v, _ := ctx.Value(k).(string)
	return v
}

func attrs(ctx context.Context) []slog.Attr {
	var out []slog.Attr
	for _, c := range correlation {
		if v := value(ctx, c.key); v != "" {
			out = append(out, slog.String(c.attr, v))
		}
	}
	return out
}

// LogWith returns a logger enriched with the correlation IDs of ctx.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range attrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler and stamps the correlation IDs of
// the record's context on every record, so logger.InfoContext(ctx, ...) is
// enough.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(attrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(a []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(a)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}

// New builds the process logger: a text or json handler at the given level,
// wrapped in a CorrelationHandler. Unknown levels fall back to info.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(NewCorrelationHandler(h))
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
