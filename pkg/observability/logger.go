package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

const (
	attrTraceID   = "trace_id"
	attrSpanID    = "span_id"
	attrService   = "service"
	attrComponent = "component"
	attrEnv       = "env"
)

// TraceContextHandler is an [slog.Handler] that stamps every record
// with the active span's trace_id and span_id plus service metadata.
// Service attributes are pre-attached at construction so they stay at
// the top level even when groups are used.
type TraceContextHandler struct {
	inner slog.Handler
}

// NewTraceContextHandler wraps an [slog.Handler] with trace context and
// service metadata injection.
func NewTraceContextHandler(inner slog.Handler, service, env string, component Component) *TraceContextHandler {
	attrs := []slog.Attr{
		slog.String(attrService, service),
		slog.String(attrComponent, string(component)),
	}

	if env != "" {
		attrs = append(attrs, slog.String(attrEnv, env))
	}

	return &TraceContextHandler{
		inner: inner.WithAttrs(attrs),
	}
}

// Enabled delegates to the inner handler.
func (h *TraceContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle adds trace context attributes from the span context, then delegates.
func (h *TraceContextHandler) Handle(ctx context.Context, record slog.Record) error {
	sc := trace.SpanContextFromContext(ctx)
	if sc.IsValid() {
		record.AddAttrs(
			slog.String(attrTraceID, sc.TraceID().String()),
			slog.String(attrSpanID, sc.SpanID().String()),
		)
	}

	err := h.inner.Handle(ctx, record)
	if err != nil {
		return fmt.Errorf("trace context handler: %w", err)
	}

	return nil
}

// WithAttrs returns a new handler with additional attributes on the inner handler.
func (h *TraceContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceContextHandler{
		inner: h.inner.WithAttrs(attrs),
	}
}

// WithGroup returns a new handler with a group prefix on the inner handler.
func (h *TraceContextHandler) WithGroup(name string) slog.Handler {
	return &TraceContextHandler{
		inner: h.inner.WithGroup(name),
	}
}
