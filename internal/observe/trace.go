package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is also the meter scope, so spans and instruments group together.
const tracerName = "github.com/MrWong99/sloane"

// Tracer is resolved from the global provider on every call, so a provider
// installed by [InitProvider] after package init is still picked up.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan opens a span for one relay step: an HTTP request, a dispatch, a
// model attempt. End it with span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID is the hex trace id echoed in X-Correlation-ID, or "" outside
// a span.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

type captureIDKey struct{}

// WithCaptureID tags ctx with the id of a capture socket, so every log line of
// that connection can be found together.
func WithCaptureID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, captureIDKey{}, id)
}

// CaptureID returns the id set by [WithCaptureID], or "".
func CaptureID(ctx context.Context) string {
	id, _ := ctx.Value(captureIDKey{}).(string)
	return id
}

// Logger is the default logger plus whatever ctx identifies: trace_id and
// span_id inside a span, capture_id on a capture socket.
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()))
	}
	if id := CaptureID(ctx); id != "" {
		attrs = append(attrs, slog.String("capture_id", id))
	}
	if len(attrs) == 0 {
		return slog.Default()
	}
	return slog.Default().With(attrs...)
}
