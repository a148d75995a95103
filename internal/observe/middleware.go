package observe

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Middleware wraps an [http.Handler] with tracing, request metrics, and
// completion logging. Inbound W3C Trace Context headers are honored so a
// carrier that forwards traceparent keeps the webhook in its trace; otherwise
// a new trace starts here. The trace ID is echoed back as X-Correlation-ID.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return &traced{next: next, metrics: m}
	}
}

type traced struct {
	next    http.Handler
	metrics *Metrics
	prop    propagation.TraceContext
}

func (h *traced) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	begin := time.Now()

	ctx := h.prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := StartSpan(ctx, r.Method+" "+r.URL.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		),
	)
	defer span.End()

	if id := CorrelationID(ctx); id != "" {
		w.Header().Set("X-Correlation-ID", id)
	}
	h.prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

	sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
	h.next.ServeHTTP(sw, r.WithContext(ctx))

	elapsed := time.Since(begin)
	span.SetAttributes(semconv.HTTPResponseStatusCode(sw.code))
	h.metrics.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("path", r.URL.Path),
		),
	)

	Logger(ctx).Info("http request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", sw.code,
		"elapsed", elapsed,
	)
}

// statusWriter records the code passed to WriteHeader. Unwrap keeps Hijack
// reachable through [http.ResponseController] so the media-stream WebSocket
// upgrade still works behind the middleware.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
