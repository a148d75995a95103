package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installTracing registers an SDK tracer provider globally and returns the
// in-memory exporter collecting its spans.
func installTracing(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return exp
}

// captureLogs redirects slog.Default to a buffer for the test's duration.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestCorrelationIDWithoutSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID on a bare context = %q, want empty", got)
	}
}

func TestCorrelationIDFormat(t *testing.T) {
	installTracing(t)

	ctx, span := StartSpan(context.Background(), "call.bridge")
	defer span.End()

	id := CorrelationID(ctx)
	if len(id) != 32 {
		t.Fatalf("trace ID length = %d, want 32", len(id))
	}
	if strings.Trim(id, "0123456789abcdef") != "" {
		t.Errorf("trace ID %q contains non-hex characters", id)
	}
}

func TestCorrelationIDDistinctPerTrace(t *testing.T) {
	installTracing(t)

	seen := make(map[string]struct{}, 50)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "call.bridge")
		id := CorrelationID(ctx)
		span.End()
		if _, dup := seen[id]; dup {
			t.Fatalf("trace ID %s issued twice", id)
		}
		seen[id] = struct{}{}
	}
}

func TestStartSpanRecordsName(t *testing.T) {
	exp := installTracing(t)

	ctx, span := StartSpan(context.Background(), "session.call")
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan produced a context without a trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "session.call" {
		t.Fatalf("spans = %+v, want one span named session.call", spans)
	}
}

func TestLoggerAddsTraceFields(t *testing.T) {
	installTracing(t)
	buf := captureLogs(t)

	ctx, span := StartSpan(context.Background(), "session.call")
	defer span.End()

	Logger(ctx).Info("bridging call")

	out := buf.String()
	for _, field := range []string{"trace_id=", "span_id="} {
		if !strings.Contains(out, field) {
			t.Errorf("log line missing %s: %s", field, out)
		}
	}
}

func TestLoggerWithoutSpanIsPlain(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("startup")

	if out := buf.String(); strings.Contains(out, "trace_id") {
		t.Errorf("log line should carry no trace_id without a span: %s", out)
	}
}
