package telemetry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(debug bool) (*Tracer, *tracetest.SpanRecorder) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	return NewTracerWithProvider(tp, "test", debug), rec
}

func attr(kvs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range kvs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTaskAndAttemptSpans(t *testing.T) {
	tr, rec := newRecordingTracer(false)

	ctx, task := tr.StartTaskSpan(context.Background(), "/t/a.md", "w1")
	_, attempt := tr.StartAttemptSpan(ctx, "codex", "o4-mini", 1, 3)
	tr.EndAttemptSpan(attempt, AttemptSpanOptions{ReturnCode: 2, Duration: time.Second, LogPath: "/t/log"}, errors.New("exit 2"))
	tr.EndTaskSpan(task, TaskSpanOptions{Outcome: "failed", Attempts: 1, ReturnCode: 2}, errors.New("exit 2"))

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("%d spans ended, want 2", len(spans))
	}
	att, tsk := spans[0], spans[1]
	if att.Name() != SpanAttempt || tsk.Name() != SpanTask {
		t.Fatalf("span names = %s, %s", att.Name(), tsk.Name())
	}
	if att.Parent().SpanID() != tsk.SpanContext().SpanID() {
		t.Error("attempt span is not a child of the task span")
	}
	if v, ok := attr(tsk.Attributes(), "task.name"); !ok || v.AsString() != "a.md" {
		t.Errorf("task.name = %v", v)
	}
	if v, ok := attr(att.Attributes(), "attempt.return_code"); !ok || v.AsInt64() != 2 {
		t.Errorf("attempt.return_code = %v", v)
	}
	if _, ok := attr(att.Attributes(), "attempt.output_tail"); ok {
		t.Error("output tail attached without debug")
	}
	if tsk.Status().Code != codes.Error || len(tsk.Events()) == 0 {
		t.Error("error not recorded on task span")
	}
}

func TestAttemptSpanDebugTail(t *testing.T) {
	tr, rec := newRecordingTracer(true)
	log := filepath.Join(t.TempDir(), "log.txt")
	os.WriteFile(log, []byte(strings.Repeat("x", 5000)+"the end"), 0o644)

	_, span := tr.StartAttemptSpan(context.Background(), "codex", "m", 1, 1)
	tr.EndAttemptSpan(span, AttemptSpanOptions{LogPath: log}, nil)

	s := rec.Ended()[0]
	v, ok := attr(s.Attributes(), "attempt.output_tail")
	if !ok || len(v.AsString()) != logTailBytes || !strings.HasSuffix(v.AsString(), "the end") {
		t.Errorf("output tail = %d bytes", len(v.AsString()))
	}
	if s.Status().Code != codes.Ok {
		t.Errorf("status = %v", s.Status())
	}
}

func TestBatchSpan(t *testing.T) {
	tr, rec := newRecordingTracer(false)
	_, span := tr.StartBatchSpan(context.Background(), 10, 4)
	span.End()
	if v, _ := attr(rec.Ended()[0].Attributes(), "batch.workers"); v.AsInt64() != 4 {
		t.Errorf("batch.workers = %v", v)
	}
}

func TestGlobalTracerDefaultsToNoop(t *testing.T) {
	SetGlobalTracer(nil)
	tr := GetTracer()
	_, span := tr.StartTaskSpan(context.Background(), "a.md", "w")
	if span.SpanContext().IsValid() {
		t.Error("no-op tracer produced a recording span")
	}
	tr.EndTaskSpan(span, TaskSpanOptions{}, nil)

	custom, _ := newRecordingTracer(false)
	SetGlobalTracer(custom)
	defer SetGlobalTracer(nil)
	if GetTracer() != custom {
		t.Error("GetTracer ignored SetGlobalTracer")
	}
}

func TestEnviron(t *testing.T) {
	if env := Environ(context.Background()); env != nil {
		t.Errorf("Environ without a span = %v", env)
	}

	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	tr, _ := newRecordingTracer(false)
	ctx, span := tr.StartTaskSpan(context.Background(), "a.md", "w")
	defer span.End()

	env := Environ(ctx)
	if len(env) != 1 || !strings.HasPrefix(env[0], "TRACEPARENT=00-"+span.SpanContext().TraceID().String()) {
		t.Errorf("Environ = %v", env)
	}
}

func TestMapCarrier(t *testing.T) {
	c := MapCarrier{}
	c.Set("traceparent", "x")
	if c.Get("traceparent") != "x" || len(c.Keys()) != 1 {
		t.Errorf("carrier = %v", c)
	}
}

func TestInitProviderRequiresEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if _, err := InitProvider(context.Background(), ProviderConfig{}); !errors.Is(err, ErrNoEndpoint) {
		t.Errorf("InitProvider = %v, want ErrNoEndpoint", err)
	}
	_, err := InitProvider(context.Background(), ProviderConfig{Endpoint: "localhost:4317", Protocol: "carrier-pigeon"})
	if err == nil || !strings.Contains(err.Error(), "unknown protocol") {
		t.Errorf("InitProvider(bad protocol) = %v", err)
	}
}

func TestProviderConfigDefaults(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "https://collector:4318")
	cfg := ProviderConfig{}
	if cfg.serviceName() != "agentbatch" {
		t.Errorf("serviceName = %s", cfg.serviceName())
	}
	if cfg.endpoint() != "collector:4318" {
		t.Errorf("endpoint = %s", cfg.endpoint())
	}
}
