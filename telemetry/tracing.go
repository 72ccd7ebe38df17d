// Package telemetry traces batch runs with OpenTelemetry.
//
// Each task gets an agentbatch.task span covering claim to finalize, with one
// agentbatch.attempt child per agent launch. Without InitProvider the global
// tracer is a no-op, so instrumented code never needs to check whether
// tracing is on.
package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Span names.
const (
	SpanBatch   = "agentbatch.batch"
	SpanTask    = "agentbatch.task"
	SpanAttempt = "agentbatch.attempt"
)

// logTailBytes bounds how much agent output a debug attempt span carries.
const logTailBytes = 4000

// Tracer wraps an OpenTelemetry tracer with batch specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{tracer: otel.Tracer(name), debug: debug}
}

// NewTracerWithProvider creates a tracer from an explicit provider.
func NewTracerWithProvider(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{tracer: tp.Tracer(name), debug: debug}
}

// Debug returns whether output tails are attached to attempt spans.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartBatchSpan starts the root span of one RunBatch call.
func (t *Tracer) StartBatchSpan(ctx context.Context, tasks, workers int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanBatch, trace.WithAttributes(
		attribute.Int("batch.tasks", tasks),
		attribute.Int("batch.workers", workers),
	))
}

// StartTaskSpan starts the span for one task handled by worker.
func (t *Tracer) StartTaskSpan(ctx context.Context, task, worker string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanTask, trace.WithAttributes(
		attribute.String("task.file", task),
		attribute.String("task.name", filepath.Base(task)),
		attribute.String("worker.id", worker),
	))
}

// TaskSpanOptions describes how a task ended.
type TaskSpanOptions struct {
	Outcome    string
	Attempts   int
	ReturnCode int
}

// EndTaskSpan ends a task span. err marks the span as failed.
func (t *Tracer) EndTaskSpan(span trace.Span, opts TaskSpanOptions, err error) {
	span.SetAttributes(
		attribute.String("task.outcome", opts.Outcome),
		attribute.Int("task.attempts", opts.Attempts),
		attribute.Int("task.return_code", opts.ReturnCode),
	)
	endSpan(span, err)
}

// StartAttemptSpan starts the span for one agent launch.
func (t *Tracer) StartAttemptSpan(ctx context.Context, agent, model string, attempt, maxAttempts int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanAttempt,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("agent.name", agent),
			attribute.String("agent.model", model),
			attribute.Int("attempt.number", attempt),
			attribute.Int("attempt.max", maxAttempts),
		),
	)
}

// AttemptSpanOptions describes one finished launch.
type AttemptSpanOptions struct {
	ReturnCode int
	Duration   time.Duration
	LogPath    string
}

// EndAttemptSpan ends an attempt span. In debug mode the tail of the output
// log is attached.
func (t *Tracer) EndAttemptSpan(span trace.Span, opts AttemptSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.Int("attempt.return_code", opts.ReturnCode),
		attribute.Float64("attempt.duration_seconds", opts.Duration.Seconds()),
	}
	if opts.LogPath != "" {
		attrs = append(attrs, attribute.String("attempt.log", opts.LogPath))
		if t.debug {
			if tail := readTail(opts.LogPath, logTailBytes); tail != "" {
				attrs = append(attrs, attribute.String("attempt.output_tail", tail))
			}
		}
	}
	span.SetAttributes(attrs...)
	endSpan(span, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Context propagation ---

// InjectContext injects trace context into a carrier.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractContext extracts trace context from a carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// MapCarrier is a simple map-based TextMapCarrier for context propagation.
type MapCarrier map[string]string

func (c MapCarrier) Get(key string) string {
	return c[key]
}

func (c MapCarrier) Set(key, value string) {
	c[key] = value
}

func (c MapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Environ renders the trace context of ctx as environment entries
// (TRACEPARENT=..., BAGGAGE=...) so an agent that understands them can join
// the trace. It returns nil when ctx carries nothing to propagate.
func Environ(ctx context.Context) []string {
	carrier := MapCarrier{}
	InjectContext(ctx, carrier)
	if len(carrier) == 0 {
		return nil
	}
	keys := carrier.Keys()
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, strings.ToUpper(k)+"="+carrier[k])
	}
	return env
}

func readTail(path string, n int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return ""
	}
	offset := info.Size() - n
	if offset < 0 {
		offset = 0
	}
	buf := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return ""
	}
	return string(buf)
}
