package groupchat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/darkostanimirovic/groupchat"

// OTelTracer implements Tracer on top of OpenTelemetry.
type OTelTracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// OTelConfig holds configuration for the OTLP/HTTP exporter
type OTelConfig struct {
	// Endpoint is host[:port] of the collector, without scheme
	Endpoint string
	// URLPath overrides the default /v1/traces
	URLPath        string
	Headers        map[string]string
	Insecure       bool
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// LangfuseOTelConfig returns an OTelConfig that exports to Langfuse's OTLP endpoint.
// baseURL defaults to https://cloud.langfuse.com.
func LangfuseOTelConfig(publicKey, secretKey, baseURL string) OTelConfig {
	if baseURL == "" {
		baseURL = "https://cloud.langfuse.com"
	}
	auth := base64.StdEncoding.EncodeToString([]byte(publicKey + ":" + secretKey))
	return OTelConfig{
		Endpoint: strings.TrimPrefix(strings.TrimPrefix(baseURL, "https://"), "http://"),
		URLPath:  "/api/public/otel/v1/traces",
		Headers:  map[string]string{"Authorization": "Basic " + auth},
		Insecure: strings.HasPrefix(baseURL, "http://"),
	}
}

// NewOTelTracer creates a tracer with a batching OTLP/HTTP exporter.
func NewOTelTracer(ctx context.Context, cfg OTelConfig) (*OTelTracer, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: otel endpoint is required", ErrConfig)
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "groupchat"
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.URLPath != "" {
		opts = append(opts, otlptracehttp.WithURLPath(cfg.URLPath))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res := resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return NewOTelTracerWithProvider(tp), nil
}

// NewOTelTracerWithProvider wraps an existing SDK tracer provider.
func NewOTelTracerWithProvider(tp *sdktrace.TracerProvider) *OTelTracer {
	return &OTelTracer{tracer: tp.Tracer(tracerName), provider: tp}
}

// StartTrace creates the root span of a run
func (o *OTelTracer) StartTrace(ctx context.Context, name string, opts ...TraceOption) (context.Context, func()) {
	cfg := &TraceConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	spanCtx, span := o.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal))
	if cfg.SessionID != "" {
		span.SetAttributes(attribute.String("session.id", cfg.SessionID))
	}
	if len(cfg.Tags) > 0 {
		span.SetAttributes(attribute.StringSlice("groupchat.tags", cfg.Tags))
	}
	if cfg.Input != nil {
		span.SetAttributes(attribute.String("groupchat.input", jsonString(cfg.Input)))
	}
	setMetadata(span, "groupchat.metadata.", cfg.Metadata)

	return spanCtx, func() { span.End() }
}

// StartSpan creates a child span of whatever span is in ctx
func (o *OTelTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, func()) {
	cfg := &SpanConfig{Type: SpanTypeSpan}
	for _, opt := range opts {
		opt(cfg)
	}

	spanCtx, span := o.tracer.Start(ctx, name)
	span.SetAttributes(attribute.String("groupchat.span.type", string(cfg.Type)))
	if cfg.Input != nil {
		span.SetAttributes(attribute.String("groupchat.span.input", jsonString(cfg.Input)))
	}
	setMetadata(span, "groupchat.metadata.", cfg.Metadata)

	return spanCtx, func() { span.End() }
}

// LogGeneration records an LLM call as its own span with gen_ai attributes
func (o *OTelTracer) LogGeneration(ctx context.Context, opts GenerationOptions) error {
	start := opts.StartTime
	if start.IsZero() {
		start = time.Now()
	}
	end := opts.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	name := opts.Name
	if name == "" {
		name = SpanGenerate
	}

	_, span := o.tracer.Start(ctx, name, trace.WithTimestamp(start))
	defer span.End(trace.WithTimestamp(end))

	span.SetAttributes(attribute.String("groupchat.span.type", string(SpanTypeGeneration)))
	if opts.Model != "" {
		span.SetAttributes(attribute.String("gen_ai.request.model", opts.Model))
	}
	if opts.ModelParameters != nil {
		span.SetAttributes(attribute.String("gen_ai.request.parameters", jsonString(opts.ModelParameters)))
	}
	if opts.Input != nil {
		span.SetAttributes(attribute.String("gen_ai.prompt", jsonString(opts.Input)))
	}
	if opts.Output != nil {
		span.SetAttributes(attribute.String("gen_ai.completion", jsonString(opts.Output)))
	}
	if opts.Usage != nil {
		span.SetAttributes(
			attribute.Int("gen_ai.usage.input_tokens", opts.Usage.PromptTokens),
			attribute.Int("gen_ai.usage.output_tokens", opts.Usage.CompletionTokens),
			attribute.Int("gen_ai.usage.total_tokens", opts.Usage.TotalTokens),
		)
	}
	setMetadata(span, "groupchat.metadata.", opts.Metadata)
	if opts.StatusMessage != "" {
		span.SetStatus(codes.Error, opts.StatusMessage)
	}
	return nil
}

// LogEvent adds an event to the current span
func (o *OTelTracer) LogEvent(ctx context.Context, name string, attributes map[string]any) error {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return nil
	}
	span.AddEvent(name, trace.WithAttributes(toAttributes("", attributes)...))
	return nil
}

// SetSpanAttributes sets attributes on the current span
func (o *OTelTracer) SetSpanAttributes(ctx context.Context, attributes map[string]any) error {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return nil
	}
	span.SetAttributes(toAttributes("", attributes)...)
	return nil
}

// Flush exports all ended spans
func (o *OTelTracer) Flush(ctx context.Context) error {
	return o.provider.ForceFlush(ctx)
}

// Shutdown flushes and stops the exporter
func (o *OTelTracer) Shutdown(ctx context.Context) error {
	return o.provider.Shutdown(ctx)
}

func setMetadata(span trace.Span, prefix string, metadata map[string]any) {
	if len(metadata) == 0 {
		return
	}
	span.SetAttributes(toAttributes(prefix, metadata)...)
}

func toAttributes(prefix string, values map[string]any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(values))
	for k, v := range values {
		key := prefix + k
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(key, val))
		case int:
			attrs = append(attrs, attribute.Int(key, val))
		case int64:
			attrs = append(attrs, attribute.Int64(key, val))
		case float64:
			attrs = append(attrs, attribute.Float64(key, val))
		case bool:
			attrs = append(attrs, attribute.Bool(key, val))
		default:
			attrs = append(attrs, attribute.String(key, jsonString(val)))
		}
	}
	return attrs
}

func jsonString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
