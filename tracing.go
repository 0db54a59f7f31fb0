package groupchat

import (
	"context"
	"time"
)

// Tracer defines the interface for tracing a group chat run.
// This interface allows for multiple tracing backend implementations.
type Tracer interface {
	// StartTrace creates the root span for a chat run.
	// Returns a context with the trace attached and a function to end the trace.
	StartTrace(ctx context.Context, name string, opts ...TraceOption) (context.Context, func())

	// StartSpan creates a new span within the current trace.
	// Spans represent rounds, speaker selection, agent replies and function calls.
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, func())

	// LogGeneration records an LLM generation
	LogGeneration(ctx context.Context, opts GenerationOptions) error

	// LogEvent records a point-in-time event within the trace
	LogEvent(ctx context.Context, name string, attributes map[string]any) error

	// SetSpanAttributes sets attributes on the current span
	SetSpanAttributes(ctx context.Context, attributes map[string]any) error

	// Flush ensures all pending spans are exported
	Flush(ctx context.Context) error
}

// TraceOption configures trace creation
type TraceOption func(*TraceConfig)

// SpanOption configures span creation
type SpanOption func(*SpanConfig)

// TraceConfig holds configuration for a trace
type TraceConfig struct {
	// SessionID groups related traces, usually the chat id
	SessionID string
	Tags      []string
	Metadata  map[string]any
	// Input is the seed message of the run
	Input any
}

// SpanConfig holds configuration for a span
type SpanConfig struct {
	Type     SpanType
	Input    any
	Metadata map[string]any
}

// SpanType represents the kind of operation a span covers
type SpanType string

const (
	SpanTypeSpan       SpanType = "span"
	SpanTypeGeneration SpanType = "generation"
	SpanTypeEvent      SpanType = "event"
	SpanTypeTool       SpanType = "tool"
)

// Span names used by the manager and agents.
const (
	SpanRun          = "groupchat.run"
	SpanRound        = "groupchat.round"
	SpanSelect       = "speaker.select"
	SpanReply        = "agent.reply"
	SpanGenerate     = "llm.generate"
	SpanFunctionCall = "function.call"
)

// GenerationOptions holds data for an LLM generation
type GenerationOptions struct {
	Name            string
	Model           string
	ModelParameters map[string]any
	Input           any
	Output          any
	Usage           *UsageInfo
	Metadata        map[string]any
	StartTime       time.Time
	EndTime         time.Time
	// StatusMessage describes the error when the call failed
	StatusMessage string
}

// UsageInfo tracks token consumption as reported by the provider
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func WithSessionID(sessionID string) TraceOption {
	return func(c *TraceConfig) {
		c.SessionID = sessionID
	}
}

func WithTags(tags ...string) TraceOption {
	return func(c *TraceConfig) {
		c.Tags = append(c.Tags, tags...)
	}
}

func WithMetadata(metadata map[string]any) TraceOption {
	return func(c *TraceConfig) {
		if c.Metadata == nil {
			c.Metadata = make(map[string]any)
		}
		for k, v := range metadata {
			c.Metadata[k] = v
		}
	}
}

func WithTraceInput(input any) TraceOption {
	return func(c *TraceConfig) {
		c.Input = input
	}
}

func WithSpanType(spanType SpanType) SpanOption {
	return func(c *SpanConfig) {
		c.Type = spanType
	}
}

func WithSpanInput(input any) SpanOption {
	return func(c *SpanConfig) {
		c.Input = input
	}
}

func WithSpanMetadata(metadata map[string]any) SpanOption {
	return func(c *SpanConfig) {
		if c.Metadata == nil {
			c.Metadata = make(map[string]any)
		}
		for k, v := range metadata {
			c.Metadata[k] = v
		}
	}
}

// NoOpTracer is a tracer that does nothing (used when tracing is disabled)
type NoOpTracer struct{}

func (n *NoOpTracer) StartTrace(ctx context.Context, name string, opts ...TraceOption) (context.Context, func()) {
	return ctx, func() {}
}

func (n *NoOpTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, func()) {
	return ctx, func() {}
}

func (n *NoOpTracer) LogGeneration(ctx context.Context, opts GenerationOptions) error {
	return nil
}

func (n *NoOpTracer) LogEvent(ctx context.Context, name string, attributes map[string]any) error {
	return nil
}

func (n *NoOpTracer) SetSpanAttributes(ctx context.Context, attributes map[string]any) error {
	return nil
}

func (n *NoOpTracer) Flush(ctx context.Context) error {
	return nil
}
