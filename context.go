package groupchat

import (
	"context"

	"github.com/darkostanimirovic/groupchat/middleware"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey string

const (
	chatIDKey         contextKey = "groupchat_chat_id"
	roundKey          contextKey = "groupchat_round"
	eventPublisherKey contextKey = "groupchat_event_publisher"
	tracerKey         contextKey = "groupchat_tracer"
	middlewareKey     contextKey = "groupchat_middleware"
)

// EventPublisher is a function that publishes events
type EventPublisher func(Event)

// WithEventPublisher adds an event publisher to the context
func WithEventPublisher(ctx context.Context, publisher EventPublisher) context.Context {
	return context.WithValue(ctx, eventPublisherKey, publisher)
}

// GetEventPublisher retrieves the event publisher from the context
func GetEventPublisher(ctx context.Context) (EventPublisher, bool) {
	publisher, ok := ctx.Value(eventPublisherKey).(EventPublisher)
	return publisher, ok && publisher != nil
}

func publish(ctx context.Context, event Event) {
	if publisher, ok := GetEventPublisher(ctx); ok {
		publisher(event)
	}
}

// WithChatID adds the id of the running chat to the context
func WithChatID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, chatIDKey, id)
}

// GetChatID retrieves the chat id from the context
func GetChatID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(chatIDKey).(string)
	return id, ok
}

func withRound(ctx context.Context, round int) context.Context {
	return context.WithValue(ctx, roundKey, round)
}

// GetRound retrieves the current round number from the context
func GetRound(ctx context.Context) (int, bool) {
	round, ok := ctx.Value(roundKey).(int)
	return round, ok
}

// WithTracer adds a tracer to the context so participants inherit the manager's tracer
func WithTracer(ctx context.Context, tracer Tracer) context.Context {
	return context.WithValue(ctx, tracerKey, tracer)
}

// GetTracer retrieves the tracer from the context
// Returns a NoOpTracer if none is set
func GetTracer(ctx context.Context) Tracer {
	if tracer, ok := ctx.Value(tracerKey).(Tracer); ok && tracer != nil {
		return tracer
	}
	return &NoOpTracer{}
}

// WithMiddleware adds middleware to the context so participants run its LLM hooks
func WithMiddleware(ctx context.Context, mws ...middleware.Middleware) context.Context {
	return context.WithValue(ctx, middlewareKey, mws)
}

func getMiddleware(ctx context.Context) []middleware.Middleware {
	mws, _ := ctx.Value(middlewareKey).([]middleware.Middleware)
	return mws
}
