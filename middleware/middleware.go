// Package middleware provides hooks into group chat execution for observability and instrumentation.
package middleware

import (
	"context"

	"github.com/darkostanimirovic/groupchat/providers"
)

// Middleware provides hooks into group chat execution.
//
// Turn hooks wrap one speaker's reply. LLM hooks wrap every provider call an
// agent or the speaker selector makes. Tool hooks wrap memory functions and
// code execution.
type Middleware interface {
	OnTurnStart(ctx context.Context, round int, speaker string) context.Context
	OnTurnComplete(ctx context.Context, round int, speaker string, err error)
	OnToolStart(ctx context.Context, agent, tool string, args map[string]any) context.Context
	OnToolComplete(ctx context.Context, agent, tool string, result string, err error)
	OnLLMCall(ctx context.Context, agent string, req providers.CompletionRequest) context.Context
	OnLLMResponse(ctx context.Context, agent string, resp *providers.CompletionResponse, err error)
}

// BaseMiddleware provides no-op implementations for Middleware.
// Embed this in custom middleware to implement only the hooks you need.
type BaseMiddleware struct{}

func (BaseMiddleware) OnTurnStart(ctx context.Context, _ int, _ string) context.Context { return ctx }
func (BaseMiddleware) OnTurnComplete(context.Context, int, string, error)             {}
func (BaseMiddleware) OnToolStart(ctx context.Context, _, _ string, _ map[string]any) context.Context {
	return ctx
}
func (BaseMiddleware) OnToolComplete(context.Context, string, string, string, error) {}
func (BaseMiddleware) OnLLMCall(ctx context.Context, _ string, _ providers.CompletionRequest) context.Context {
	return ctx
}
func (BaseMiddleware) OnLLMResponse(context.Context, string, *providers.CompletionResponse, error) {}
