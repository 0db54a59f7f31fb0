// Package mock implements a scripted Provider for testing.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/darkostanimirovic/groupchat/providers"
)

// ErrNoResponse is returned when the script is exhausted.
var ErrNoResponse = errors.New("mock: no response configured")

// Provider implements providers.Provider for testing.
// Responses are returned in the order they were added.
type Provider struct {
	mu        sync.Mutex
	name      string
	responses []scripted
	fallback  *providers.CompletionResponse
	requests  []providers.CompletionRequest
}

type scripted struct {
	resp *providers.CompletionResponse
	err  error
}

// New creates a new mock provider.
func New() *Provider {
	return &Provider{name: "mock"}
}

// WithName overrides the provider name.
func (m *Provider) WithName(name string) *Provider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
	return m
}

// WithResponse appends a mock completion response.
func (m *Provider) WithResponse(content string, toolCalls []providers.ToolCall) *Provider {
	m.mu.Lock()
	defer m.mu.Unlock()

	resp := &providers.CompletionResponse{
		ID:           fmt.Sprintf("mock-resp-%d", len(m.responses)+1),
		Content:      content,
		ToolCalls:    toolCalls,
		FinishReason: providers.FinishReasonStop,
		Model:        "mock-model",
		Created:      time.Now(),
		Usage: providers.TokenUsage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
	}
	if len(toolCalls) > 0 {
		resp.FinishReason = providers.FinishReasonToolCalls
	}

	m.responses = append(m.responses, scripted{resp: resp})
	return m
}

// WithFunctionCall appends a response that calls a single function.
func (m *Provider) WithFunctionCall(thought, name string, args map[string]any) *Provider {
	m.mu.Lock()
	id := fmt.Sprintf("call_%d", len(m.responses)+1)
	m.mu.Unlock()
	return m.WithResponse(thought, []providers.ToolCall{{ID: id, Name: name, Arguments: args}})
}

// WithError appends an error result.
func (m *Provider) WithError(err error) *Provider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, scripted{err: err})
	return m
}

// WithFallback sets a response returned whenever the script is exhausted.
func (m *Provider) WithFallback(content string) *Provider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &providers.CompletionResponse{
		ID:           "mock-fallback",
		Content:      content,
		FinishReason: providers.FinishReasonStop,
		Model:        "mock-model",
		Created:      time.Now(),
	}
	return m
}

// Name returns the provider name.
func (m *Provider) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// Complete returns the next configured mock response.
func (m *Provider) Complete(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if len(m.responses) == 0 {
		if m.fallback != nil {
			resp := *m.fallback
			return &resp, nil
		}
		return nil, ErrNoResponse
	}

	next := m.responses[0]
	m.responses = m.responses[1:]
	if next.err != nil {
		return nil, next.err
	}
	resp := *next.resp
	return &resp, nil
}

// CallCount returns the number of times Complete was called.
func (m *Provider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request received.
func (m *Provider) Requests() []providers.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]providers.CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// LastRequest returns the most recent request.
func (m *Provider) LastRequest() (providers.CompletionRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return providers.CompletionRequest{}, false
	}
	return m.requests[len(m.requests)-1], true
}
