package groupchat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/darkostanimirovic/groupchat/internal/timeout"
	"github.com/darkostanimirovic/groupchat/providers"
)

// llmClient issues provider calls on behalf of one agent. Every call runs the
// context's middleware, is logged to the context's tracer and, when
// configured, to the prompt log.
type llmClient struct {
	agent       string
	provider    providers.Provider
	model       string
	seed        *int
	temperature float32
	callTimeout time.Duration
	logger      *slog.Logger
	logging     LoggingConfig
	prompts     *PromptLog
}

func (c *llmClient) complete(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	if req.Seed == nil {
		req.Seed = c.seed
	}
	if req.Temperature == 0 {
		req.Temperature = c.temperature
	}

	mws := getMiddleware(ctx)
	for _, mw := range mws {
		ctx = mw.OnLLMCall(ctx, c.agent, req)
	}

	if c.logging.LogPrompts {
		c.logger.Debug("llm request",
			"agent", c.agent,
			"provider", c.provider.Name(),
			"model", req.Model,
			"messages", len(req.Messages),
			"tools", len(req.Tools),
		)
	}

	start := time.Now()
	callCtx, cancel := timeout.With(ctx, c.callTimeout)
	resp, err := c.provider.Complete(callCtx, req)
	cancel()
	end := time.Now()

	for _, mw := range mws {
		mw.OnLLMResponse(ctx, c.agent, resp, err)
	}

	var cost *CostInfo
	if err == nil {
		cost = recordUsage(ctx, c.agent, req.Model, resp.Usage)
	}
	c.logGeneration(ctx, req, resp, err, cost, start, end)
	c.logPrompt(ctx, req, resp, err)

	if err != nil {
		c.logger.Error("llm call failed", "agent", c.agent, "error", err)
		return nil, fmt.Errorf("%s: llm call: %w", c.agent, err)
	}
	if c.logging.LogResponses {
		c.logger.Debug("llm response",
			"agent", c.agent,
			"finish_reason", resp.FinishReason,
			"tool_calls", len(resp.ToolCalls),
			"total_tokens", resp.Usage.TotalTokens,
		)
	}
	return resp, nil
}

func (c *llmClient) logGeneration(ctx context.Context, req providers.CompletionRequest, resp *providers.CompletionResponse, err error, cost *CostInfo, start, end time.Time) {
	gen := GenerationOptions{
		Name:      SpanGenerate,
		Model:     req.Model,
		Input:     req.Messages,
		StartTime: start,
		EndTime:   end,
		Metadata:  map[string]any{"agent": c.agent, "provider": c.provider.Name()},
	}
	if req.Seed != nil {
		gen.ModelParameters = map[string]any{"seed": *req.Seed}
	}
	if err != nil {
		gen.StatusMessage = err.Error()
	} else {
		gen.Output = resp.Content
		if len(resp.ToolCalls) > 0 {
			gen.Output = map[string]any{"content": resp.Content, "tool_calls": resp.ToolCalls}
		}
		gen.Usage = &UsageInfo{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
		if cost != nil {
			gen.Metadata["cost_usd"] = cost.TotalCost
		}
	}
	if logErr := GetTracer(ctx).LogGeneration(ctx, gen); logErr != nil {
		c.logger.Warn("failed to log generation", "agent", c.agent, "error", logErr)
	}
}

func (c *llmClient) logPrompt(ctx context.Context, req providers.CompletionRequest, resp *providers.CompletionResponse, err error) {
	if c.prompts == nil {
		return
	}
	entry := PromptEntry{
		Agent:    c.agent,
		Model:    req.Model,
		System:   req.SystemPrompt,
		Messages: req.Messages,
	}
	entry.ChatID, _ = GetChatID(ctx)
	entry.Round, _ = GetRound(ctx)
	for _, tool := range req.Tools {
		entry.Tools = append(entry.Tools, tool.Name)
	}
	if err != nil {
		entry.Error = err.Error()
	} else {
		entry.Response = resp.Content
		entry.ToolCalls = resp.ToolCalls
		usage := resp.Usage
		entry.Usage = &usage
	}
	if writeErr := c.prompts.Write(entry); writeErr != nil {
		c.logger.Warn("failed to write prompt log", "agent", c.agent, "error", writeErr)
	}
}
