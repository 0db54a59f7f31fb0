// Package openai implements the Provider interface for OpenAI-compatible chat
// completion APIs: api.openai.com, Azure OpenAI deployments and local servers
// that speak the same protocol.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/darkostanimirovic/groupchat/internal/retry"
	"github.com/darkostanimirovic/groupchat/providers"
)

// Provider implements providers.Provider on the chat completions endpoint.
type Provider struct {
	name    string
	client  *goopenai.Client
	logger  *slog.Logger
	retry   retry.RetryConfig
	limiter *rate.Limiter
}

// Option customizes a provider.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	httpClient *http.Client
	retry      retry.RetryConfig
	limiter    *rate.Limiter
	name       string
}

// WithLogger sets the logger used for retries and request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithHTTPClient overrides the HTTP client used by the underlying SDK.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithRetry sets the retry policy for rate limits, timeouts and 5xx responses.
func WithRetry(cfg retry.RetryConfig) Option {
	return func(o *options) { o.retry = cfg }
}

// WithRateLimit throttles outgoing requests to rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *options) {
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithName overrides the name reported by Name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

func buildOptions(defaultName string, opts []Option) options {
	o := options{
		retry: retry.DefaultRetryConfig(),
		name:  defaultName,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.retry.Logger == nil {
		o.retry.Logger = o.logger
	}
	return o
}

func newProvider(cfg goopenai.ClientConfig, o options) *Provider {
	if o.httpClient != nil {
		cfg.HTTPClient = o.httpClient
	}
	return &Provider{
		name:    o.name,
		client:  goopenai.NewClientWithConfig(cfg),
		logger:  o.logger,
		retry:   o.retry,
		limiter: o.limiter,
	}
}

// NewOpenAI creates a provider for api.openai.com.
func NewOpenAI(apiKey string, opts ...Option) *Provider {
	return newProvider(goopenai.DefaultConfig(apiKey), buildOptions("openai", opts))
}

// NewAzure creates a provider for an Azure OpenAI resource. Model names are
// mapped onto deployment names by the SDK.
func NewAzure(apiKey, endpoint, apiVersion string, opts ...Option) *Provider {
	cfg := goopenai.DefaultAzureConfig(apiKey, endpoint)
	if apiVersion != "" {
		cfg.APIVersion = apiVersion
	}
	return newProvider(cfg, buildOptions("azure", opts))
}

// NewLocal creates a provider for an OpenAI-compatible server at baseURL,
// for example "http://localhost:1234/v1".
func NewLocal(baseURL, apiKey string, opts ...Option) *Provider {
	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	return newProvider(cfg, buildOptions("local", opts))
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return p.name
}

// Complete generates a non-streaming chat completion.
func (p *Provider) Complete(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	apiReq := toChatRequest(req)

	return retry.WithRetry(ctx, p.retry, func() (*providers.CompletionResponse, error) {
		if err := wait(ctx, p.limiter); err != nil {
			return nil, err
		}

		start := time.Now()
		resp, err := p.client.CreateChatCompletion(ctx, apiReq)
		if err != nil {
			return nil, classify(err)
		}
		p.logger.Debug("chat completion",
			"provider", p.name,
			"model", resp.Model,
			"duration", time.Since(start),
			"total_tokens", resp.Usage.TotalTokens,
		)
		return p.fromChatResponse(resp)
	})
}

func wait(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

func toChatRequest(req providers.CompletionRequest) goopenai.ChatCompletionRequest {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, toChatMessage(m))
	}

	apiReq := goopenai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Seed:        req.Seed,
	}

	if len(req.Tools) > 0 {
		apiReq.Tools = make([]goopenai.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			params := t.Parameters
			if params == nil {
				params = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			apiReq.Tools = append(apiReq.Tools, goopenai.Tool{
				Type: goopenai.ToolTypeFunction,
				Function: &goopenai.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  params,
				},
			})
		}
		if req.ToolChoice != "" {
			apiReq.ToolChoice = req.ToolChoice
		}
	}

	return apiReq
}

func toChatMessage(m providers.Message) goopenai.ChatCompletionMessage {
	msg := goopenai.ChatCompletionMessage{
		Role:    string(m.Role),
		Content: m.Content,
		Name:    SanitizeName(m.Name),
	}

	switch m.Role {
	case providers.RoleTool:
		msg.ToolCallID = m.ToolCallID
		msg.Name = ""
	case providers.RoleAssistant:
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			msg.ToolCalls = append(msg.ToolCalls, goopenai.ToolCall{
				ID:   tc.ID,
				Type: goopenai.ToolTypeFunction,
				Function: goopenai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
	}

	return msg
}

func (p *Provider) fromChatResponse(resp goopenai.ChatCompletionResponse) (*providers.CompletionResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: response has no choices", p.name)
	}
	choice := resp.Choices[0]

	out := &providers.CompletionResponse{
		ID:           resp.ID,
		Content:      choice.Message.Content,
		FinishReason: providers.FinishReason(choice.FinishReason),
		Model:        resp.Model,
		Created:      time.Unix(resp.Created, 0),
		Usage: providers.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				p.logger.Warn("tool call arguments are not valid JSON",
					"tool", tc.Function.Name,
					"error", err,
				)
				args = map[string]any{}
			}
		}
		out.ToolCalls = append(out.ToolCalls, providers.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return out, nil
}

// classify labels SDK errors by the status the API answered with. Timeouts are
// labelled by the retry loop.
func classify(err error) error {
	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.As(err, &apiErr):
		return retry.FromStatus(apiErr.HTTPStatusCode, err)
	case errors.As(err, &reqErr):
		return retry.FromStatus(reqErr.HTTPStatusCode, err)
	default:
		return err
	}
}

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeName makes a participant name acceptable to the name field, which
// only allows letters, digits, underscores and dashes.
func SanitizeName(name string) string {
	if name == "" {
		return ""
	}
	clean := invalidNameChars.ReplaceAllString(name, "_")
	if len(clean) > 64 {
		clean = clean[:64]
	}
	return clean
}
