package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/darkostanimirovic/groupchat/internal/retry"
	"github.com/darkostanimirovic/groupchat/internal/wrapper"
	"github.com/darkostanimirovic/groupchat/providers"
)

// DefaultCompletionMaxTokens bounds the completion length for wrapped local models.
const DefaultCompletionMaxTokens = 1024

// CompletionProvider drives a local model through the plain completions
// endpoint. The request is rendered into one prompt by a model wrapper and the
// output is parsed back into a function call when tools were offered.
type CompletionProvider struct {
	name    string
	client  *goopenai.Client
	wrapper wrapper.Wrapper
	opts    options
}

// NewCompletion creates a provider for an LM Studio style server. endpoint is
// the server root, for example "http://localhost:1234"; "/v1" is appended.
func NewCompletion(endpoint string, w wrapper.Wrapper, opts ...Option) *CompletionProvider {
	o := buildOptions("lmstudio", opts)

	cfg := goopenai.DefaultConfig("NULL")
	base := strings.TrimRight(endpoint, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	cfg.BaseURL = base
	if o.httpClient != nil {
		cfg.HTTPClient = o.httpClient
	}

	return &CompletionProvider{
		name:    o.name,
		client:  goopenai.NewClientWithConfig(cfg),
		wrapper: w,
		opts:    o,
	}
}

// Name returns the provider name.
func (p *CompletionProvider) Name() string {
	return p.name
}

// Wrapper returns the prompt wrapper in use.
func (p *CompletionProvider) Wrapper() wrapper.Wrapper {
	return p.wrapper
}

// Complete renders req with the wrapper and parses the generated text.
func (p *CompletionProvider) Complete(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	prompt := p.wrapper.ChatToPrompt(req)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultCompletionMaxTokens
	}

	apiReq := goopenai.CompletionRequest{
		Model:       req.Model,
		Prompt:      prompt,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stop:        []string{"\nUSER:", "\nASSISTANT:", "\nFUNCTION RETURN:"},
	}

	text, err := retry.WithRetry(ctx, p.opts.retry, func() (string, error) {
		if err := wait(ctx, p.opts.limiter); err != nil {
			return "", err
		}
		start := time.Now()
		resp, err := p.client.CreateCompletion(ctx, apiReq)
		if err != nil {
			return "", classify(err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("%s: response has no choices", p.name)
		}
		p.opts.logger.Debug("completion",
			"provider", p.name,
			"wrapper", p.wrapper.Name(),
			"duration", time.Since(start),
		)
		return resp.Choices[0].Text, nil
	})
	if err != nil {
		return nil, err
	}

	out := wrapper.PlainResponse(text)
	if len(req.Tools) > 0 {
		out, err = p.wrapper.OutputToResponse(text)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.name, err)
		}
	}
	out.Model = req.Model
	out.Created = time.Now()
	return out, nil
}
