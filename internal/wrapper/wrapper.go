// Package wrapper renders chat-style requests into single completion prompts for
// local models that only expose a completions endpoint, and parses their output
// back into function calls.
package wrapper

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/darkostanimirovic/groupchat/providers"
)

// ErrUnknownWrapper is returned for an unregistered wrapper name.
var ErrUnknownWrapper = errors.New("groupchat: unknown model wrapper")

// ErrUnparseableOutput is returned when the model output holds no JSON object.
var ErrUnparseableOutput = errors.New("groupchat: model output is not a function call")

// InnerThoughtsParam is the function parameter carrying the agent's inner monologue.
const InnerThoughtsParam = "inner_thoughts"

// Wrapper converts between chat requests and raw completion text. Requests
// without tools render as a plain transcript, and their output is returned as
// text by PlainResponse.
type Wrapper interface {
	Name() string
	ChatToPrompt(req providers.CompletionRequest) string
	OutputToResponse(text string) (*providers.CompletionResponse, error)
}

// PlainResponse wraps completion text that was not asked to be a function call.
func PlainResponse(text string) *providers.CompletionResponse {
	return &providers.CompletionResponse{
		Content:      strings.TrimSpace(text),
		FinishReason: providers.FinishReasonStop,
	}
}

// DefaultWrapper is used when a local backend names none.
const DefaultWrapper = "airoboros-l2-70b-2.1"

var registry = map[string]func() Wrapper{
	DefaultWrapper: func() Wrapper { return &airoboros{name: DefaultWrapper} },
}

// Get returns the wrapper registered under name.
func Get(name string) (Wrapper, error) {
	if name == "" {
		name = DefaultWrapper
	}
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWrapper, name)
	}
	return factory(), nil
}

// Names lists the registered wrappers in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type airoboros struct {
	name string
}

func (a *airoboros) Name() string { return a.name }

func (a *airoboros) ChatToPrompt(req providers.CompletionRequest) string {
	var b strings.Builder

	b.WriteString(req.SystemPrompt)
	if len(req.Tools) > 0 {
		b.WriteString("\nPlease select the most suitable function and parameters from the list of available functions below, based on the ongoing conversation. Provide your response in JSON format.")
		b.WriteString("\nAvailable functions:")
		for _, fn := range req.Tools {
			b.WriteString("\n")
			b.WriteString(describeFunction(fn))
		}
	}

	for _, msg := range req.Messages {
		b.WriteString("\n")
		switch msg.Role {
		case providers.RoleSystem:
			b.WriteString("SYSTEM: ")
			b.WriteString(msg.Content)
		case providers.RoleUser:
			b.WriteString("USER: ")
			if msg.Name != "" {
				b.WriteString(msg.Name)
				b.WriteString(": ")
			}
			b.WriteString(msg.Content)
		case providers.RoleAssistant:
			b.WriteString("ASSISTANT: ")
			b.WriteString(assistantJSON(msg))
		case providers.RoleTool:
			b.WriteString("FUNCTION RETURN: ")
			b.WriteString(msg.Content)
		}
	}

	b.WriteString("\nASSISTANT:")
	return b.String()
}

func describeFunction(fn providers.ToolDefinition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:\n  description: %s\n  params:", fn.Name, fn.Description)
	fmt.Fprintf(&b, "\n    %s: Deep inner monologue private to you only.", InnerThoughtsParam)

	props, _ := fn.Parameters["properties"].(map[string]any)
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		desc := ""
		if p, ok := props[k].(map[string]any); ok {
			desc, _ = p["description"].(string)
		}
		fmt.Fprintf(&b, "\n    %s: %s", k, desc)
	}
	return b.String()
}

func assistantJSON(msg providers.Message) string {
	if len(msg.ToolCalls) == 0 {
		return msg.Content
	}
	call := msg.ToolCalls[0]
	params := make(map[string]any, len(call.Arguments)+1)
	for k, v := range call.Arguments {
		params[k] = v
	}
	if msg.Content != "" {
		params[InnerThoughtsParam] = msg.Content
	}
	data, err := json.Marshal(map[string]any{"function": call.Name, "params": params})
	if err != nil {
		return msg.Content
	}
	return string(data)
}

func (a *airoboros) OutputToResponse(text string) (*providers.CompletionResponse, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: %q", ErrUnparseableOutput, text)
	}

	var out struct {
		Function string         `json:"function"`
		Params   map[string]any `json:"params"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseableOutput, err)
	}
	if out.Function == "" {
		return nil, fmt.Errorf("%w: missing function name", ErrUnparseableOutput)
	}

	if out.Params == nil {
		out.Params = map[string]any{}
	}
	thoughts, _ := out.Params[InnerThoughtsParam].(string)
	delete(out.Params, InnerThoughtsParam)

	return &providers.CompletionResponse{
		Content:      thoughts,
		ToolCalls:    []providers.ToolCall{{Name: out.Function, Arguments: out.Params}},
		FinishReason: providers.FinishReasonToolCalls,
	}, nil
}
