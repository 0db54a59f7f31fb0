package groupchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/darkostanimirovic/groupchat/providers"
)

var (
	// ErrToolName is returned when a tool name is not a valid function name.
	ErrToolName = errors.New("groupchat: tool name must match ^[a-zA-Z0-9_-]{1,64}$")
	// ErrToolHandlerMissing is returned when a tool without a handler is called.
	ErrToolHandlerMissing = errors.New("groupchat: tool has no handler")
)

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ToolHandler is a function that executes a tool. A nil result renders as "None".
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

// Tool is a function a memory agent can call.
type Tool struct {
	name        string
	description string
	parameters  map[string]any
	handler     ToolHandler
}

// ToolBuilder helps construct tools with a fluent API
type ToolBuilder struct {
	tool Tool
}

// NewTool creates a new tool builder
func NewTool(name string) *ToolBuilder {
	return &ToolBuilder{
		tool: Tool{
			name: name,
			parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}

// WithDescription sets the tool description
func (tb *ToolBuilder) WithDescription(desc string) *ToolBuilder {
	tb.tool.description = desc
	return tb
}

// WithParameter adds a parameter to the tool
func (tb *ToolBuilder) WithParameter(name string, schema *ParameterSchema) *ToolBuilder {
	props, ok := tb.tool.parameters["properties"].(map[string]any)
	if !ok {
		props = map[string]any{}
		tb.tool.parameters["type"] = "object"
		tb.tool.parameters["properties"] = props
	}
	props[name] = schema.ToMap()

	if schema.required {
		required, _ := tb.tool.parameters["required"].([]string)
		tb.tool.parameters["required"] = append(required, name)
	}
	return tb
}

// WithRawParameters sets the full parameters schema for complex tools.
func (tb *ToolBuilder) WithRawParameters(params map[string]any) *ToolBuilder {
	tb.tool.parameters = params
	return tb
}

// WithHandler sets the tool handler function
func (tb *ToolBuilder) WithHandler(handler ToolHandler) *ToolBuilder {
	tb.tool.handler = handler
	return tb
}

// Build returns the constructed tool
func (tb *ToolBuilder) Build() (Tool, error) {
	if !toolNamePattern.MatchString(tb.tool.name) {
		return Tool{}, fmt.Errorf("%w: %q", ErrToolName, tb.tool.name)
	}
	if tb.tool.parameters == nil {
		tb.tool.parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return tb.tool, nil
}

// MustBuild is like Build but panics on an invalid name. Use it for tools
// declared at package level.
func (tb *ToolBuilder) MustBuild() Tool {
	tool, err := tb.Build()
	if err != nil {
		panic(err)
	}
	return tool
}

// Name returns the tool name
func (t Tool) Name() string {
	return t.name
}

// Description returns the tool description
func (t Tool) Description() string {
	return t.description
}

// Definition converts the tool to a provider-agnostic ToolDefinition.
func (t Tool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        t.name,
		Description: t.description,
		Parameters:  t.parameters,
	}
}

// withHeartbeat returns a copy of t whose schema also takes a required
// request_heartbeat boolean.
func (t Tool) withHeartbeat() Tool {
	params := make(map[string]any, len(t.parameters)+1)
	for k, v := range t.parameters {
		params[k] = v
	}
	props := map[string]any{}
	if existing, ok := params["properties"].(map[string]any); ok {
		for k, v := range existing {
			props[k] = v
		}
	}
	props[heartbeatParam] = Boolean().WithDescription(heartbeatDescription).ToMap()
	params["properties"] = props

	required, _ := params["required"].([]string)
	params["required"] = append(append([]string{}, required...), heartbeatParam)

	t.parameters = params
	return t
}

// Call runs the tool handler
func (t Tool) Call(ctx context.Context, args map[string]any) (any, error) {
	if t.handler == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolHandlerMissing, t.name)
	}
	if args == nil {
		args = map[string]any{}
	}
	return t.handler(ctx, args)
}

// formatToolResult renders a handler result the way it is fed back to the model.
func formatToolResult(result any) string {
	switch v := result.(type) {
	case nil:
		return "None"
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// ParameterSchema defines a tool parameter schema
type ParameterSchema struct {
	paramType   string
	description string
	required    bool
	enum        []string
	items       map[string]any
}

// String creates a string parameter schema
func String() *ParameterSchema {
	return &ParameterSchema{paramType: "string"}
}

// Integer creates an integer parameter schema
func Integer() *ParameterSchema {
	return &ParameterSchema{paramType: "integer"}
}

// Boolean creates a boolean parameter schema
func Boolean() *ParameterSchema {
	return &ParameterSchema{paramType: "boolean"}
}

// Array creates an array parameter schema
func Array(itemType string) *ParameterSchema {
	return &ParameterSchema{
		paramType: "array",
		items:     map[string]any{"type": itemType},
	}
}

// WithDescription sets the parameter description
func (ps *ParameterSchema) WithDescription(desc string) *ParameterSchema {
	ps.description = desc
	return ps
}

// Required marks the parameter as required
func (ps *ParameterSchema) Required() *ParameterSchema {
	ps.required = true
	return ps
}

// WithEnum sets allowed values for the parameter
func (ps *ParameterSchema) WithEnum(values ...string) *ParameterSchema {
	ps.enum = values
	return ps
}

// ToMap converts the schema to a JSON schema map
func (ps *ParameterSchema) ToMap() map[string]any {
	m := map[string]any{"type": ps.paramType}
	if ps.description != "" {
		m["description"] = ps.description
	}
	if len(ps.enum) > 0 {
		m["enum"] = ps.enum
	}
	if len(ps.items) > 0 {
		m["items"] = ps.items
	}
	return m
}
