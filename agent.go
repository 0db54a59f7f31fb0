// Package groupchat runs multi-agent conversations in which a manager picks the
// next speaker each round and every participant sees the whole transcript.
package groupchat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/darkostanimirovic/groupchat/internal/logging"
	"github.com/darkostanimirovic/groupchat/providers"
)

// DefaultMaxConsecutiveAutoReply bounds how many replies an agent produces in a
// row before it stops answering.
const DefaultMaxConsecutiveAutoReply = 100

// DefaultAssistantSystemMessage is the system message of an assistant created
// without one.
const DefaultAssistantSystemMessage = `You are a helpful AI assistant.
Solve tasks using your coding and language skills.
In the following cases, suggest python code (in a python coding block) or shell script (in a sh coding block) for the user to execute.
    1. When you need to collect info, use the code to output the info you need, for example, browse or search the web, download/read a file, print the content of a webpage or a file, get the current date/time, check the operating system. After sufficient info is printed and the task is ready to be solved based on your language skill, you can solve the task by yourself.
    2. When you need to perform some task with code, use the code to perform the task and output the result. Finish the task smartly.
Solve the task step by step if you need to. If a plan is not provided, explain your plan first. Be clear which step uses code, and which step uses your language skill.
When using code, you must indicate the script type in the code block. The user cannot provide any other feedback or perform any other action beyond executing the code you suggest. The user can't modify your code. So do not suggest incomplete code which requires users to modify. Don't use a code block if it's not intended to be executed by the user.
If you want the user to save the code in a file before executing it, put # filename: <filename> inside the code block as the first line. Don't include multiple code blocks in one response. Do not ask users to copy and paste the result. Instead, use 'print' function for the output when relevant. Check the execution result returned by the user.
If the result indicates there is an error, fix the error and output the code again. Suggest the full code instead of partial code or code changes. If the error can't be fixed or if the task is not solved even after the code is executed successfully, analyze the problem, revisit your assumption, collect additional info you need, and think of a different approach to try.
When you find an answer, verify the answer carefully. Include verifiable evidence in your response if possible.
Reply "TERMINATE" in the end when everything is done.`

// HumanInputMode controls when an agent asks a human for input.
type HumanInputMode string

// HumanInputNever is the only supported mode: replies are always automatic.
const HumanInputNever HumanInputMode = "NEVER"

// Common validation errors.
var (
	ErrMissingName          = errors.New("groupchat: agent name is required")
	ErrInvalidTemperature   = errors.New("groupchat: Temperature must be between 0.0 and 2.0")
	ErrInvalidAutoReply     = errors.New("groupchat: MaxConsecutiveAutoReply must not be negative")
	ErrUnsupportedInputMode = errors.New("groupchat: only human input mode NEVER is supported")
)

// Participant is a member of a group chat.
type Participant interface {
	// Name identifies the participant. It is unique within a chat.
	Name() string
	// Description is shown to the speaker selector.
	Description() string
	// Receive delivers a transcript message. Participants see their own
	// messages too and tell them apart by name.
	Receive(msg Message)
	// GenerateReply produces the participant's next message. A nil message
	// means the participant declines to continue and ends the chat.
	GenerateReply(ctx context.Context) (*Message, error)
	// Reset forgets the transcript seen so far.
	Reset()
}

// AgentConfig configures an Agent.
type AgentConfig struct {
	Name          string
	SystemMessage string
	// Provider answers with an LLM reply. A nil provider skips that step.
	Provider    providers.Provider
	Model       string
	Seed        *int
	Temperature float32
	// CodeExecution runs code blocks found in received messages. Nil disables it.
	CodeExecution *CodeExecutionConfig
	// IsTerminationMsg ends the chat when it matches the last received message.
	IsTerminationMsg        TerminationFunc
	MaxConsecutiveAutoReply int
	DefaultAutoReply        string
	HumanInputMode          HumanInputMode
	Logging                 *LoggingConfig
	Timeout                 *TimeoutConfig
	PromptLog               *PromptLog
}

// Validate checks if the configuration is valid.
func (c AgentConfig) Validate() error {
	if c.Name == "" {
		return ErrMissingName
	}
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return ErrInvalidTemperature
	}
	if c.MaxConsecutiveAutoReply < 0 {
		return ErrInvalidAutoReply
	}
	if c.HumanInputMode != "" && c.HumanInputMode != HumanInputNever {
		return fmt.Errorf("%w: %s", ErrUnsupportedInputMode, c.HumanInputMode)
	}
	return nil
}

// Agent is a conversable participant. Its reply is, in order: nothing when
// the last message terminates the chat or the auto-reply budget is spent, the
// result of executing received code, an LLM completion, or DefaultAutoReply.
type Agent struct {
	name             string
	systemMessage    string
	client           *llmClient
	code             *codeExecutor
	guard            replyGuard
	defaultAutoReply string
	logger           *slog.Logger
	timeouts         TimeoutConfig

	mu      sync.Mutex
	history []Message
}

// NewAgent creates an agent from cfg.
func NewAgent(cfg AgentConfig) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logCfg := DefaultLoggingConfig()
	if cfg.Logging != nil {
		logCfg = *cfg.Logging
	}
	logger := logging.ResolveLogger(logCfg).With("agent", cfg.Name)

	timeouts := DefaultTimeoutConfig()
	if cfg.Timeout != nil {
		timeouts = *cfg.Timeout
	}

	maxAuto := cfg.MaxConsecutiveAutoReply
	if maxAuto == 0 {
		maxAuto = DefaultMaxConsecutiveAutoReply
	}

	a := &Agent{
		name:             cfg.Name,
		systemMessage:    cfg.SystemMessage,
		code:             newCodeExecutor(cfg.CodeExecution, timeouts.CodeExecution, logger),
		guard:            replyGuard{isTermination: cfg.IsTerminationMsg, max: maxAuto},
		defaultAutoReply: cfg.DefaultAutoReply,
		logger:           logger,
		timeouts:         timeouts,
	}
	if cfg.Provider != nil {
		a.client = &llmClient{
			agent:       cfg.Name,
			provider:    cfg.Provider,
			model:       cfg.Model,
			seed:        cfg.Seed,
			temperature: cfg.Temperature,
			callTimeout: timeouts.LLMCall,
			logger:      logger,
			logging:     logCfg,
			prompts:     cfg.PromptLog,
		}
	}
	return a, nil
}

// NewAssistant creates an LLM-backed agent. An empty system message uses
// DefaultAssistantSystemMessage.
func NewAssistant(cfg AgentConfig) (*Agent, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("%w: assistant %q needs a provider", ErrConfig, cfg.Name)
	}
	if cfg.SystemMessage == "" {
		cfg.SystemMessage = DefaultAssistantSystemMessage
	}
	return NewAgent(cfg)
}

func (a *Agent) Name() string        { return a.name }
func (a *Agent) Description() string { return a.systemMessage }

// SystemMessage returns the agent's system message.
func (a *Agent) SystemMessage() string { return a.systemMessage }

func (a *Agent) Receive(msg Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, msg)
}

// Messages returns a copy of the transcript the agent has seen.
func (a *Agent) Messages() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Message, len(a.history))
	copy(out, a.history)
	return out
}

func (a *Agent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = nil
	a.guard.reset()
}

func (a *Agent) GenerateReply(ctx context.Context) (*Message, error) {
	history := a.Messages()

	var last *Message
	if len(history) > 0 {
		last = &history[len(history)-1]
	}
	a.mu.Lock()
	stop, reason := a.guard.check(last)
	a.mu.Unlock()
	if stop {
		a.logger.Debug("auto reply stopped", "reason", reason)
		return nil, nil
	}

	ctx, end := GetTracer(ctx).StartSpan(ctx, SpanReply, WithSpanMetadata(map[string]any{"agent": a.name}))
	defer end()

	content, err := a.reply(ctx, history)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.guard.consecutive++
	a.mu.Unlock()

	msg := NewMessage(a.name, RoleAssistant, content)
	return &msg, nil
}

func (a *Agent) reply(ctx context.Context, history []Message) (string, error) {
	if a.code != nil {
		if blocks := a.code.findBlocks(history); len(blocks) > 0 {
			out, exitCode, err := a.code.execute(ctx, a.name, blocks)
			if err != nil {
				return "", err
			}
			a.logger.Info("executed code", "blocks", len(blocks), "exit_code", exitCode)
			return out, nil
		}
	}

	if a.client != nil {
		req := providers.CompletionRequest{
			SystemPrompt: a.systemMessage,
			Messages:     make([]providers.Message, 0, len(history)),
		}
		for _, msg := range history {
			req.Messages = append(req.Messages, msg.toProviderMessage(a.name))
		}
		resp, err := a.client.complete(ctx, req)
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}

	return a.defaultAutoReply, nil
}

// replyGuard decides when an agent stops replying automatically.
type replyGuard struct {
	isTermination TerminationFunc
	max           int
	consecutive   int
}

// check reports whether the agent should decline to reply. Declining resets
// the consecutive counter.
func (g *replyGuard) check(last *Message) (bool, string) {
	if last != nil && g.isTermination != nil && g.isTermination(*last) {
		g.consecutive = 0
		return true, "termination message"
	}
	if g.max > 0 && g.consecutive >= g.max {
		g.consecutive = 0
		return true, "max consecutive auto reply"
	}
	return false, ""
}

func (g *replyGuard) reset() {
	g.consecutive = 0
}

// UserProxy stands in for the human who starts the chat. With human input
// mode NEVER it answers with executed code results or its default auto reply.
type UserProxy struct {
	*Agent
}

// NewUserProxy creates a user proxy. It has no LLM unless cfg names a provider.
func NewUserProxy(cfg AgentConfig) (*UserProxy, error) {
	if cfg.HumanInputMode == "" {
		cfg.HumanInputMode = HumanInputNever
	}
	agent, err := NewAgent(cfg)
	if err != nil {
		return nil, err
	}
	return &UserProxy{Agent: agent}, nil
}

// InitiateChat sends message to the manager's group and blocks until the chat ends.
func (u *UserProxy) InitiateChat(ctx context.Context, manager *Manager, message string, opts ...ChatOption) (*ChatResult, error) {
	return manager.Run(ctx, u, message, opts...)
}
