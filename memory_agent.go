package groupchat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/darkostanimirovic/groupchat/internal/logging"
	"github.com/darkostanimirovic/groupchat/internal/tokenizer"
	"github.com/darkostanimirovic/groupchat/memory"
	"github.com/darkostanimirovic/groupchat/providers"
)

// DefaultMemoryMaxSteps bounds the heartbeat chain of one reply.
const DefaultMemoryMaxSteps = 10

// summarizeThreshold is the share of the context window the prompt may use
// before the oldest messages are summarized.
const summarizeThreshold = 0.75

// ErrMissingFunction is returned when a preset names a function nobody provides.
var ErrMissingFunction = errors.New("groupchat: preset function not provided")

const summaryPrompt = `Your job is to summarize a history of previous messages in a conversation between an AI persona and a human.
The conversation you are given is from a fixed context window and may not be complete.
Messages sent by the AI are marked with the 'assistant' role.
The AI 'assistant' can also make calls to functions, whose outputs can be seen in messages with the 'tool' role.
Things the AI says in the message content are considered inner monologue and are not seen by the user.
The only AI messages seen by the user are from when the AI uses 'send_message'.
Messages the user sends are in the 'user' role.
The 'user' role is also used for important system events, such as heartbeat events (heartbeats run the AI's program without user action).
Summarize what happened in the conversation from the perspective of the AI (use the first person).
Keep your summary less than 100 words, do NOT exceed this word limit.
Only output the summary, do NOT include anything else in your output.`

// TokenCounter counts prompt tokens for the context window check.
type TokenCounter = tokenizer.Counter

// InterfaceOptions control what a memory agent writes into its group reply
// besides the messages it sends.
type InterfaceOptions struct {
	// Debug adds a line for every function the agent runs.
	Debug bool
	// ShowInnerThoughts adds the agent's inner monologue.
	ShowInnerThoughts bool
	// ShowFunctionOutputs adds function results.
	ShowFunctionOutputs bool
}

// MemoryAgentConfig configures a MemoryAgent.
type MemoryAgentConfig struct {
	Name string
	// SystemMessage becomes the persona block. Empty uses the preset persona.
	SystemMessage string
	// Human seeds the human block. Empty uses the preset human.
	Human  string
	Config MemoryConfig
	// Provider overrides the provider built from Config.
	Provider providers.Provider
	Seed     *int
	// Store persists memory. Defaults to an in-memory store.
	Store memory.Store
	// AgentID keys the agent's memory in Store. Defaults to Name.
	AgentID string
	// Tools are offered in addition to the built-in memory functions and can
	// fill function slots the preset names.
	Tools            []Tool
	DefaultAutoReply string
	MaxSteps         int
	// IsTerminationMsg stops replies when it matches the last received message.
	IsTerminationMsg        TerminationFunc
	MaxConsecutiveAutoReply int
	Interface               InterfaceOptions
	Tokenizer               TokenCounter
	Logging                 *LoggingConfig
	Timeout                 *TimeoutConfig
	PromptLog               *PromptLog
}

// MemoryAgent is a participant with tiered memory. Group messages it has not
// seen yet are packed into one user message, and the model answers through
// function calls until it stops requesting heartbeats. What it sends with
// send_message becomes its group reply.
type MemoryAgent struct {
	name             string
	description      string
	preset           Preset
	contextWindow    int
	client           *llmClient
	store            memory.Store
	agentID          string
	tools            map[string]Tool
	definitions      []providers.ToolDefinition
	defaultAutoReply string
	maxSteps         int
	iface            InterfaceOptions
	counter          TokenCounter
	logger           *slog.Logger
	now              func() time.Time

	mu      sync.Mutex
	pending []Message
	last    *Message
	guard   replyGuard

	// Guarded by runMu.
	runMu        sync.Mutex
	core         *memory.CoreMemory
	inContext    []providers.Message
	hidden       int
	lines        []string
	memoryEdited time.Time
}

// NewMemoryAgent creates a memory agent. Core memory is loaded from the store
// when the agent ID has been used before and saved there otherwise.
func NewMemoryAgent(ctx context.Context, cfg MemoryAgentConfig) (*MemoryAgent, error) {
	if cfg.Name == "" {
		return nil, ErrMissingName
	}
	if cfg.MaxConsecutiveAutoReply < 0 || cfg.MaxSteps < 0 {
		return nil, ErrInvalidAutoReply
	}
	preset, err := GetPreset(cfg.Config.Preset)
	if err != nil {
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

	provider := cfg.Provider
	if provider == nil {
		provider, err = NewMemoryProvider(cfg.Config, ProviderOptions{Logger: logger})
		if err != nil {
			return nil, err
		}
	}

	window := cfg.Config.ContextWindow
	if window <= 0 {
		window = ContextWindowFor(cfg.Config.Model)
	}
	store := cfg.Store
	if store == nil {
		store = memory.NewInMemoryStore()
	}
	agentID := cfg.AgentID
	if agentID == "" {
		agentID = cfg.Name
	}
	counter := cfg.Tokenizer
	if counter == nil {
		counter = tokenizer.NewTiktoken(cfg.Config.Model, logger)
	}
	maxSteps := cfg.MaxSteps
	if maxSteps == 0 {
		maxSteps = DefaultMemoryMaxSteps
	}
	maxAuto := cfg.MaxConsecutiveAutoReply
	if maxAuto == 0 {
		maxAuto = DefaultMaxConsecutiveAutoReply
	}

	persona := cfg.SystemMessage
	if persona == "" {
		persona = preset.Persona
	}
	human := cfg.Human
	if human == "" {
		human = preset.Human
	}
	core := memory.NewCoreMemory(persona, human, memory.DefaultBlockLimit)
	saved, err := store.LoadBlocks(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("%s: load core memory: %w", cfg.Name, err)
	}
	if len(saved) > 0 {
		for _, b := range saved {
			core.Set(b)
		}
	} else {
		for _, b := range core.Blocks() {
			if err := store.SaveBlock(ctx, agentID, b); err != nil {
				return nil, fmt.Errorf("%s: save core memory: %w", cfg.Name, err)
			}
		}
	}

	m := &MemoryAgent{
		name:             cfg.Name,
		description:      persona,
		preset:           preset,
		contextWindow:    window,
		store:            store,
		agentID:          agentID,
		defaultAutoReply: cfg.DefaultAutoReply,
		maxSteps:         maxSteps,
		iface:            cfg.Interface,
		counter:          counter,
		logger:           logger,
		now:              time.Now,
		guard:            replyGuard{isTermination: cfg.IsTerminationMsg, max: maxAuto},
		core:             core,
	}
	m.memoryEdited = m.now()
	m.client = &llmClient{
		agent:       cfg.Name,
		provider:    provider,
		model:       cfg.Config.Model,
		seed:        cfg.Seed,
		callTimeout: timeouts.LLMCall,
		logger:      logger,
		logging:     logCfg,
		prompts:     cfg.PromptLog,
	}
	if err := m.bindFunctions(preset, cfg.Tools); err != nil {
		return nil, err
	}

	logger.Debug("memory agent created",
		"preset", preset.Name,
		"context_window", window,
		"functions", len(m.definitions),
		"restored", len(saved) > 0,
	)
	return m, nil
}

// bindFunctions resolves the preset's function names against the built-ins
// and the user tools. User tools the preset does not name are offered last.
func (m *MemoryAgent) bindFunctions(preset Preset, extra []Tool) error {
	available := make(map[string]Tool)
	for _, t := range m.builtinTools() {
		available[t.Name()] = t
	}
	for _, t := range extra {
		available[t.Name()] = t
	}

	m.tools = make(map[string]Tool)
	add := func(t Tool) {
		if _, dup := m.tools[t.Name()]; dup {
			return
		}
		t = t.withHeartbeat()
		m.tools[t.Name()] = t
		m.definitions = append(m.definitions, t.Definition())
	}
	for _, name := range preset.Functions {
		t, ok := available[name]
		if !ok {
			return fmt.Errorf("%w: %s needed by preset %s", ErrMissingFunction, name, preset.Name)
		}
		add(t)
	}
	for _, t := range extra {
		add(t)
	}
	return nil
}

func (m *MemoryAgent) Name() string        { return m.name }
func (m *MemoryAgent) Description() string { return m.description }

// Receive queues msg for the next reply. The agent's own messages only update
// the termination check.
func (m *MemoryAgent) Receive(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	last := msg
	m.last = &last
	if msg.Name != m.name {
		m.pending = append(m.pending, msg)
	}
}

// Reset drops queued messages and the in-context window. Stored memory is kept.
func (m *MemoryAgent) Reset() {
	m.mu.Lock()
	m.pending = nil
	m.last = nil
	m.guard.reset()
	m.mu.Unlock()

	m.runMu.Lock()
	m.inContext = nil
	m.hidden = 0
	m.runMu.Unlock()
}

// CoreMemory returns a copy of the agent's core memory blocks.
func (m *MemoryAgent) CoreMemory() []memory.Block {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.core.Blocks()
}

// Functions lists the names of the functions offered to the model.
func (m *MemoryAgent) Functions() []string {
	names := make([]string, 0, len(m.definitions))
	for _, d := range m.definitions {
		names = append(names, d.Name)
	}
	return names
}

func (m *MemoryAgent) GenerateReply(ctx context.Context) (*Message, error) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	m.mu.Lock()
	stop, reason := m.guard.check(m.last)
	var pending []Message
	if !stop {
		pending = m.pending
		m.pending = nil
	}
	m.mu.Unlock()
	if stop {
		m.logger.Debug("auto reply stopped", "reason", reason)
		return nil, nil
	}

	ctx, end := GetTracer(ctx).StartSpan(ctx, SpanReply, WithSpanMetadata(map[string]any{"agent": m.name}))
	defer end()

	reply, err := m.reply(ctx, pending)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.guard.consecutive++
	m.mu.Unlock()

	msg := NewMessage(m.name, RoleAssistant, reply)
	return &msg, nil
}

func (m *MemoryAgent) reply(ctx context.Context, pending []Message) (string, error) {
	parts := make([]string, 0, len(pending))
	for _, msg := range pending {
		if msg.Content == nil {
			continue
		}
		parts = append(parts, msg.Name+": "+*msg.Content)
	}
	if len(parts) == 0 {
		return m.defaultAutoReply, nil
	}

	m.lines = nil
	input := packageUserMessage(strings.Join(parts, "\n"), m.now())
	for step := 0; step < m.maxSteps; step++ {
		heartbeat, failed, err := m.step(ctx, input)
		if err != nil {
			return "", err
		}
		if !heartbeat && !failed {
			break
		}
		reason := heartbeatRequested
		if failed {
			reason = heartbeatFailed
		}
		if step == m.maxSteps-1 {
			m.logger.Warn("heartbeat chain cut short", "max_steps", m.maxSteps, "reason", reason)
			break
		}
		input = packageHeartbeat(reason, m.now())
	}

	reply := strings.Join(m.lines, "\n")
	if strings.TrimSpace(reply) == "" {
		return m.defaultAutoReply, nil
	}
	return reply, nil
}

// step runs one model call on input. It reports whether the model asked for a
// heartbeat and whether the function it called failed.
func (m *MemoryAgent) step(ctx context.Context, input string) (heartbeat, failed bool, err error) {
	m.inContext = append(m.inContext, providers.Message{Role: providers.RoleUser, Content: input})
	if err := m.record(ctx, string(providers.RoleUser), input); err != nil {
		return false, false, err
	}
	if err := m.maybeSummarize(ctx); err != nil {
		return false, false, err
	}

	system, err := m.systemPrompt(ctx)
	if err != nil {
		return false, false, err
	}
	req := providers.CompletionRequest{
		SystemPrompt: system,
		Messages:     append([]providers.Message(nil), m.inContext...),
		Tools:        m.definitions,
		ToolChoice:   "auto",
	}
	resp, err := m.client.complete(ctx, req)
	if err != nil {
		return false, false, err
	}

	calls := append([]providers.ToolCall(nil), resp.ToolCalls...)
	if len(calls) > 1 {
		m.logger.Warn("model returned several function calls, running the first", "count", len(calls))
		calls = calls[:1]
	}
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = uuid.NewString()
		}
	}
	m.inContext = append(m.inContext, providers.Message{
		Role:      providers.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: calls,
	})
	if resp.Content != "" {
		if err := m.record(ctx, string(providers.RoleAssistant), resp.Content); err != nil {
			return false, false, err
		}
	}

	if thought := strings.TrimSpace(resp.Content); thought != "" {
		publish(ctx, InnerThought(m.name, thought))
		if m.iface.ShowInnerThoughts {
			m.lines = append(m.lines, "[inner thoughts] "+thought)
		}
	}

	if len(calls) == 0 {
		return false, false, nil
	}
	heartbeat, failed = m.callFunction(ctx, calls[0])
	return heartbeat, failed, nil
}

func (m *MemoryAgent) callFunction(ctx context.Context, call providers.ToolCall) (heartbeat, failed bool) {
	args := make(map[string]any, len(call.Arguments))
	for k, v := range call.Arguments {
		args[k] = v
	}
	heartbeat = popHeartbeat(args)

	var out string
	tool, ok := m.tools[call.Name]
	if !ok {
		out = fmt.Sprintf("No function named %s", call.Name)
		failed = true
		m.logger.Warn("unknown function", "function", call.Name)
	} else {
		out, failed = m.runTool(ctx, tool, args)
	}

	m.inContext = append(m.inContext, providers.Message{
		Role:       providers.RoleTool,
		Content:    packageFunctionResponse(!failed, truncate(out, FunctionReturnCharLimit), m.now()),
		ToolCallID: call.ID,
		Name:       call.Name,
	})
	return heartbeat, failed
}

func (m *MemoryAgent) runTool(ctx context.Context, tool Tool, args map[string]any) (string, bool) {
	name := tool.Name()
	if m.iface.Debug {
		m.lines = append(m.lines, fmt.Sprintf("[function] Running %s(%s)", name, jsonString(args)))
	}
	publish(ctx, FunctionCalled(m.name, name, args))

	ctx, end := GetTracer(ctx).StartSpan(ctx, SpanFunctionCall,
		WithSpanType(SpanTypeTool),
		WithSpanInput(args),
		WithSpanMetadata(map[string]any{"agent": m.name, "function": name}),
	)
	defer end()

	mws := getMiddleware(ctx)
	for _, mw := range mws {
		ctx = mw.OnToolStart(ctx, m.name, name, args)
	}

	result, err := tool.Call(ctx, args)
	var out string
	if err != nil {
		out = fmt.Sprintf("Error calling function %s: %v", name, err)
		if m.iface.ShowFunctionOutputs {
			m.lines = append(m.lines, "[function - OUTPUT] Error: "+err.Error())
		}
		m.logger.Debug("function failed", "function", name, "error", err)
	} else {
		out = formatToolResult(result)
		if m.iface.ShowFunctionOutputs && name != fnSendMessage {
			m.lines = append(m.lines, "[function - OUTPUT] Success: "+out)
		}
	}

	for _, mw := range mws {
		mw.OnToolComplete(ctx, m.name, name, out, err)
	}
	publish(ctx, FunctionReturned(m.name, name, out, err != nil))
	return out, err != nil
}

func (m *MemoryAgent) say(msg string) {
	m.lines = append(m.lines, msg)
}

func (m *MemoryAgent) saveBlock(ctx context.Context, block memory.Block) error {
	if err := m.store.SaveBlock(ctx, m.agentID, block); err != nil {
		return fmt.Errorf("save core memory: %w", err)
	}
	m.memoryEdited = m.now()
	return nil
}

func (m *MemoryAgent) record(ctx context.Context, role, content string) error {
	_, err := m.store.AppendRecord(ctx, m.agentID, memory.Record{
		Role:      role,
		Name:      m.name,
		Content:   content,
		CreatedAt: m.now(),
	})
	if err != nil {
		return fmt.Errorf("%s: record message: %w", m.name, err)
	}
	return nil
}

func (m *MemoryAgent) systemPrompt(ctx context.Context) (string, error) {
	recall, err := m.store.CountRecords(ctx, m.agentID)
	if err != nil {
		return "", fmt.Errorf("%s: count recall memory: %w", m.name, err)
	}
	archival, err := m.store.CountPassages(ctx, m.agentID)
	if err != nil {
		return "", fmt.Errorf("%s: count archival memory: %w", m.name, err)
	}

	var b strings.Builder
	b.WriteString(m.preset.System)
	fmt.Fprintf(&b, "\n\n### Memory [last modified: %s]\n", formatTime(m.memoryEdited))
	fmt.Fprintf(&b, "%d previous messages between you and the user are stored in recall memory (use functions to access them)\n", recall)
	fmt.Fprintf(&b, "%d total memories you created are stored in archival memory (use functions to access them)\n", archival)
	b.WriteString("\nCore memory shown below (limited in size, additional information stored in archival / recall memory):\n")
	b.WriteString(m.core.Render())
	return b.String(), nil
}

func (m *MemoryAgent) promptTokens(system string) int {
	n := m.counter.CountTokens(system)
	for _, msg := range m.inContext {
		n += m.counter.CountTokens(msg.Content)
		for _, tc := range msg.ToolCalls {
			n += m.counter.CountTokens(tc.Name) + m.counter.CountTokens(jsonString(tc.Arguments))
		}
	}
	for _, d := range m.definitions {
		n += m.counter.CountTokens(d.Name+" "+d.Description) + m.counter.CountTokens(jsonString(d.Parameters))
	}
	return n
}

// maybeSummarize replaces the oldest half of the in-context messages with a
// summary once the prompt outgrows the context window threshold. The newest
// message always stays and the kept tail never starts with a function result.
func (m *MemoryAgent) maybeSummarize(ctx context.Context) error {
	system, err := m.systemPrompt(ctx)
	if err != nil {
		return err
	}
	tokens := m.promptTokens(system)
	limit := int(summarizeThreshold * float64(m.contextWindow))
	if tokens <= limit {
		return nil
	}

	cut := len(m.inContext) / 2
	for cut < len(m.inContext) && m.inContext[cut].Role == providers.RoleTool {
		cut++
	}
	if cut >= len(m.inContext) {
		cut = len(m.inContext) - 1
	}
	if cut <= 0 {
		m.logger.Warn("context window exceeded with nothing to summarize", "tokens", tokens, "limit", limit)
		return nil
	}

	summary, err := m.summarize(ctx, m.inContext[:cut])
	if err != nil {
		return fmt.Errorf("%s: summarize: %w", m.name, err)
	}
	m.hidden += cut
	kept := m.inContext[cut:]
	total := m.hidden + len(kept)
	note := providers.Message{
		Role:    providers.RoleUser,
		Content: packageSummaryMessage(summary, cut, m.hidden, total, m.now()),
	}
	m.inContext = append([]providers.Message{note}, kept...)

	m.logger.Info("summarized context", "summarized", cut, "tokens", tokens, "limit", limit)
	return nil
}

func (m *MemoryAgent) summarize(ctx context.Context, msgs []providers.Message) (string, error) {
	var b strings.Builder
	for _, msg := range msgs {
		if msg.Content != "" {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		}
		for _, tc := range msg.ToolCalls {
			fmt.Fprintf(&b, "%s: called %s(%s)\n", msg.Role, tc.Name, jsonString(tc.Arguments))
		}
	}
	resp, err := m.client.complete(ctx, providers.CompletionRequest{
		SystemPrompt: summaryPrompt,
		Messages:     []providers.Message{{Role: providers.RoleUser, Content: b.String()}},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
