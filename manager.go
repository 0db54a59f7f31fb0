package groupchat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/darkostanimirovic/groupchat/internal/logging"
	"github.com/darkostanimirovic/groupchat/internal/timeout"
	"github.com/darkostanimirovic/groupchat/middleware"
	"github.com/darkostanimirovic/groupchat/providers"
)

// DefaultManagerName names a manager created without one.
const DefaultManagerName = "chat_manager"

// StopReason tells why a run ended.
type StopReason string

const (
	// StopTermination means a termination message arrived or a speaker declined to reply.
	StopTermination StopReason = "termination"
	// StopMaxRound means the run appended its last allowed message.
	StopMaxRound StopReason = "max_round"
)

// ChatResult is the outcome of a run.
type ChatResult struct {
	ChatID     string
	Messages   []Message
	Rounds     int
	StopReason StopReason
	// StoppedBy names the manager or the speaker that ended the run. It is
	// empty when the round bound was hit.
	StoppedBy string
	// Usage sums the token usage of every LLM call in the run.
	Usage        providers.TokenUsage
	UsageByAgent map[string]providers.TokenUsage
	// Cost is nil when no call used a model with known pricing.
	Cost *CostInfo
}

// LastMessage returns the final transcript entry, or nil for an empty run.
func (r *ChatResult) LastMessage() *Message {
	if r == nil || len(r.Messages) == 0 {
		return nil
	}
	return &r.Messages[len(r.Messages)-1]
}

type chatOptions struct {
	clearHistory bool
}

// ChatOption configures a single run.
type ChatOption func(*chatOptions)

// WithClearHistory empties the transcript and resets every participant before
// the run starts.
func WithClearHistory(clear bool) ChatOption {
	return func(o *chatOptions) {
		o.clearHistory = clear
	}
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Name defaults to DefaultManagerName.
	Name string
	// Provider backs auto speaker selection. It is required for SelectAuto.
	Provider providers.Provider
	Model    string
	Seed     *int
	// IsTerminationMsg stops the run when it matches a transcript message.
	// Defaults to IsExactTermination.
	IsTerminationMsg TerminationFunc
	// Tracer records the run. Defaults to the tracer carried by the run context.
	Tracer         Tracer
	EventPublisher EventPublisher
	Logging        *LoggingConfig
	Timeout        *TimeoutConfig
	PromptLog      *PromptLog
}

// Manager drives a GroupChat: each round it records the current message,
// delivers it to every participant, picks the next speaker and asks it to reply.
type Manager struct {
	name          string
	group         *GroupChat
	client        *llmClient
	isTermination TerminationFunc
	tracer        Tracer
	publisher     EventPublisher
	logger        *slog.Logger
	timeouts      TimeoutConfig

	mu          sync.RWMutex
	middlewares []middleware.Middleware
}

// NewManager creates a manager for group.
func NewManager(group *GroupChat, cfg ManagerConfig) (*Manager, error) {
	if group == nil {
		return nil, fmt.Errorf("%w: manager needs a group chat", ErrConfig)
	}
	if group.SpeakerSelection() == SelectAuto && cfg.Provider == nil {
		return nil, fmt.Errorf("%w: auto speaker selection needs a provider", ErrConfig)
	}
	if cfg.Name == "" {
		cfg.Name = DefaultManagerName
	}
	if cfg.IsTerminationMsg == nil {
		cfg.IsTerminationMsg = IsExactTermination
	}

	logCfg := DefaultLoggingConfig()
	if cfg.Logging != nil {
		logCfg = *cfg.Logging
	}
	logger := logging.ResolveLogger(logCfg).With("manager", cfg.Name)

	timeouts := DefaultTimeoutConfig()
	if cfg.Timeout != nil {
		timeouts = *cfg.Timeout
	}

	m := &Manager{
		name:          cfg.Name,
		group:         group,
		isTermination: cfg.IsTerminationMsg,
		tracer:        cfg.Tracer,
		publisher:     cfg.EventPublisher,
		logger:        logger,
		timeouts:      timeouts,
	}
	if cfg.Provider != nil {
		m.client = &llmClient{
			agent:       cfg.Name,
			provider:    cfg.Provider,
			model:       cfg.Model,
			seed:        cfg.Seed,
			callTimeout: timeouts.LLMCall,
			logger:      logger,
			logging:     logCfg,
			prompts:     cfg.PromptLog,
		}
	}
	return m, nil
}

// Use registers middleware for every turn, provider call and tool call of a run.
func (m *Manager) Use(mws ...middleware.Middleware) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.middlewares = append(m.middlewares, mws...)
}

func (m *Manager) Name() string          { return m.name }
func (m *Manager) GroupChat() *GroupChat { return m.group }

// ClearHistory empties the transcript and resets every participant.
func (m *Manager) ClearHistory() {
	m.group.reset()
	for _, p := range m.group.participants {
		p.Reset()
	}
}

// Run starts a chat with message from sender and blocks until it terminates
// or reaches the group's round bound. On error the partial result is returned
// alongside it.
//
// A message the manager's termination check accepts is recorded in the
// transcript but not delivered to the other participants. A participant that
// stops on a message it received ends the run after that message was delivered.
func (m *Manager) Run(ctx context.Context, sender Participant, message string, opts ...ChatOption) (*ChatResult, error) {
	if sender == nil {
		return nil, fmt.Errorf("%w: run needs a sender", ErrConfig)
	}
	var o chatOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.clearHistory {
		m.ClearHistory()
	}

	ctx, cancel := timeout.With(ctx, m.timeouts.Run)
	defer cancel()

	chatID := uuid.NewString()
	ctx = WithChatID(ctx, chatID)
	meter := newUsageMeter()
	ctx = withUsageMeter(ctx, meter)

	tracer := m.tracer
	if tracer == nil {
		tracer = GetTracer(ctx)
	}
	ctx, endTrace := tracer.StartTrace(ctx, SpanRun,
		WithSessionID(chatID),
		WithTraceInput(message),
		WithMetadata(map[string]any{
			"manager":      m.name,
			"participants": m.group.Names(),
			"max_round":    m.group.MaxRound(),
			"selection":    string(m.group.SpeakerSelection()),
		}),
	)
	defer endTrace()
	ctx = WithTracer(ctx, tracer)

	if m.publisher != nil {
		ctx = WithEventPublisher(ctx, m.publisher)
	}
	m.mu.RLock()
	if len(m.middlewares) > 0 {
		ctx = WithMiddleware(ctx, append(getMiddleware(ctx), m.middlewares...)...)
	}
	m.mu.RUnlock()

	m.logger.Info("chat started", "chat_id", chatID, "sender", sender.Name(), "max_round", m.group.MaxRound())

	result := &ChatResult{ChatID: chatID}
	msg := NewMessage(sender.Name(), RoleUser, message)
	last := sender
	for round := 0; round < m.group.MaxRound(); round++ {
		result.Rounds = round + 1
		next, speaker, err := m.round(withRound(ctx, round), round, msg, last, result)
		if err != nil {
			result.Messages = m.group.Messages()
			result.Usage, result.UsageByAgent, result.Cost = meter.snapshot()
			m.logger.Error("chat failed", "chat_id", chatID, "round", round, "error", err)
			publish(ctx, Error(err))
			return result, err
		}
		if next == nil {
			break
		}
		msg, last = *next, speaker
	}
	result.Messages = m.group.Messages()
	result.Usage, result.UsageByAgent, result.Cost = meter.snapshot()

	attrs := map[string]any{
		"stop_reason":  string(result.StopReason),
		"stopped_by":   result.StoppedBy,
		"rounds":       result.Rounds,
		"total_tokens": result.Usage.TotalTokens,
	}
	if result.Cost != nil {
		attrs["cost_usd"] = result.Cost.TotalCost
	}
	_ = tracer.SetSpanAttributes(ctx, attrs)
	m.logger.Info("chat finished",
		"chat_id", chatID,
		"rounds", result.Rounds,
		"stop_reason", result.StopReason,
		"stopped_by", result.StoppedBy,
		"total_tokens", result.Usage.TotalTokens,
	)
	return result, nil
}

// round records msg and, unless the run ends here, returns the next message
// and who spoke it. A nil message ends the run; the reason is set on result.
func (m *Manager) round(ctx context.Context, round int, msg Message, last Participant, result *ChatResult) (*Message, Participant, error) {
	ctx, end := GetTracer(ctx).StartSpan(ctx, SpanRound,
		WithSpanMetadata(map[string]any{"round": round, "from": msg.Name}),
	)
	defer end()

	m.group.append(msg)
	publish(ctx, MessageSent(round, msg))
	m.logger.Debug("message", "round", round, "name", msg.Name, "content", msg.Text())

	if m.isTermination(msg) {
		result.StopReason = StopTermination
		result.StoppedBy = m.name
		publish(ctx, Terminated(round, m.name))
		return nil, nil, nil
	}

	for _, p := range m.group.participants {
		p.Receive(msg)
	}

	if round == m.group.MaxRound()-1 {
		result.StopReason = StopMaxRound
		publish(ctx, RoundLimit(m.group.MaxRound()))
		return nil, nil, nil
	}

	speaker, err := m.selectSpeaker(ctx, round, last)
	if err != nil {
		return nil, nil, fmt.Errorf("groupchat: round %d: select speaker: %w", round, err)
	}

	reply, err := m.turn(ctx, round, speaker)
	if err != nil {
		return nil, nil, fmt.Errorf("groupchat: round %d: %s: %w", round, speaker.Name(), err)
	}
	if reply == nil {
		result.StopReason = StopTermination
		result.StoppedBy = speaker.Name()
		publish(ctx, Terminated(round, speaker.Name()))
		return nil, nil, nil
	}
	if reply.Name == "" {
		reply.Name = speaker.Name()
	}
	return reply, speaker, nil
}

func (m *Manager) turn(ctx context.Context, round int, speaker Participant) (*Message, error) {
	mws := getMiddleware(ctx)
	for _, mw := range mws {
		ctx = mw.OnTurnStart(ctx, round, speaker.Name())
	}

	turnCtx, cancel := timeout.With(ctx, m.timeouts.Turn)
	reply, err := speaker.GenerateReply(turnCtx)
	cancel()

	for _, mw := range mws {
		mw.OnTurnComplete(ctx, round, speaker.Name(), err)
	}
	return reply, err
}

func (m *Manager) selectSpeaker(ctx context.Context, round int, last Participant) (Participant, error) {
	ctx, end := GetTracer(ctx).StartSpan(ctx, SpanSelect,
		WithSpanMetadata(map[string]any{"round": round, "method": string(m.group.SpeakerSelection())}),
	)
	defer end()

	candidates := m.group.candidates(last)
	method := m.group.SpeakerSelection()

	var speaker Participant
	switch {
	case len(candidates) == 1:
		speaker = candidates[0]
	case method == SelectRoundRobin:
		speaker = m.group.nextAfter(last, candidates)
	case method == SelectRandom:
		speaker = m.group.random(candidates)
	default:
		var err error
		speaker, err = m.autoSelect(ctx, last, candidates)
		if err != nil {
			return nil, err
		}
	}

	m.logger.Debug("speaker selected", "round", round, "speaker", speaker.Name(), "method", method)
	publish(ctx, SpeakerSelected(round, speaker.Name(), string(method)))
	return speaker, nil
}

// autoSelect asks the LLM for the next role. An answer naming no single
// candidate falls back to round robin.
func (m *Manager) autoSelect(ctx context.Context, last Participant, candidates []Participant) (Participant, error) {
	history := m.group.Messages()
	req := providers.CompletionRequest{
		SystemPrompt: selectorSystemMessage(candidates),
		Messages:     make([]providers.Message, 0, len(history)+1),
	}
	for _, msg := range history {
		req.Messages = append(req.Messages, msg.toProviderMessage(m.name))
	}
	req.Messages = append(req.Messages, providers.Message{
		Role:    providers.RoleSystem,
		Content: selectorInstruction(candidates),
	})

	resp, err := m.client.complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if speaker, ok := parseSelection(resp.Content, candidates); ok {
		return speaker, nil
	}
	next := m.group.nextAfter(last, candidates)
	m.logger.Warn("selector reply names no single role, using round robin", "reply", resp.Content, "speaker", next.Name())
	return next, nil
}
