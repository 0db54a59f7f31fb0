package groupchat

import (
	"context"
	"sync"
	"testing"

	"github.com/darkostanimirovic/groupchat/internal/testutil"
	"github.com/darkostanimirovic/groupchat/internal/tokenizer"
	"github.com/darkostanimirovic/groupchat/middleware"
	"github.com/darkostanimirovic/groupchat/providers"
	"github.com/darkostanimirovic/groupchat/providers/mock"
)

type recordingMiddleware struct {
	middleware.BaseMiddleware
	mu            sync.Mutex
	turnStarts    []string
	turnCompletes int
	llmCalls      int
	llmResponses  int
	toolStarts    []string
	toolCompletes int
}

func (m *recordingMiddleware) OnTurnStart(ctx context.Context, _ int, speaker string) context.Context {
	m.mu.Lock()
	m.turnStarts = append(m.turnStarts, speaker)
	m.mu.Unlock()
	return ctx
}

func (m *recordingMiddleware) OnTurnComplete(context.Context, int, string, error) {
	m.mu.Lock()
	m.turnCompletes++
	m.mu.Unlock()
}

func (m *recordingMiddleware) OnLLMCall(ctx context.Context, _ string, _ providers.CompletionRequest) context.Context {
	m.mu.Lock()
	m.llmCalls++
	m.mu.Unlock()
	return ctx
}

func (m *recordingMiddleware) OnLLMResponse(context.Context, string, *providers.CompletionResponse, error) {
	m.mu.Lock()
	m.llmResponses++
	m.mu.Unlock()
}

func (m *recordingMiddleware) OnToolStart(ctx context.Context, _ string, tool string, _ map[string]any) context.Context {
	m.mu.Lock()
	m.toolStarts = append(m.toolStarts, tool)
	m.mu.Unlock()
	return ctx
}

func (m *recordingMiddleware) OnToolComplete(context.Context, string, string, string, error) {
	m.mu.Lock()
	m.toolCompletes++
	m.mu.Unlock()
}

func TestMiddlewareHooks(t *testing.T) {
	admin, err := NewUserProxy(AgentConfig{Name: "admin", DefaultAutoReply: "continue", Logging: quietLogging()})
	testutil.AssertNoError(t, err)

	provider := mock.New().WithFunctionCall("reply", fnSendMessage, sendMessageArgs("on it", false))
	coder, err := NewMemoryAgent(context.Background(), MemoryAgentConfig{
		Name:      "MemGPT_coder",
		Config:    testMemoryConfig(PresetChat),
		Provider:  provider,
		Tokenizer: tokenizer.Estimate{},
		Logging:   quietLogging(),
	})
	testutil.AssertNoError(t, err)

	group, err := NewGroupChat([]Participant{admin, coder}, WithSpeakerSelection(SelectRoundRobin), WithMaxRound(3))
	testutil.AssertNoError(t, err)
	manager, err := NewManager(group, ManagerConfig{Logging: quietLogging()})
	testutil.AssertNoError(t, err)

	mw := &recordingMiddleware{}
	manager.Use(mw)

	_, err = admin.InitiateChat(context.Background(), manager, "hello")
	testutil.AssertNoError(t, err)

	mw.mu.Lock()
	defer mw.mu.Unlock()

	if len(mw.turnStarts) != 2 || mw.turnCompletes != 2 {
		t.Fatalf("expected turn start/complete 2/2, got %d/%d", len(mw.turnStarts), mw.turnCompletes)
	}
	testutil.AssertEqual(t, mw.turnStarts[0], "MemGPT_coder")
	testutil.AssertEqual(t, mw.turnStarts[1], "admin")
	if mw.llmCalls != 1 || mw.llmResponses != 1 {
		t.Fatalf("expected llm call/response 1/1, got %d/%d", mw.llmCalls, mw.llmResponses)
	}
	if len(mw.toolStarts) != 1 || mw.toolCompletes != 1 {
		t.Fatalf("expected tool start/complete 1/1, got %d/%d", len(mw.toolStarts), mw.toolCompletes)
	}
	testutil.AssertEqual(t, mw.toolStarts[0], fnSendMessage)
}

func TestMiddleware_ContextOverridesDoNotLeak(t *testing.T) {
	ctx := WithMiddleware(context.Background(), &recordingMiddleware{})
	testutil.AssertEqual(t, len(getMiddleware(ctx)), 1)
	testutil.AssertEqual(t, len(getMiddleware(context.Background())), 0)
}
