package groupchat

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/darkostanimirovic/groupchat/internal/testutil"
	"github.com/darkostanimirovic/groupchat/providers"
	"github.com/darkostanimirovic/groupchat/providers/mock"
)

func quietLogging() *LoggingConfig {
	return &LoggingConfig{Logger: testutil.DiscardLogger()}
}

func TestAgentConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     AgentConfig
		wantErr error
	}{
		{"valid", AgentConfig{Name: "analyst"}, nil},
		{"missing name", AgentConfig{}, ErrMissingName},
		{"temperature too high", AgentConfig{Name: "a", Temperature: 2.5}, ErrInvalidTemperature},
		{"negative temperature", AgentConfig{Name: "a", Temperature: -0.1}, ErrInvalidTemperature},
		{"negative auto reply", AgentConfig{Name: "a", MaxConsecutiveAutoReply: -1}, ErrInvalidAutoReply},
		{"always input mode", AgentConfig{Name: "a", HumanInputMode: "ALWAYS"}, ErrUnsupportedInputMode},
		{"never input mode", AgentConfig{Name: "a", HumanInputMode: HumanInputNever}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				testutil.AssertNoError(t, err)
				return
			}
			testutil.AssertErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewAssistant(t *testing.T) {
	_, err := NewAssistant(AgentConfig{Name: "coder"})
	testutil.AssertErrorIs(t, err, ErrConfig)

	agent, err := NewAssistant(AgentConfig{Name: "coder", Provider: mock.New(), Logging: quietLogging()})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, agent.SystemMessage(), DefaultAssistantSystemMessage)
	testutil.AssertEqual(t, agent.Description(), DefaultAssistantSystemMessage)
}

func TestAgent_GenerateReply_LLM(t *testing.T) {
	provider := mock.New().WithResponse("Here is the chart.", nil)
	seed := 42
	agent, err := NewAgent(AgentConfig{
		Name:          "analyst",
		SystemMessage: "You are an analyst.",
		Provider:      provider,
		Model:         "gpt-4",
		Seed:          &seed,
		Logging:       quietLogging(),
	})
	testutil.AssertNoError(t, err)

	agent.Receive(NewMessage("admin", RoleUser, "Plot the data"))
	agent.Receive(NewMessage("analyst", RoleAssistant, "Working on it"))
	agent.Receive(NewMessage("uidesigner", RoleAssistant, "Use blue"))

	reply, err := agent.GenerateReply(context.Background())
	testutil.AssertNoError(t, err)
	if reply == nil {
		t.Fatal("expected a reply")
	}
	testutil.AssertEqual(t, reply.Name, "analyst")
	testutil.AssertEqual(t, reply.Text(), "Here is the chart.")

	req, ok := provider.LastRequest()
	if !ok {
		t.Fatal("expected a provider request")
	}
	testutil.AssertEqual(t, req.SystemPrompt, "You are an analyst.")
	testutil.AssertEqual(t, req.Model, "gpt-4")
	if req.Seed == nil || *req.Seed != 42 {
		t.Fatalf("expected seed 42, got %v", req.Seed)
	}
	if len(req.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(req.Messages))
	}
	testutil.AssertEqual(t, req.Messages[0].Role, providers.RoleUser)
	testutil.AssertEqual(t, req.Messages[0].Name, "admin")
	testutil.AssertEqual(t, req.Messages[1].Role, providers.RoleAssistant)
	testutil.AssertEqual(t, req.Messages[2].Name, "uidesigner")
}

func TestAgent_GenerateReply_TerminationMessage(t *testing.T) {
	provider := mock.New().WithFallback("should not be called")
	agent, err := NewAgent(AgentConfig{
		Name:             "admin",
		Provider:         provider,
		IsTerminationMsg: IsTerminationMsg,
		Logging:          quietLogging(),
	})
	testutil.AssertNoError(t, err)

	agent.Receive(NewMessage("analyst", RoleAssistant, "All done. TERMINATE"))
	reply, err := agent.GenerateReply(context.Background())
	testutil.AssertNoError(t, err)
	if reply != nil {
		t.Fatalf("expected no reply, got %q", reply.Text())
	}
	testutil.AssertEqual(t, provider.CallCount(), 0)
}

func TestAgent_MaxConsecutiveAutoReply(t *testing.T) {
	agent, err := NewAgent(AgentConfig{
		Name:                    "admin",
		DefaultAutoReply:        "ok",
		MaxConsecutiveAutoReply: 2,
		Logging:                 quietLogging(),
	})
	testutil.AssertNoError(t, err)
	agent.Receive(NewMessage("analyst", RoleAssistant, "hi"))

	for i := 0; i < 2; i++ {
		reply, err := agent.GenerateReply(context.Background())
		testutil.AssertNoError(t, err)
		if reply == nil || reply.Text() != "ok" {
			t.Fatalf("reply %d: expected default auto reply, got %v", i, reply)
		}
	}

	reply, err := agent.GenerateReply(context.Background())
	testutil.AssertNoError(t, err)
	if reply != nil {
		t.Fatal("expected the auto reply budget to be spent")
	}

	// Declining resets the counter.
	reply, err = agent.GenerateReply(context.Background())
	testutil.AssertNoError(t, err)
	if reply == nil {
		t.Fatal("expected a reply after the counter reset")
	}
}

func TestAgent_DefaultAutoReplyWithoutProvider(t *testing.T) {
	agent, err := NewAgent(AgentConfig{Name: "admin", Logging: quietLogging()})
	testutil.AssertNoError(t, err)

	reply, err := agent.GenerateReply(context.Background())
	testutil.AssertNoError(t, err)
	if reply == nil {
		t.Fatal("expected a reply")
	}
	testutil.AssertEqual(t, reply.Text(), "")
}

func TestAgent_ProviderError(t *testing.T) {
	boom := errors.New("boom")
	agent, err := NewAgent(AgentConfig{
		Name:     "analyst",
		Provider: mock.New().WithError(boom),
		Logging:  quietLogging(),
	})
	testutil.AssertNoError(t, err)
	agent.Receive(NewMessage("admin", RoleUser, "hi"))

	_, err = agent.GenerateReply(context.Background())
	testutil.AssertErrorIs(t, err, boom)
	testutil.AssertContains(t, err.Error(), "analyst: llm call")
}

func TestAgent_CodeExecutionReply(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	provider := mock.New().WithFallback("should not be called")
	agent, err := NewAgent(AgentConfig{
		Name:          "analyst",
		Provider:      provider,
		CodeExecution: &CodeExecutionConfig{WorkDir: t.TempDir()},
		Logging:       quietLogging(),
	})
	testutil.AssertNoError(t, err)

	agent.Receive(NewMessage("coder", RoleAssistant, "Run this:\n```sh\necho hello\n```"))
	reply, err := agent.GenerateReply(context.Background())
	testutil.AssertNoError(t, err)
	if reply == nil {
		t.Fatal("expected a reply")
	}
	testutil.AssertEqual(t, reply.Text(), "exitcode: 0 (execution succeeded)\nCode output: hello\n")
	testutil.AssertEqual(t, provider.CallCount(), 0)
}

func TestAgent_CodeExecutionStopsAtFailure(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	agent, err := NewAgent(AgentConfig{
		Name:          "analyst",
		CodeExecution: &CodeExecutionConfig{WorkDir: t.TempDir()},
		Logging:       quietLogging(),
	})
	testutil.AssertNoError(t, err)

	content := "```sh\necho first; exit 3\n```\n```sh\necho second\n```"
	agent.Receive(NewMessage("coder", RoleAssistant, content))
	reply, err := agent.GenerateReply(context.Background())
	testutil.AssertNoError(t, err)

	text := reply.Text()
	testutil.AssertContains(t, text, "exitcode: 3 (execution failed)")
	testutil.AssertContains(t, text, "first")
	if strings.Contains(text, "second") {
		t.Fatalf("expected the second block to be skipped, got %q", text)
	}
}

func TestAgent_CodeExecutionTimeout(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	agent, err := NewAgent(AgentConfig{
		Name:          "analyst",
		CodeExecution: &CodeExecutionConfig{WorkDir: t.TempDir(), Timeout: 100 * time.Millisecond},
		Logging:       quietLogging(),
	})
	testutil.AssertNoError(t, err)

	agent.Receive(NewMessage("coder", RoleAssistant, "```sh\nsleep 5\n```"))
	reply, err := agent.GenerateReply(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertContains(t, reply.Text(), "exitcode: 1 (execution failed)")
	testutil.AssertContains(t, reply.Text(), "Timeout")

	// A turn that runs out of time is not reported as the block timing out.
	agent, err = NewAgent(AgentConfig{
		Name:          "analyst",
		CodeExecution: &CodeExecutionConfig{WorkDir: t.TempDir(), Timeout: time.Minute},
		Logging:       quietLogging(),
	})
	testutil.AssertNoError(t, err)
	agent.Receive(NewMessage("coder", RoleAssistant, "```sh\nsleep 5\n```"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = agent.GenerateReply(ctx)
	testutil.AssertErrorIs(t, err, context.DeadlineExceeded)
}

func TestAgent_Reset(t *testing.T) {
	agent, err := NewAgent(AgentConfig{Name: "analyst", Logging: quietLogging()})
	testutil.AssertNoError(t, err)

	agent.Receive(NewMessage("admin", RoleUser, "hi"))
	testutil.AssertEqual(t, len(agent.Messages()), 1)

	agent.Reset()
	testutil.AssertEqual(t, len(agent.Messages()), 0)
}

func TestNewUserProxy(t *testing.T) {
	proxy, err := NewUserProxy(AgentConfig{Name: "admin", Logging: quietLogging()})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, proxy.Name(), "admin")

	_, err = NewUserProxy(AgentConfig{Name: "admin", HumanInputMode: "TERMINATE"})
	testutil.AssertErrorIs(t, err, ErrUnsupportedInputMode)
}
