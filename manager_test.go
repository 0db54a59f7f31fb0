package groupchat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"pgregory.net/rapid"

	"github.com/darkostanimirovic/groupchat/internal/testutil"
	"github.com/darkostanimirovic/groupchat/providers"
	"github.com/darkostanimirovic/groupchat/providers/mock"
)

func newRoundRobinManager(t testing.TB, maxRound int, members ...*scriptedParticipant) *Manager {
	t.Helper()
	group, err := NewGroupChat(participants(members...),
		WithMaxRound(maxRound),
		WithSpeakerSelection(SelectRoundRobin),
	)
	if err != nil {
		t.Fatalf("new group chat: %v", err)
	}
	manager, err := NewManager(group, ManagerConfig{Logging: quietLogging()})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager
}

func speakers(msgs []Message) []string {
	names := make([]string, len(msgs))
	for i, m := range msgs {
		names[i] = m.Name
	}
	return names
}

func TestNewManager(t *testing.T) {
	group, err := NewGroupChat(participants(echoing("a"), echoing("b")))
	testutil.AssertNoError(t, err)

	_, err = NewManager(group, ManagerConfig{})
	testutil.AssertErrorIs(t, err, ErrConfig)

	_, err = NewManager(nil, ManagerConfig{})
	testutil.AssertErrorIs(t, err, ErrConfig)

	manager, err := NewManager(group, ManagerConfig{Provider: mock.New(), Logging: quietLogging()})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, manager.Name(), DefaultManagerName)
	if manager.GroupChat() != group {
		t.Fatal("expected the manager to expose its group chat")
	}
}

func TestManager_RunStopsAtMaxRound(t *testing.T) {
	admin, a, b := echoing("admin"), echoing("a"), echoing("b")
	manager := newRoundRobinManager(t, 5, admin, a, b)

	result, err := manager.Run(context.Background(), admin, "start")
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, result.StopReason, StopMaxRound)
	testutil.AssertEqual(t, result.StoppedBy, "")
	testutil.AssertEqual(t, result.Rounds, 5)
	testutil.AssertEqual(t, len(result.Messages), 5)
	testutil.AssertEqual(t, strings.Join(speakers(result.Messages), ","), "admin,a,b,admin,a")
	testutil.AssertEqual(t, result.Messages[0].Text(), "start")
	testutil.AssertEqual(t, result.LastMessage().Text(), "a #1")
	if result.ChatID == "" {
		t.Fatal("expected a chat id")
	}

	// Every participant, the sender included, sees every message.
	for _, p := range []*scriptedParticipant{admin, a, b} {
		testutil.AssertEqual(t, p.receivedCount(), 5)
	}
}

func TestManager_RoundBoundProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxRound := rapid.IntRange(1, 25).Draw(rt, "maxRound")
		n := rapid.IntRange(1, 4).Draw(rt, "participants")

		members := make([]*scriptedParticipant, n)
		for i := range members {
			members[i] = echoing(fmt.Sprintf("agent%d", i))
		}
		manager := newRoundRobinManager(t, maxRound, members...)

		result, err := manager.Run(context.Background(), members[0], "go")
		if err != nil {
			rt.Fatalf("run: %v", err)
		}
		if len(result.Messages) != maxRound {
			rt.Fatalf("expected %d messages, got %d", maxRound, len(result.Messages))
		}
		if result.StopReason != StopMaxRound {
			rt.Fatalf("expected max_round, got %s", result.StopReason)
		}
	})
}

func TestManager_TerminationMessage(t *testing.T) {
	admin := echoing("admin")
	analyst := newScripted("analyst", func(turn int) (*Message, error) {
		msg := NewMessage("analyst", RoleAssistant, " TERMINATE\n")
		return &msg, nil
	})
	manager := newRoundRobinManager(t, 20, admin, analyst)

	result, err := manager.Run(context.Background(), admin, "start")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, result.StopReason, StopTermination)
	testutil.AssertEqual(t, result.StoppedBy, DefaultManagerName)
	testutil.AssertEqual(t, len(result.Messages), 2)
	// The terminating message is recorded but not delivered.
	testutil.AssertEqual(t, admin.receivedCount(), 1)
}

func TestManager_TerminationInsideTextIsDelivered(t *testing.T) {
	admin := newScripted("admin", func(turn int) (*Message, error) { return nil, nil })
	analyst := newScripted("analyst", func(turn int) (*Message, error) {
		msg := NewMessage("analyst", RoleAssistant, "Done. TERMINATE")
		return &msg, nil
	})
	manager := newRoundRobinManager(t, 20, admin, analyst)

	result, err := manager.Run(context.Background(), admin, "start")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, result.StopReason, StopTermination)
	testutil.AssertEqual(t, result.StoppedBy, "admin")
	testutil.AssertEqual(t, len(result.Messages), 2)
	testutil.AssertEqual(t, admin.receivedCount(), 2)
}

func TestManager_CustomTermination(t *testing.T) {
	admin, a := echoing("admin"), echoing("a")
	group, err := NewGroupChat(participants(admin, a), WithSpeakerSelection(SelectRoundRobin), WithMaxRound(20))
	testutil.AssertNoError(t, err)
	manager, err := NewManager(group, ManagerConfig{
		Name:             "boss",
		IsTerminationMsg: func(m Message) bool { return m.Text() == "a #2" },
		Logging:          quietLogging(),
	})
	testutil.AssertNoError(t, err)

	result, err := manager.Run(context.Background(), admin, "start")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, result.StoppedBy, "boss")
	testutil.AssertEqual(t, result.LastMessage().Text(), "a #2")
}

func TestManager_ReplyErrorPropagates(t *testing.T) {
	boom := errors.New("provider unavailable")
	admin := echoing("admin")
	coder := newScripted("coder", func(turn int) (*Message, error) { return nil, boom })
	manager := newRoundRobinManager(t, 20, admin, coder)

	result, err := manager.Run(context.Background(), admin, "start")
	testutil.AssertErrorIs(t, err, boom)
	testutil.AssertContains(t, err.Error(), "groupchat: round 0: coder:")
	if result == nil {
		t.Fatal("expected a partial result")
	}
	testutil.AssertEqual(t, len(result.Messages), 1)
}

func TestManager_ClearHistory(t *testing.T) {
	admin, a := echoing("admin"), echoing("a")
	manager := newRoundRobinManager(t, 3, admin, a)

	_, err := manager.Run(context.Background(), admin, "first")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(manager.GroupChat().Messages()), 3)

	result, err := manager.Run(context.Background(), admin, "second", WithClearHistory(true))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(result.Messages), 3)
	testutil.AssertEqual(t, result.Messages[0].Text(), "second")
	testutil.AssertEqual(t, admin.resets, 1)
	testutil.AssertEqual(t, admin.receivedCount(), 3)

	result, err = manager.Run(context.Background(), admin, "third")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(result.Messages), 6)
}

func TestManager_RunRequiresSender(t *testing.T) {
	manager := newRoundRobinManager(t, 3, echoing("a"))
	_, err := manager.Run(context.Background(), nil, "hi")
	testutil.AssertErrorIs(t, err, ErrConfig)
}

func TestManager_AutoSelection(t *testing.T) {
	admin, analyst, designer := echoing("admin"), echoing("analyst"), echoing("uidesigner")
	selector := mock.New().
		WithResponse("uidesigner", nil).
		WithResponse("I think analyst should go", nil).
		WithResponse("nobody", nil)
	group, err := NewGroupChat(participants(admin, analyst, designer), WithMaxRound(4))
	testutil.AssertNoError(t, err)
	manager, err := NewManager(group, ManagerConfig{Provider: selector, Model: "gpt-4", Logging: quietLogging()})
	testutil.AssertNoError(t, err)

	result, err := manager.Run(context.Background(), admin, "Design a dashboard")
	testutil.AssertNoError(t, err)
	// The last pick names nobody, so round robin follows the analyst.
	testutil.AssertEqual(t, strings.Join(speakers(result.Messages), ","), "admin,uidesigner,analyst,uidesigner")

	reqs := selector.Requests()
	testutil.AssertEqual(t, len(reqs), 3)
	first := reqs[0]
	testutil.AssertContains(t, first.SystemPrompt, "admin: the admin\nanalyst: the analyst\nuidesigner: the uidesigner")
	testutil.AssertEqual(t, len(first.Messages), 2)
	testutil.AssertEqual(t, first.Messages[0].Role, providers.RoleUser)
	testutil.AssertEqual(t, first.Messages[0].Name, "admin")
	testutil.AssertEqual(t, first.Messages[1].Role, providers.RoleSystem)
	testutil.AssertContains(t, first.Messages[1].Content, "['admin', 'analyst', 'uidesigner']")
}

func TestManager_AutoSelectionError(t *testing.T) {
	boom := errors.New("rate limited")
	admin, a := echoing("admin"), echoing("a")
	group, err := NewGroupChat(participants(admin, a, echoing("b")), WithMaxRound(4))
	testutil.AssertNoError(t, err)
	manager, err := NewManager(group, ManagerConfig{Provider: mock.New().WithError(boom), Logging: quietLogging()})
	testutil.AssertNoError(t, err)

	_, err = manager.Run(context.Background(), admin, "hi")
	testutil.AssertErrorIs(t, err, boom)
	testutil.AssertContains(t, err.Error(), "select speaker")
}

func TestManager_PublishesEvents(t *testing.T) {
	admin, a := echoing("admin"), echoing("a")
	group, err := NewGroupChat(participants(admin, a), WithSpeakerSelection(SelectRoundRobin), WithMaxRound(3))
	testutil.AssertNoError(t, err)

	recorder := NewEventRecorder()
	manager, err := NewManager(group, ManagerConfig{EventPublisher: recorder.Publisher(nil), Logging: quietLogging()})
	testutil.AssertNoError(t, err)

	_, err = manager.Run(context.Background(), admin, "hello")
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, len(recorder.OfType(EventTypeMessage)), 3)
	selected := recorder.OfType(EventTypeSpeakerSelected)
	testutil.AssertEqual(t, len(selected), 2)
	testutil.AssertEqual(t, selected[0].Data["speaker"], "a")
	testutil.AssertEqual(t, selected[0].Data["method"], string(SelectRoundRobin))
	limit := recorder.OfType(EventTypeRoundLimit)
	testutil.AssertEqual(t, len(limit), 1)
	testutil.AssertEqual(t, limit[0].Data["max_round"], 3)
}

func TestManager_ContextReachesParticipants(t *testing.T) {
	admin := echoing("admin")
	var gotChatID string
	var gotRound int
	checker := &contextProbe{
		scriptedParticipant: newScripted("probe", nil),
		onReply: func(ctx context.Context) {
			gotChatID, _ = GetChatID(ctx)
			gotRound, _ = GetRound(ctx)
		},
	}

	group, err := NewGroupChat([]Participant{admin, checker}, WithSpeakerSelection(SelectRoundRobin), WithMaxRound(5))
	testutil.AssertNoError(t, err)
	manager, err := NewManager(group, ManagerConfig{Logging: quietLogging()})
	testutil.AssertNoError(t, err)

	result, err := manager.Run(context.Background(), admin, "hello")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, gotChatID, result.ChatID)
	testutil.AssertEqual(t, gotRound, 0)
}

// contextProbe inspects the context it is asked to reply with and declines.
type contextProbe struct {
	*scriptedParticipant
	onReply func(ctx context.Context)
}

func (p *contextProbe) GenerateReply(ctx context.Context) (*Message, error) {
	p.onReply(ctx)
	return nil, nil
}

func TestManager_TracesRun(t *testing.T) {
	tracer, recorder := newRecordingTracer()
	admin, a := echoing("admin"), echoing("a")
	group, err := NewGroupChat(participants(admin, a), WithSpeakerSelection(SelectRoundRobin), WithMaxRound(3))
	testutil.AssertNoError(t, err)
	manager, err := NewManager(group, ManagerConfig{Tracer: tracer, Logging: quietLogging()})
	testutil.AssertNoError(t, err)

	_, err = manager.Run(context.Background(), admin, "hello")
	testutil.AssertNoError(t, err)

	counts := map[string]int{}
	var run sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		counts[span.Name()]++
		if span.Name() == SpanRun {
			run = span
		}
	}
	testutil.AssertEqual(t, counts[SpanRun], 1)
	testutil.AssertEqual(t, counts[SpanRound], 3)
	testutil.AssertEqual(t, counts[SpanSelect], 2)
	if run == nil {
		t.Fatal("expected a run span")
	}
	for _, span := range recorder.Ended() {
		if span.Name() == SpanRound && span.Parent().SpanID() != run.SpanContext().SpanID() {
			t.Fatalf("round span is not a child of the run span")
		}
	}
}
