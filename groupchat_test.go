package groupchat

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"pgregory.net/rapid"

	"github.com/darkostanimirovic/groupchat/internal/testutil"
)

// scriptedParticipant replies through a function of its turn number and
// records what it receives.
type scriptedParticipant struct {
	name  string
	reply func(turn int) (*Message, error)

	mu       sync.Mutex
	received []Message
	turns    int
	resets   int
}

func newScripted(name string, reply func(turn int) (*Message, error)) *scriptedParticipant {
	return &scriptedParticipant{name: name, reply: reply}
}

// echoing replies "<name> #<turn>" forever.
func echoing(name string) *scriptedParticipant {
	return newScripted(name, func(turn int) (*Message, error) {
		msg := NewMessage(name, RoleAssistant, fmt.Sprintf("%s #%d", name, turn))
		return &msg, nil
	})
}

func (p *scriptedParticipant) Name() string        { return p.name }
func (p *scriptedParticipant) Description() string { return "the " + p.name }

func (p *scriptedParticipant) Receive(msg Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received = append(p.received, msg)
}

func (p *scriptedParticipant) GenerateReply(ctx context.Context) (*Message, error) {
	p.mu.Lock()
	turn := p.turns
	p.turns++
	p.mu.Unlock()
	return p.reply(turn)
}

func (p *scriptedParticipant) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received = nil
	p.resets++
}

func (p *scriptedParticipant) receivedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.received)
}

func participants(ps ...*scriptedParticipant) []Participant {
	out := make([]Participant, len(ps))
	for i, p := range ps {
		out[i] = p
	}
	return out
}

func TestNewGroupChat_Validation(t *testing.T) {
	a, b := echoing("a"), echoing("b")

	tests := []struct {
		name    string
		members []Participant
		opts    []GroupChatOption
		wantErr error
	}{
		{"no participants", nil, nil, ErrNoParticipants},
		{"duplicate names", participants(a, b, echoing("a")), nil, ErrDuplicateParticipant},
		{"zero max round", participants(a, b), []GroupChatOption{WithMaxRound(0)}, ErrInvalidMaxRound},
		{"unknown selection", participants(a, b), []GroupChatOption{WithSpeakerSelection("manual")}, ErrUnknownSelection},
		{"nil participant", []Participant{a, nil}, nil, ErrConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGroupChat(tt.members, tt.opts...)
			testutil.AssertErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewGroupChat_Defaults(t *testing.T) {
	group, err := NewGroupChat(participants(echoing("admin"), echoing("analyst")))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, group.MaxRound(), DefaultMaxRound)
	testutil.AssertEqual(t, group.SpeakerSelection(), SelectAuto)
	testutil.AssertEqual(t, len(group.Messages()), 0)

	p, ok := group.Participant("analyst")
	if !ok || p.Name() != "analyst" {
		t.Fatalf("expected to find analyst, got %v", p)
	}
	if _, ok := group.Participant("coder"); ok {
		t.Fatal("did not expect to find coder")
	}
}

func TestNewGroupChat_DuplicateNamesProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		names := rapid.SliceOfN(rapid.SampledFrom([]string{"admin", "analyst", "uidesigner", "Coder", "MemGPT_coder"}), 1, 6).Draw(t, "names")

		seen := map[string]bool{}
		duplicate := false
		members := make([]Participant, len(names))
		for i, name := range names {
			if seen[name] {
				duplicate = true
			}
			seen[name] = true
			members[i] = echoing(name)
		}

		group, err := NewGroupChat(members)
		if duplicate {
			if err == nil {
				t.Fatalf("expected duplicate error for %v", names)
			}
			return
		}
		if err != nil {
			t.Fatalf("unexpected error for %v: %v", names, err)
		}
		if len(group.Names()) != len(names) {
			t.Fatalf("expected %d participants, got %d", len(names), len(group.Names()))
		}
	})
}

func TestGroupChat_NextAfter(t *testing.T) {
	a, b, c := echoing("a"), echoing("b"), echoing("c")
	group, err := NewGroupChat(participants(a, b, c))
	testutil.AssertNoError(t, err)

	all := group.Participants()
	testutil.AssertEqual(t, group.nextAfter(a, all).Name(), "b")
	testutil.AssertEqual(t, group.nextAfter(c, all).Name(), "a")
	testutil.AssertEqual(t, group.nextAfter(nil, all).Name(), "a")
	testutil.AssertEqual(t, group.nextAfter(echoing("outsider"), all).Name(), "a")

	withoutB := []Participant{a, c}
	testutil.AssertEqual(t, group.nextAfter(a, withoutB).Name(), "c")
}

func TestGroupChat_Candidates(t *testing.T) {
	a, b := echoing("a"), echoing("b")

	repeat, err := NewGroupChat(participants(a, b))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(repeat.candidates(a)), 2)

	noRepeat, err := NewGroupChat(participants(a, b), WithAllowRepeatSpeaker(false))
	testutil.AssertNoError(t, err)
	got := noRepeat.candidates(a)
	testutil.AssertEqual(t, len(got), 1)
	testutil.AssertEqual(t, got[0].Name(), "b")

	single, err := NewGroupChat(participants(a), WithAllowRepeatSpeaker(false))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(single.candidates(a)), 1)
}

func TestGroupChat_RandomIsSeeded(t *testing.T) {
	members := participants(echoing("a"), echoing("b"), echoing("c"))
	pick := func() []string {
		group, err := NewGroupChat(members, WithSpeakerSelection(SelectRandom), WithRand(rand.New(rand.NewPCG(1, 2))))
		testutil.AssertNoError(t, err)
		var names []string
		for i := 0; i < 10; i++ {
			names = append(names, group.random(group.Participants()).Name())
		}
		return names
	}
	first, second := pick(), pick()
	for i := range first {
		testutil.AssertEqual(t, first[i], second[i])
	}
}

func TestParseSelection(t *testing.T) {
	members := participants(echoing("admin"), echoing("analyst"), echoing("MemGPT_coder"))

	tests := []struct {
		reply string
		want  string
	}{
		{"analyst", "analyst"},
		{"  admin\n", "admin"},
		{"'MemGPT_coder'", "MemGPT_coder"},
		{"analyst.", "analyst"},
		{"The next role is analyst", "analyst"},
		{"admin or analyst", ""},
		{"the coder", ""},
		{"analysts", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			got, ok := parseSelection(tt.reply, members)
			if tt.want == "" {
				if ok {
					t.Fatalf("expected no selection, got %s", got.Name())
				}
				return
			}
			if !ok {
				t.Fatalf("expected %s, got nothing", tt.want)
			}
			testutil.AssertEqual(t, got.Name(), tt.want)
		})
	}
}

func TestSelectorPrompts(t *testing.T) {
	members := participants(echoing("admin"), echoing("analyst"))

	system := selectorSystemMessage(members)
	testutil.AssertContains(t, system, "You are in a role play game. The following roles are available:\nadmin: the admin\nanalyst: the analyst.")
	testutil.AssertContains(t, system, "Then select the next role from ['admin', 'analyst'] to play. Only return the role.")

	testutil.AssertEqual(t, selectorInstruction(members),
		"Read the above conversation. Then select the next role from ['admin', 'analyst'] to play. Only return the role.")
}
