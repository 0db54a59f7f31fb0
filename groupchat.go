package groupchat

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"
)

// DefaultMaxRound is the round bound of a group chat created without WithMaxRound.
const DefaultMaxRound = 10

// SpeakerSelection names how the next speaker is picked.
type SpeakerSelection string

const (
	// SelectAuto asks the manager's LLM to pick the next role.
	SelectAuto SpeakerSelection = "auto"
	// SelectRoundRobin cycles through participants in order.
	SelectRoundRobin SpeakerSelection = "round_robin"
	// SelectRandom picks uniformly among the candidates.
	SelectRandom SpeakerSelection = "random"
)

var (
	ErrNoParticipants       = errors.New("groupchat: group chat requires at least one participant")
	ErrDuplicateParticipant = errors.New("groupchat: duplicate participant name")
	ErrInvalidMaxRound      = errors.New("groupchat: max round must be positive")
	ErrUnknownSelection     = errors.New("groupchat: unknown speaker selection method")
)

type groupOptions struct {
	maxRound           int
	selection          SpeakerSelection
	allowRepeatSpeaker bool
	rng                *rand.Rand
}

// GroupChatOption configures a GroupChat.
type GroupChatOption func(*groupOptions)

// WithMaxRound bounds the number of messages a run appends.
func WithMaxRound(n int) GroupChatOption {
	return func(o *groupOptions) {
		o.maxRound = n
	}
}

// WithSpeakerSelection sets the speaker selection method. Defaults to SelectAuto.
func WithSpeakerSelection(method SpeakerSelection) GroupChatOption {
	return func(o *groupOptions) {
		o.selection = method
	}
}

// WithAllowRepeatSpeaker controls whether the last speaker may be picked again.
// Defaults to true.
func WithAllowRepeatSpeaker(allow bool) GroupChatOption {
	return func(o *groupOptions) {
		o.allowRepeatSpeaker = allow
	}
}

// WithRand sets the source used by SelectRandom.
func WithRand(r *rand.Rand) GroupChatOption {
	return func(o *groupOptions) {
		o.rng = r
	}
}

// GroupChat holds the participants and the shared transcript of a chat.
type GroupChat struct {
	participants []Participant
	byName       map[string]Participant
	options      groupOptions

	mu       sync.RWMutex
	messages []Message
}

// NewGroupChat creates a group chat. Participant names must be unique.
//
// Example:
//
//	group, err := groupchat.NewGroupChat(
//	    []groupchat.Participant{admin, analyst, designer, coder},
//	    groupchat.WithMaxRound(20),
//	)
func NewGroupChat(participants []Participant, opts ...GroupChatOption) (*GroupChat, error) {
	o := groupOptions{
		maxRound:           DefaultMaxRound,
		selection:          SelectAuto,
		allowRepeatSpeaker: true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if len(participants) == 0 {
		return nil, ErrNoParticipants
	}
	if o.maxRound <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMaxRound, o.maxRound)
	}
	switch o.selection {
	case SelectAuto, SelectRoundRobin, SelectRandom:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSelection, o.selection)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	byName := make(map[string]Participant, len(participants))
	for _, p := range participants {
		if p == nil {
			return nil, fmt.Errorf("%w: nil participant", ErrConfig)
		}
		if _, dup := byName[p.Name()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateParticipant, p.Name())
		}
		byName[p.Name()] = p
	}

	return &GroupChat{
		participants: append([]Participant(nil), participants...),
		byName:       byName,
		options:      o,
	}, nil
}

// Participants returns the participants in the order they were given.
func (g *GroupChat) Participants() []Participant {
	return append([]Participant(nil), g.participants...)
}

// Participant looks up a participant by name.
func (g *GroupChat) Participant(name string) (Participant, bool) {
	p, ok := g.byName[name]
	return p, ok
}

// Names returns the participant names in order.
func (g *GroupChat) Names() []string {
	names := make([]string, len(g.participants))
	for i, p := range g.participants {
		names[i] = p.Name()
	}
	return names
}

func (g *GroupChat) MaxRound() int                      { return g.options.maxRound }
func (g *GroupChat) SpeakerSelection() SpeakerSelection { return g.options.selection }

// Messages returns a copy of the transcript.
func (g *GroupChat) Messages() []Message {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Message, len(g.messages))
	copy(out, g.messages)
	return out
}

func (g *GroupChat) append(msg Message) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages = append(g.messages, msg)
}

func (g *GroupChat) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages = nil
}

// candidates returns who may speak after last.
func (g *GroupChat) candidates(last Participant) []Participant {
	if g.options.allowRepeatSpeaker || last == nil || len(g.participants) < 2 {
		return g.Participants()
	}
	out := make([]Participant, 0, len(g.participants)-1)
	for _, p := range g.participants {
		if p.Name() != last.Name() {
			out = append(out, p)
		}
	}
	return out
}

// nextAfter walks the participant order from last and returns the first
// candidate it meets. A last speaker outside the group starts from the top.
func (g *GroupChat) nextAfter(last Participant, candidates []Participant) Participant {
	allowed := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		allowed[c.Name()] = true
	}
	start := 0
	if last != nil {
		for i, p := range g.participants {
			if p.Name() == last.Name() {
				start = i + 1
				break
			}
		}
	}
	for i := 0; i < len(g.participants); i++ {
		p := g.participants[(start+i)%len(g.participants)]
		if allowed[p.Name()] {
			return p
		}
	}
	return candidates[0]
}

func (g *GroupChat) random(candidates []Participant) Participant {
	g.mu.Lock()
	defer g.mu.Unlock()
	return candidates[g.options.rng.IntN(len(candidates))]
}

// roleList renders names the way the selector prompt lists them: ['a', 'b'].
func roleList(candidates []Participant) string {
	quoted := make([]string, len(candidates))
	for i, p := range candidates {
		quoted[i] = "'" + p.Name() + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func selectorSystemMessage(candidates []Participant) string {
	var roles strings.Builder
	for _, p := range candidates {
		fmt.Fprintf(&roles, "%s: %s\n", p.Name(), p.Description())
	}
	return fmt.Sprintf("You are in a role play game. The following roles are available:\n%s.\n\n"+
		"Read the following conversation.\nThen select the next role from %s to play. Only return the role.",
		strings.TrimRight(roles.String(), "\n"), roleList(candidates))
}

func selectorInstruction(candidates []Participant) string {
	return fmt.Sprintf("Read the above conversation. Then select the next role from %s to play. Only return the role.",
		roleList(candidates))
}

// parseSelection maps the selector's answer to a candidate: an exact name
// first, then the only name mentioned as a whole word.
func parseSelection(reply string, candidates []Participant) (Participant, bool) {
	name := strings.Trim(strings.TrimSpace(reply), "'\"`.")
	for _, c := range candidates {
		if c.Name() == name {
			return c, true
		}
	}

	var found Participant
	for _, c := range candidates {
		re := regexp.MustCompile(`(^|[^\w])` + regexp.QuoteMeta(c.Name()) + `([^\w]|$)`)
		if re.MatchString(reply) {
			if found != nil {
				return nil, false
			}
			found = c
		}
	}
	return found, found != nil
}
