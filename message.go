package groupchat

import (
	"time"

	"github.com/google/uuid"

	"github.com/darkostanimirovic/groupchat/providers"
)

// Role is the role a message plays from the point of view of the agent holding it.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry in the group transcript. Content is nil when a speaker
// produced only function calls.
type Message struct {
	ID        string
	Name      string
	Role      Role
	Content   *string
	ToolCalls []providers.ToolCall
	Metadata  map[string]any
	CreatedAt time.Time
}

// NewMessage returns a message from name with the given content.
func NewMessage(name string, role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Name:      name,
		Role:      role,
		Content:   StringPtr(content),
		CreatedAt: time.Now(),
	}
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// Text returns the content, or "" when it is nil.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// Record renders the message as a loosely-typed record with "name", "role"
// and "content" keys. A nil content is kept as nil.
func (m Message) Record() map[string]any {
	rec := map[string]any{
		"name": m.Name,
		"role": string(m.Role),
	}
	if m.Content != nil {
		rec["content"] = *m.Content
	} else {
		rec["content"] = nil
	}
	return rec
}

// toProviderMessage converts m for an agent named self: its own messages become
// assistant turns and everyone else's become named user turns.
func (m Message) toProviderMessage(self string) providers.Message {
	if m.Name == self {
		return providers.Message{
			Role:      providers.RoleAssistant,
			Content:   m.Text(),
			ToolCalls: m.ToolCalls,
		}
	}
	if m.Role == RoleSystem {
		return providers.Message{Role: providers.RoleSystem, Content: m.Text()}
	}
	return providers.Message{
		Role:    providers.RoleUser,
		Content: m.Text(),
		Name:    m.Name,
	}
}
