package groupchat

import "strings"

// TerminationKeyword is the sentinel agents emit to end a conversation.
const TerminationKeyword = "TERMINATE"

// TerminationFunc decides whether a received message ends the conversation.
type TerminationFunc func(Message) bool

// IsTerminationMsg reports whether msg has non-nil content containing
// TerminationKeyword. The match is case-sensitive and may occur anywhere.
func IsTerminationMsg(msg Message) bool {
	return msg.Content != nil && strings.Contains(*msg.Content, TerminationKeyword)
}

// IsTerminationRecord applies IsTerminationMsg to a loosely-typed record. A
// missing "content" key, a nil value or a non-string value never terminates.
func IsTerminationRecord(rec map[string]any) bool {
	raw, ok := rec["content"]
	if !ok || raw == nil {
		return false
	}
	content, ok := raw.(string)
	if !ok {
		return false
	}
	return strings.Contains(content, TerminationKeyword)
}

// IsExactTermination reports whether the content is exactly TerminationKeyword
// once surrounding whitespace is removed. Managers use it by default.
func IsExactTermination(msg Message) bool {
	return msg.Content != nil && strings.TrimSpace(*msg.Content) == TerminationKeyword
}
