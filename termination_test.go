package groupchat

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestIsTerminationMsg(t *testing.T) {
	tests := []struct {
		name    string
		content *string
		want    bool
	}{
		{"nil content", nil, false},
		{"empty content", StringPtr(""), false},
		{"exact keyword", StringPtr("TERMINATE"), true},
		{"keyword inside sentence", StringPtr("Chart is done. TERMINATE"), true},
		{"keyword glued to text", StringPtr("doneTERMINATEnow"), true},
		{"lowercase keyword", StringPtr("terminate"), false},
		{"mixed case keyword", StringPtr("Terminate"), false},
		{"unrelated text", StringPtr("Hello, Workato developer!"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := Message{Name: "analyst", Content: tt.content}
			if got := IsTerminationMsg(msg); got != tt.want {
				t.Errorf("IsTerminationMsg(%v) = %v, want %v", tt.content, got, tt.want)
			}
		})
	}
}

func TestIsTerminationMsg_MatchesSubstringProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		content := rapid.String().Draw(t, "content")
		msg := Message{Content: StringPtr(content)}

		want := strings.Contains(content, TerminationKeyword)
		if got := IsTerminationMsg(msg); got != want {
			t.Fatalf("IsTerminationMsg(%q) = %v, want %v", content, got, want)
		}
	})
}

func TestIsTerminationMsg_WrappedKeywordProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prefix := rapid.String().Draw(t, "prefix")
		suffix := rapid.String().Draw(t, "suffix")
		msg := Message{Content: StringPtr(prefix + TerminationKeyword + suffix)}

		if !IsTerminationMsg(msg) {
			t.Fatalf("expected termination for %q", *msg.Content)
		}
	})
}

func TestIsTerminationMsg_IsPure(t *testing.T) {
	content := "all done, TERMINATE"
	msg := Message{Name: "analyst", Content: &content}

	first := IsTerminationMsg(msg)
	second := IsTerminationMsg(msg)
	if first != second || !first {
		t.Fatalf("expected stable true result, got %v then %v", first, second)
	}
	if content != "all done, TERMINATE" || msg.Name != "analyst" {
		t.Fatal("predicate must not modify its input")
	}
}

func TestIsTerminationRecord(t *testing.T) {
	tests := []struct {
		name string
		rec  map[string]any
		want bool
	}{
		{"missing key", map[string]any{"name": "analyst"}, false},
		{"nil content", map[string]any{"content": nil}, false},
		{"non-string content", map[string]any{"content": 42}, false},
		{"empty string", map[string]any{"content": ""}, false},
		{"contains keyword", map[string]any{"content": "TERMINATE please"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTerminationRecord(tt.rec); got != tt.want {
				t.Errorf("IsTerminationRecord(%v) = %v, want %v", tt.rec, got, tt.want)
			}
		})
	}
}

func TestIsTerminationRecord_AgreesWithMessage(t *testing.T) {
	for _, content := range []*string{nil, StringPtr(""), StringPtr("x TERMINATE"), StringPtr("continue")} {
		msg := Message{Name: "admin", Content: content}
		if IsTerminationRecord(msg.Record()) != IsTerminationMsg(msg) {
			t.Errorf("record and message predicates disagree for %v", content)
		}
	}
}

func TestIsExactTermination(t *testing.T) {
	if !IsExactTermination(Message{Content: StringPtr(" TERMINATE\n")}) {
		t.Error("expected trimmed keyword to match")
	}
	if IsExactTermination(Message{Content: StringPtr("done. TERMINATE")}) {
		t.Error("expected embedded keyword not to match exactly")
	}
	if IsExactTermination(Message{}) {
		t.Error("expected nil content not to match")
	}
}
