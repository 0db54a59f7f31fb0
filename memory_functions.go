package groupchat

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/darkostanimirovic/groupchat/memory"
)

const (
	fnSendMessage          = "send_message"
	fnCoreMemoryAppend     = "core_memory_append"
	fnCoreMemoryReplace    = "core_memory_replace"
	fnConversationSearch   = "conversation_search"
	fnArchivalMemoryInsert = "archival_memory_insert"
	fnArchivalMemorySearch = "archival_memory_search"

	heartbeatParam       = "request_heartbeat"
	heartbeatDescription = "Request an immediate heartbeat after function execution. Set to 'true' if you want to send a follow-up message or run a follow-up function."

	// FunctionReturnCharLimit truncates function results fed back to the model.
	FunctionReturnCharLimit = 3000
)

// memgptTimeLayout is the timestamp layout used in packaged messages.
const memgptTimeLayout = "2006-01-02 03:04:05 PM MST-0700"

func formatTime(t time.Time) string {
	return t.Format(memgptTimeLayout)
}

func packJSON(fields map[string]any) string {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Sprintf("%v", fields)
	}
	return string(data)
}

func packageUserMessage(text string, now time.Time) string {
	return packJSON(map[string]any{"type": "user_message", "message": text, "time": formatTime(now)})
}

func packageHeartbeat(reason string, now time.Time) string {
	return packJSON(map[string]any{"type": "heartbeat", "reason": reason, "time": formatTime(now)})
}

func packageFunctionResponse(ok bool, message string, now time.Time) string {
	status := "OK"
	if !ok {
		status = "Failed"
	}
	return packJSON(map[string]any{"status": status, "message": message, "time": formatTime(now)})
}

func packageSummaryMessage(summary string, summarized, hidden, total int, now time.Time) string {
	note := fmt.Sprintf("Note: prior messages (%d of %d total messages) have been hidden from view due to conversation memory constraints.\n"+
		"The following is a summary of the previous %d messages:\n %s", hidden, total, summarized, summary)
	return packJSON(map[string]any{"type": "system_alert", "message": note, "time": formatTime(now)})
}

// Heartbeat reasons.
const (
	heartbeatRequested = "request_heartbeat == true"
	heartbeatFailed    = "Function call failed"
)

// builtinTools returns the memory functions bound to m.
func (m *MemoryAgent) builtinTools() []Tool {
	return []Tool{
		NewTool(fnSendMessage).
			WithDescription("Sends a message to the human user.").
			WithParameter("message", String().Required().WithDescription("Message contents. All unicode (including emojis) are supported.")).
			WithHandler(m.sendMessage).
			MustBuild(),
		NewTool(fnCoreMemoryAppend).
			WithDescription("Append to the contents of core memory.").
			WithParameter("name", String().Required().WithDescription("Section of the memory to be edited (persona or human).")).
			WithParameter("content", String().Required().WithDescription("Content to write to the memory. All unicode (including emojis) are supported.")).
			WithHandler(m.coreMemoryAppend).
			MustBuild(),
		NewTool(fnCoreMemoryReplace).
			WithDescription("Replace the contents of core memory. To delete memories, use an empty string for new_content.").
			WithParameter("name", String().Required().WithDescription("Section of the memory to be edited (persona or human).")).
			WithParameter("old_content", String().Required().WithDescription("String to replace. Must be an exact match.")).
			WithParameter("new_content", String().Required().WithDescription("Content to write to the memory. All unicode (including emojis) are supported.")).
			WithHandler(m.coreMemoryReplace).
			MustBuild(),
		NewTool(fnConversationSearch).
			WithDescription("Search prior conversation history using case-insensitive string matching.").
			WithParameter("query", String().Required().WithDescription("String to search for.")).
			WithParameter("page", Integer().WithDescription("Allows you to page through results. Only use on a follow-up query. Defaults to 0 (first page).")).
			WithHandler(m.conversationSearch).
			MustBuild(),
		NewTool(fnArchivalMemoryInsert).
			WithDescription("Add to archival memory. Make sure to phrase the memory contents such that it can be easily queried later.").
			WithParameter("content", String().Required().WithDescription("Content to write to the memory. All unicode (including emojis) are supported.")).
			WithHandler(m.archivalMemoryInsert).
			MustBuild(),
		NewTool(fnArchivalMemorySearch).
			WithDescription("Search archival memory using case-insensitive string matching.").
			WithParameter("query", String().Required().WithDescription("String to search for.")).
			WithParameter("page", Integer().WithDescription("Allows you to page through results. Only use on a follow-up query. Defaults to 0 (first page).")).
			WithHandler(m.archivalMemorySearch).
			MustBuild(),
	}
}

func (m *MemoryAgent) sendMessage(ctx context.Context, args map[string]any) (any, error) {
	msg, err := stringArg(args, "message")
	if err != nil {
		return nil, err
	}
	m.say(msg)
	return nil, nil
}

func (m *MemoryAgent) coreMemoryAppend(ctx context.Context, args map[string]any) (any, error) {
	label, err := stringArg(args, "name")
	if err != nil {
		return nil, err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return nil, err
	}
	block, err := m.core.Append(label, content)
	if err != nil {
		return nil, err
	}
	return nil, m.saveBlock(ctx, block)
}

func (m *MemoryAgent) coreMemoryReplace(ctx context.Context, args map[string]any) (any, error) {
	label, err := stringArg(args, "name")
	if err != nil {
		return nil, err
	}
	old, err := stringArg(args, "old_content")
	if err != nil {
		return nil, err
	}
	replacement, err := optionalStringArg(args, "new_content")
	if err != nil {
		return nil, err
	}
	block, err := m.core.Replace(label, old, replacement)
	if err != nil {
		return nil, err
	}
	return nil, m.saveBlock(ctx, block)
}

func (m *MemoryAgent) conversationSearch(ctx context.Context, args map[string]any) (any, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}
	page, err := intArg(args, "page", 0)
	if err != nil {
		return nil, err
	}
	q := memory.Query{Text: query, Page: page, PageSize: memory.DefaultPageSize}
	records, total, err := m.store.SearchRecords(ctx, m.agentID, q)
	if err != nil {
		return nil, fmt.Errorf("search recall memory: %w", err)
	}
	lines := make([]string, 0, len(records))
	for _, rec := range records {
		lines = append(lines, fmt.Sprintf("timestamp: %s, %s - %s", formatTime(rec.CreatedAt), rec.Role, rec.Content))
	}
	return formatSearchResults(lines, total, page, q.PageSize), nil
}

func (m *MemoryAgent) archivalMemoryInsert(ctx context.Context, args map[string]any) (any, error) {
	content, err := stringArg(args, "content")
	if err != nil {
		return nil, err
	}
	if _, err := m.store.InsertPassage(ctx, m.agentID, content); err != nil {
		return nil, fmt.Errorf("insert archival memory: %w", err)
	}
	return nil, nil
}

func (m *MemoryAgent) archivalMemorySearch(ctx context.Context, args map[string]any) (any, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}
	page, err := intArg(args, "page", 0)
	if err != nil {
		return nil, err
	}
	q := memory.Query{Text: query, Page: page, PageSize: memory.DefaultPageSize}
	passages, total, err := m.store.SearchPassages(ctx, m.agentID, q)
	if err != nil {
		return nil, fmt.Errorf("search archival memory: %w", err)
	}
	lines := make([]string, 0, len(passages))
	for _, p := range passages {
		lines = append(lines, fmt.Sprintf("timestamp: %s, memory: %s", formatTime(p.CreatedAt), p.Text))
	}
	return formatSearchResults(lines, total, page, q.PageSize), nil
}

func formatSearchResults(lines []string, total, page, pageSize int) string {
	if total == 0 || len(lines) == 0 {
		return "No results found."
	}
	numPages := int(math.Ceil(float64(total)/float64(pageSize))) - 1
	data, err := json.Marshal(lines)
	if err != nil {
		data = []byte(strings.Join(lines, "\n"))
	}
	return fmt.Sprintf("Showing %d of %d results (page %d/%d): %s", len(lines), total, page, numPages, data)
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string, got %T", key, v)
	}
	return s, nil
}

func optionalStringArg(args map[string]any, key string) (string, error) {
	if v, ok := args[key]; !ok || v == nil {
		return "", nil
	}
	return stringArg(args, key)
}

func intArg(args map[string]any, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case string:
		if strings.TrimSpace(n) == "" {
			return def, nil
		}
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("argument %q must be an integer: %w", key, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("argument %q must be an integer, got %T", key, v)
	}
}

// popHeartbeat removes request_heartbeat from args and reports whether it was set.
func popHeartbeat(args map[string]any) bool {
	v, ok := args[heartbeatParam]
	if !ok {
		return false
	}
	delete(args, heartbeatParam)
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(strings.TrimSpace(b), "true")
	default:
		return false
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + fmt.Sprintf("... [NOTE: function output was truncated since it exceeded the character limit (%d > %d)]", len(runes), limit)
}
