package groupchat

import "time"

// EventType represents the type of event published during a group chat
type EventType string

const (
	EventTypeMessage         EventType = "message"
	EventTypeSpeakerSelected EventType = "speaker_selected"
	EventTypeTermination     EventType = "termination"
	EventTypeRoundLimit      EventType = "round_limit"
	EventTypeInnerThought    EventType = "inner_thought"
	EventTypeFunctionCall    EventType = "function_call"
	EventTypeFunctionReturn  EventType = "function_return"
	EventTypeCodeExecution   EventType = "code_execution"
	EventTypeError           EventType = "error"
)

// Event represents an event emitted while a chat runs
type Event struct {
	Type      EventType      `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	TraceID   string         `json:"trace_id,omitempty"`
	SpanID    string         `json:"span_id,omitempty"`
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, data map[string]any) Event {
	return Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// MessageSent creates a message event for a transcript entry
func MessageSent(round int, msg Message) Event {
	return NewEvent(EventTypeMessage, map[string]any{
		"round":   round,
		"name":    msg.Name,
		"content": msg.Text(),
		"id":      msg.ID,
	})
}

// SpeakerSelected creates a speaker selection event
func SpeakerSelected(round int, speaker, method string) Event {
	return NewEvent(EventTypeSpeakerSelected, map[string]any{
		"round":   round,
		"speaker": speaker,
		"method":  method,
	})
}

// Terminated creates a termination event
func Terminated(round int, by string) Event {
	return NewEvent(EventTypeTermination, map[string]any{
		"round": round,
		"by":    by,
	})
}

// RoundLimit creates a round limit event
func RoundLimit(maxRound int) Event {
	return NewEvent(EventTypeRoundLimit, map[string]any{
		"max_round": maxRound,
	})
}

// InnerThought creates an inner monologue event for a memory agent
func InnerThought(agent, thought string) Event {
	return NewEvent(EventTypeInnerThought, map[string]any{
		"agent":   agent,
		"thought": thought,
	})
}

// FunctionCalled creates a function call event
func FunctionCalled(agent, function string, args map[string]any) Event {
	return NewEvent(EventTypeFunctionCall, map[string]any{
		"agent":     agent,
		"function":  function,
		"arguments": args,
	})
}

// FunctionReturned creates a function return event
func FunctionReturned(agent, function, output string, failed bool) Event {
	return NewEvent(EventTypeFunctionReturn, map[string]any{
		"agent":    agent,
		"function": function,
		"output":   output,
		"failed":   failed,
	})
}

// CodeExecuted creates a code execution event
func CodeExecuted(agent string, exitCode int, output string) Event {
	return NewEvent(EventTypeCodeExecution, map[string]any{
		"agent":     agent,
		"exit_code": exitCode,
		"output":    output,
	})
}

// Error creates an error event
func Error(err error) Event {
	return NewEvent(EventTypeError, map[string]any{
		"error": err.Error(),
	})
}
