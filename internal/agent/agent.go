package agent

import (
	"context"
	"encoding/json"

	"zag/internal/llm"
)

type EventType string

const (
	EventStepStart     EventType = "step_start"
	EventToken         EventType = "token"
	EventToolCallStart EventType = "tool_call_start"
	EventToolCallDelta EventType = "tool_call_delta"
	EventToolCall      EventType = "tool_call"
	EventToolResult    EventType = "tool_result"
	EventStepFinish    EventType = "step_finish"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// Event is emitted by a Runner in order. Data holds one of the payload types
// below, a string for token and error events.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

type StepStart struct {
	MessageID string
}

type ToolCallStart struct {
	ToolCallID string
	ToolName   string
}

type ToolCallDelta struct {
	ToolCallID    string
	ArgsTextDelta string
}

type ToolCall struct {
	ToolCallID string
	ToolName   string
	Args       json.RawMessage
}

// ToolResult carries either Result or a non-empty Error.
type ToolResult struct {
	ToolCallID string
	ToolName   string
	Result     any
	Error      string
}

type StepFinish struct {
	FinishReason llm.FinishReason
	Usage        llm.Usage
	IsContinued  bool
}

type Done struct {
	FinishReason llm.FinishReason
	Usage        llm.Usage
}

// Runner drives one conversation turn. Every run emits exactly one done or
// error event, and it is the last event emitted.
type Runner interface {
	Run(ctx context.Context, messages []llm.Message, emit func(Event)) error
}
