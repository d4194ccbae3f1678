package llm

import (
	"context"
	"encoding/json"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is the provider-neutral shape sent upstream.
type Message struct {
	Role      Role
	Content   string
	ImageURLs []string

	// Assistant turns that requested tools.
	ToolCalls []ToolCall

	// Tool turns answering a call.
	ToolCallID string
	ToolName   string
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolSpec describes a callable tool to the model. Parameters is a JSON
// schema object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type Request struct {
	Messages []Message
	Tools    []ToolSpec
}

type ChunkType int

const (
	ChunkText ChunkType = iota
	ChunkToolCallDelta
	ChunkEnd
)

// Chunk is one incremental unit of a provider stream.
type Chunk struct {
	Type         ChunkType
	Text         string
	ToolCall     ToolCallDelta
	FinishReason FinishReason
}

// ToolCallDelta carries a fragment of a tool call. ID and Name are set on the
// first fragment for an index when the provider supplies them.
type ToolCallDelta struct {
	Index          int
	ID             string
	Name           string
	ArgumentsDelta string
}

type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool-calls"
	FinishContentFilter FinishReason = "content-filter"
	FinishOther         FinishReason = "other"
	FinishUnknown       FinishReason = "unknown"
)

type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
}

func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
	}
}

// Result is the assembled outcome of one streamed provider call.
type Result struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	Usage        Usage
	Model        string
}

type Provider interface {
	Name() string
	// ChatStream streams one completion, calling onChunk in arrival order and
	// ending with exactly one ChunkEnd when the stream finishes cleanly.
	ChatStream(ctx context.Context, req Request, onChunk func(Chunk)) (*Result, error)
}
