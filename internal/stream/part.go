// Package stream encodes and decodes the typed parts of a chat response
// stream, either as the line-delimited data stream or as server-sent events.
package stream

import (
	"encoding/json"
	"fmt"
)

type Kind string

const (
	KindStartStep     Kind = "start_step"
	KindText          Kind = "text"
	KindToolCallStart Kind = "tool_call_start"
	KindToolCallDelta Kind = "tool_call_delta"
	KindToolCall      Kind = "tool_call"
	KindToolResult    Kind = "tool_result"
	KindFinishStep    Kind = "finish_step"
	KindFinish        Kind = "finish"
	KindError         Kind = "error"
)

// Part is one unit of a response stream. Value holds the payload type for
// Kind: a string for text and error parts, a struct below otherwise.
type Part struct {
	Kind  Kind
	Value any
}

type StartStep struct {
	MessageID string `json:"messageId"`
}

type ToolCallStart struct {
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
}

type ToolCallDelta struct {
	ToolCallID    string `json:"toolCallId"`
	ArgsTextDelta string `json:"argsTextDelta"`
}

type ToolCall struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args"`
}

// ToolResult carries the tool output, or a null result and an error.
type ToolResult struct {
	ToolCallID string          `json:"toolCallId"`
	Result     json.RawMessage `json:"result"`
	Error      string          `json:"error,omitempty"`
}

type Usage struct {
	PromptTokens     int64 `json:"promptTokens"`
	CompletionTokens int64 `json:"completionTokens"`
}

type FinishStep struct {
	FinishReason string `json:"finishReason"`
	Usage        Usage  `json:"usage"`
	IsContinued  bool   `json:"isContinued"`
}

type Finish struct {
	FinishReason string `json:"finishReason"`
	Usage        Usage  `json:"usage"`
}

// Terminal reports whether p ends a response.
func (p Part) Terminal() bool {
	return p.Kind == KindFinish || p.Kind == KindError
}

var kindCodes = map[Kind]byte{
	KindText:          '0',
	KindError:         '3',
	KindToolCall:      '9',
	KindToolResult:    'a',
	KindToolCallStart: 'b',
	KindToolCallDelta: 'c',
	KindFinish:        'd',
	KindFinishStep:    'e',
	KindStartStep:     'f',
}

var codeKinds = func() map[byte]Kind {
	m := make(map[byte]Kind, len(kindCodes))
	for k, c := range kindCodes {
		m[c] = k
	}
	return m
}()

// decodeValue parses the JSON payload of a part of kind k.
func decodeValue(k Kind, data []byte) (any, error) {
	var (
		v   any
		err error
	)
	switch k {
	case KindText, KindError:
		var s string
		err = json.Unmarshal(data, &s)
		v = s
	case KindStartStep:
		var p StartStep
		err = json.Unmarshal(data, &p)
		v = p
	case KindToolCallStart:
		var p ToolCallStart
		err = json.Unmarshal(data, &p)
		v = p
	case KindToolCallDelta:
		var p ToolCallDelta
		err = json.Unmarshal(data, &p)
		v = p
	case KindToolCall:
		var p ToolCall
		err = json.Unmarshal(data, &p)
		v = p
	case KindToolResult:
		var p ToolResult
		err = json.Unmarshal(data, &p)
		v = p
	case KindFinishStep:
		var p FinishStep
		err = json.Unmarshal(data, &p)
		v = p
	case KindFinish:
		var p Finish
		err = json.Unmarshal(data, &p)
		v = p
	default:
		return nil, fmt.Errorf("unknown part kind %q", k)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s part: %w", k, err)
	}
	return v, nil
}
