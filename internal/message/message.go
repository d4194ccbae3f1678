// Package message holds the chat message shape exchanged between the chat
// client and the gateway, and its translation into provider messages.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"zag/internal/llm"
)

var ErrInvalidMessage = errors.New("invalid message")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type ToolState string

const (
	StateCall   ToolState = "call"
	StateResult ToolState = "result"
	StateError  ToolState = "error"
)

// UnmarshalJSON maps the streaming-only "partial-call" state onto call.
func (s *ToolState) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v == "partial-call" {
		v = string(StateCall)
	}
	*s = ToolState(v)
	return nil
}

type Attachment struct {
	Name        string `json:"name,omitempty"`
	ContentType string `json:"contentType"`
	URL         string `json:"url"`
}

type ToolInvocation struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	State      ToolState       `json:"state"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// ChatMessage is the canonical message shape. A flat {role, content} object
// decodes into it with the optional fields left empty.
type ChatMessage struct {
	ID              string           `json:"id,omitempty"`
	Role            Role             `json:"role"`
	Content         string           `json:"content"`
	Attachments     []Attachment     `json:"experimental_attachments,omitempty"`
	ToolInvocations []ToolInvocation `json:"toolInvocations,omitempty"`
}

func (m *ChatMessage) UnmarshalJSON(b []byte) error {
	type plain ChatMessage
	var aux struct {
		plain
		Alias []Attachment `json:"attachments"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*m = ChatMessage(aux.plain)
	if len(m.Attachments) == 0 && len(aux.Alias) > 0 {
		m.Attachments = aux.Alias
	}
	return nil
}

// Request is the body of POST /api/chat.
type Request struct {
	Messages []ChatMessage `json:"messages"`
}

func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Validate checks roles, tool invocation states and ID uniqueness.
func (r *Request) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", ErrInvalidMessage)
	}
	for i := range r.Messages {
		if err := r.Messages[i].Validate(); err != nil {
			return fmt.Errorf("messages[%d]: %w", i, err)
		}
	}
	return nil
}

func (m *ChatMessage) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, m.Role)
	}

	seen := make(map[string]struct{}, len(m.ToolInvocations))
	for _, inv := range m.ToolInvocations {
		if inv.ToolCallID == "" {
			return fmt.Errorf("%w: tool invocation without toolCallId", ErrInvalidMessage)
		}
		if _, dup := seen[inv.ToolCallID]; dup {
			return fmt.Errorf("%w: duplicate toolCallId %q", ErrInvalidMessage, inv.ToolCallID)
		}
		seen[inv.ToolCallID] = struct{}{}

		if inv.ToolName == "" {
			return fmt.Errorf("%w: tool invocation %q without toolName", ErrInvalidMessage, inv.ToolCallID)
		}
		switch inv.State {
		case StateCall, StateResult, StateError:
		default:
			return fmt.Errorf("%w: tool invocation %q has unknown state %q", ErrInvalidMessage, inv.ToolCallID, inv.State)
		}
	}
	return nil
}

// ToLLM converts chat messages into provider messages, preserving order.
// Finished tool invocations expand in place into an assistant tool-call turn,
// one tool turn per invocation, then the assistant text written after the
// results. Pending calls are dropped.
func ToLLM(msgs []ChatMessage) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, llm.Message{Role: llm.RoleSystem, Content: m.Content})
		case RoleUser:
			out = append(out, userMessage(m))
		case RoleAssistant:
			out = append(out, assistantMessages(m)...)
		}
	}
	return out
}

func userMessage(m ChatMessage) llm.Message {
	msg := llm.Message{Role: llm.RoleUser, Content: m.Content}
	var notes []string
	for _, a := range m.Attachments {
		if strings.HasPrefix(a.ContentType, "image/") {
			msg.ImageURLs = append(msg.ImageURLs, a.URL)
			continue
		}
		name := a.Name
		if name == "" {
			name = a.URL
		}
		notes = append(notes, fmt.Sprintf("[attachment %s (%s)]", name, a.ContentType))
	}
	if len(notes) > 0 {
		msg.Content = strings.TrimSpace(msg.Content + "\n" + strings.Join(notes, "\n"))
	}
	return msg
}

func assistantMessages(m ChatMessage) []llm.Message {
	var finished []ToolInvocation
	for _, inv := range m.ToolInvocations {
		if inv.State == StateResult || inv.State == StateError {
			finished = append(finished, inv)
		}
	}
	if len(finished) == 0 {
		return []llm.Message{{Role: llm.RoleAssistant, Content: m.Content}}
	}

	asst := llm.Message{Role: llm.RoleAssistant}
	tools := make([]llm.Message, 0, len(finished)+1)
	for _, inv := range finished {
		args := inv.Args
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		asst.ToolCalls = append(asst.ToolCalls, llm.ToolCall{ID: inv.ToolCallID, Name: inv.ToolName, Arguments: args})
		tools = append(tools, llm.Message{
			Role:       llm.RoleTool,
			Content:    toolContent(inv),
			ToolCallID: inv.ToolCallID,
			ToolName:   inv.ToolName,
		})
	}
	if m.Content != "" {
		tools = append(tools, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
	}
	return append([]llm.Message{asst}, tools...)
}

// toolContent renders a finished invocation as the text a provider expects
// in a tool turn.
func toolContent(inv ToolInvocation) string {
	if inv.State == StateError {
		b, _ := json.Marshal(map[string]string{"error": inv.Error})
		return string(b)
	}
	if len(inv.Result) == 0 {
		return "null"
	}
	return string(inv.Result)
}
