// Package chat implements the terminal chat client: a conversation state
// machine, an HTTP client for the gateway and a renderer.
package chat

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"zag/internal/message"
	"zag/internal/stream"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrBusy              = errors.New("a response is already in progress")
	ErrEmptyInput        = errors.New("input is empty")
)

type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateComplete
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateComplete:
		return "complete"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session holds one conversation. It moves idle → sending → streaming →
// complete or errored, and back to sending on the next submit. All methods
// are safe for concurrent use.
type Session struct {
	mu       sync.Mutex
	state    State
	messages []message.ChatMessage
	input    string
	staged   []message.Attachment
	current  int // index of the assistant message being streamed, or -1
	err      error
}

func NewSession() *Session {
	return &Session{current: -1}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the conversation.
func (s *Session) Messages() []message.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.ChatMessage, len(s.messages))
	for i, m := range s.messages {
		m.Attachments = append([]message.Attachment(nil), m.Attachments...)
		m.ToolInvocations = append([]message.ToolInvocation(nil), m.ToolInvocations...)
		out[i] = m
	}
	return out
}

func (s *Session) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

func (s *Session) SetInput(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input = v
}

func (s *Session) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading()
}

func (s *Session) loading() bool {
	return s.state == StateSending || s.state == StateStreaming
}

// Attach stages an attachment for the next submitted message.
func (s *Session) Attach(a message.Attachment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = append(s.staged, a)
}

// Attachments returns the attachments staged for the next message.
func (s *Session) Attachments() []message.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]message.Attachment(nil), s.staged...)
}

// Err returns the failure that moved the session to errored.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Submit appends the current input, with any staged attachments, as a user
// message and clears both.
func (s *Session) Submit() (message.ChatMessage, error) {
	s.mu.Lock()
	input := strings.TrimSpace(s.input)
	attachments := append([]message.Attachment(nil), s.staged...)
	s.mu.Unlock()
	if input == "" {
		return message.ChatMessage{}, ErrEmptyInput
	}

	msg := message.ChatMessage{
		ID:          message.NewID(),
		Role:        message.RoleUser,
		Content:     input,
		Attachments: attachments,
	}
	if err := s.Append(msg); err != nil {
		return message.ChatMessage{}, err
	}

	s.mu.Lock()
	s.input = ""
	s.staged = nil
	s.mu.Unlock()
	return msg, nil
}

// Append adds msg to the conversation and starts a new request.
func (s *Session) Append(msg message.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading() {
		return ErrBusy
	}
	if msg.ID == "" {
		msg.ID = message.NewID()
	}
	s.messages = append(s.messages, msg)
	s.state = StateSending
	s.current = -1
	s.err = nil
	return nil
}

// Receive applies one stream part to the assistant message being built.
// Every step of a response lands in the same assistant message.
func (s *Session) Receive(p stream.Part) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loading() {
		return fmt.Errorf("%w: receive in state %s", ErrInvalidTransition, s.state)
	}
	s.state = StateStreaming

	switch v := p.Value.(type) {
	case stream.StartStep:
		s.assistant(v.MessageID)
	case string:
		switch p.Kind {
		case stream.KindText:
			s.assistant("").Content += v
		case stream.KindError:
			s.fail(errors.New(v))
		}
	case stream.ToolCallStart:
		s.invocation(v.ToolCallID, v.ToolName)
	case stream.ToolCall:
		inv := s.invocation(v.ToolCallID, v.ToolName)
		inv.Args = v.Args
	case stream.ToolResult:
		inv := s.invocation(v.ToolCallID, "")
		if v.Error != "" {
			inv.State = message.StateError
			inv.Error = v.Error
		} else {
			inv.State = message.StateResult
			inv.Result = v.Result
		}
	case stream.Finish:
		s.state = StateComplete
		s.current = -1
	}
	return nil
}

// End marks the response complete.
func (s *Session) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loading() {
		return fmt.Errorf("%w: end in state %s", ErrInvalidTransition, s.state)
	}
	s.state = StateComplete
	s.current = -1
	return nil
}

// Fail marks the response failed. Partial output is kept.
func (s *Session) Fail(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loading() {
		return fmt.Errorf("%w: fail in state %s", ErrInvalidTransition, s.state)
	}
	s.fail(err)
	return nil
}

func (s *Session) fail(err error) {
	s.state = StateErrored
	s.err = err
	s.current = -1
}

// Abort stops the response at the user's request. The partial assistant
// message is kept and the session is complete.
func (s *Session) Abort() error {
	return s.End()
}

// SetMessages replaces the conversation and returns to idle.
func (s *Session) SetMessages(msgs []message.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading() {
		return ErrBusy
	}
	s.messages = append([]message.ChatMessage(nil), msgs...)
	s.state = StateIdle
	s.current = -1
	s.err = nil
	return nil
}

// Reset clears the conversation, input and staged attachments.
func (s *Session) Reset() error {
	if err := s.SetMessages(nil); err != nil {
		return err
	}
	s.mu.Lock()
	s.input = ""
	s.staged = nil
	s.mu.Unlock()
	return nil
}

// assistant returns the in-progress assistant message, opening one if
// needed. Caller holds mu.
func (s *Session) assistant(id string) *message.ChatMessage {
	if s.current >= 0 {
		return &s.messages[s.current]
	}
	if id == "" {
		id = message.NewID()
	}
	s.messages = append(s.messages, message.ChatMessage{ID: id, Role: message.RoleAssistant})
	s.current = len(s.messages) - 1
	return &s.messages[s.current]
}

// invocation finds or adds the tool invocation with id on the in-progress
// assistant message. Caller holds mu.
func (s *Session) invocation(id, name string) *message.ToolInvocation {
	m := s.assistant("")
	for i := range m.ToolInvocations {
		if m.ToolInvocations[i].ToolCallID == id {
			if name != "" {
				m.ToolInvocations[i].ToolName = name
			}
			return &m.ToolInvocations[i]
		}
	}
	m.ToolInvocations = append(m.ToolInvocations, message.ToolInvocation{
		ToolCallID: id,
		ToolName:   name,
		State:      message.StateCall,
	})
	return &m.ToolInvocations[len(m.ToolInvocations)-1]
}
