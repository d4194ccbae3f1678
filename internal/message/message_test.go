package message

import (
	"encoding/json"
	"errors"
	"testing"

	"zag/internal/llm"
)

func TestDecodeShapes(t *testing.T) {
	var req Request
	body := `{"messages":[
		{"role":"user","content":"hi"},
		{"id":"m2","role":"user","content":"look","attachments":[{"name":"cat.png","contentType":"image/png","url":"https://x/cat.png"}]},
		{"id":"m3","role":"assistant","content":"","toolInvocations":[{"toolCallId":"c1","toolName":"getWeather","state":"partial-call","args":{}}]}
	]}`
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(req.Messages) != 3 {
		t.Fatalf("got %d messages", len(req.Messages))
	}
	if req.Messages[0].Content != "hi" || req.Messages[0].ID != "" {
		t.Errorf("flat message = %+v", req.Messages[0])
	}
	if len(req.Messages[1].Attachments) != 1 || req.Messages[1].Attachments[0].ContentType != "image/png" {
		t.Errorf("attachments alias not decoded: %+v", req.Messages[1].Attachments)
	}
	if got := req.Messages[2].ToolInvocations[0].State; got != StateCall {
		t.Errorf("partial-call decoded as %q", got)
	}
	if err := req.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"empty", Request{}},
		{"unknown role", Request{Messages: []ChatMessage{{Role: "robot", Content: "x"}}}},
		{"duplicate tool ids", Request{Messages: []ChatMessage{{
			Role: RoleAssistant,
			ToolInvocations: []ToolInvocation{
				{ToolCallID: "a", ToolName: "getWeather", State: StateResult},
				{ToolCallID: "a", ToolName: "getWeather", State: StateResult},
			},
		}}}},
		{"missing tool name", Request{Messages: []ChatMessage{{
			Role:            RoleAssistant,
			ToolInvocations: []ToolInvocation{{ToolCallID: "a", State: StateCall}},
		}}}},
		{"unknown state", Request{Messages: []ChatMessage{{
			Role:            RoleAssistant,
			ToolInvocations: []ToolInvocation{{ToolCallID: "a", ToolName: "t", State: "done"}},
		}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("Validate() = %v, want ErrInvalidMessage", err)
			}
		})
	}
}

func TestToLLMPreservesOrder(t *testing.T) {
	msgs := []ChatMessage{
		{Role: RoleUser, Content: "Check the weather in Tokyo"},
		{Role: RoleAssistant, Content: "Let me check.", ToolInvocations: []ToolInvocation{
			{ToolCallID: "c1", ToolName: "getWeather", State: StateResult, Args: json.RawMessage(`{"location":"Tokyo"}`), Result: json.RawMessage(`{"temp":72}`)},
			{ToolCallID: "c2", ToolName: "getWeather", State: StateError, Args: json.RawMessage(`{}`), Error: "boom"},
			{ToolCallID: "c3", ToolName: "getWeather", State: StateCall},
		}},
		{Role: RoleUser, Content: "thanks"},
	}

	got := ToLLM(msgs)
	wantRoles := []llm.Role{llm.RoleUser, llm.RoleAssistant, llm.RoleTool, llm.RoleTool, llm.RoleAssistant, llm.RoleUser}
	if len(got) != len(wantRoles) {
		t.Fatalf("got %d messages, want %d: %+v", len(got), len(wantRoles), got)
	}
	for i, r := range wantRoles {
		if got[i].Role != r {
			t.Errorf("message %d role = %q, want %q", i, got[i].Role, r)
		}
	}

	asst := got[1]
	if asst.Content != "" || len(asst.ToolCalls) != 2 {
		t.Errorf("tool-call turn = %+v", asst)
	}
	if got[2].ToolCallID != "c1" || got[2].Content != `{"temp":72}` {
		t.Errorf("first tool turn = %+v", got[2])
	}
	if got[3].ToolCallID != "c2" || got[3].Content != `{"error":"boom"}` {
		t.Errorf("error tool turn = %+v", got[3])
	}
	if got[4].Content != "Let me check." || len(got[4].ToolCalls) != 0 {
		t.Errorf("answer turn = %+v", got[4])
	}
}

func TestToLLMAnswerFollowsToolResults(t *testing.T) {
	msgs := []ChatMessage{
		{Role: RoleUser, Content: "Check the weather in Tokyo"},
		{Role: RoleAssistant, Content: "It is 72 and sunny in Tokyo.", ToolInvocations: []ToolInvocation{
			{ToolCallID: "c1", ToolName: "getWeather", State: StateResult, Args: json.RawMessage(`{"location":"Tokyo"}`), Result: json.RawMessage(`{"temp":72}`)},
		}},
		{Role: RoleUser, Content: "And tomorrow?"},
	}

	got := ToLLM(msgs)
	tests := []struct {
		role      llm.Role
		content   string
		toolCalls int
	}{
		{llm.RoleUser, "Check the weather in Tokyo", 0},
		{llm.RoleAssistant, "", 1},
		{llm.RoleTool, `{"temp":72}`, 0},
		{llm.RoleAssistant, "It is 72 and sunny in Tokyo.", 0},
		{llm.RoleUser, "And tomorrow?", 0},
	}
	if len(got) != len(tests) {
		t.Fatalf("got %d messages, want %d: %+v", len(got), len(tests), got)
	}
	for i, tt := range tests {
		if got[i].Role != tt.role || got[i].Content != tt.content || len(got[i].ToolCalls) != tt.toolCalls {
			t.Errorf("message %d = %+v, want role=%s content=%q toolCalls=%d", i, got[i], tt.role, tt.content, tt.toolCalls)
		}
	}
}

func TestToLLMAttachments(t *testing.T) {
	got := ToLLM([]ChatMessage{{
		Role:    RoleUser,
		Content: "what is this",
		Attachments: []Attachment{
			{Name: "a.png", ContentType: "image/png", URL: "https://x/a.png"},
			{Name: "notes.txt", ContentType: "text/plain", URL: "https://x/notes.txt"},
		},
	}})
	if len(got) != 1 {
		t.Fatalf("got %d messages", len(got))
	}
	if len(got[0].ImageURLs) != 1 || got[0].ImageURLs[0] != "https://x/a.png" {
		t.Errorf("ImageURLs = %v", got[0].ImageURLs)
	}
	if got[0].Content != "what is this\n[attachment notes.txt (text/plain)]" {
		t.Errorf("Content = %q", got[0].Content)
	}
}
