package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3/packages/ssestream"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// WorkersAIProvider calls the Cloudflare Workers AI REST endpoint
// POST {base}/accounts/{account}/ai/run/{model} with stream enabled.
type WorkersAIProvider struct {
	httpClient *http.Client
	baseURL    string
	accountID  string
	apiKey     string
	model      string
	maxTokens  int64
}

func NewWorkersAI(baseURL, accountID, apiKey, model string, maxTokens int64) *WorkersAIProvider {
	return &WorkersAIProvider{
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountID:  accountID,
		apiKey:     apiKey,
		model:      model,
		maxTokens:  maxTokens,
	}
}

func (p *WorkersAIProvider) Name() string { return "workers-ai/" + p.model }

type workersAIRequest struct {
	Messages  []workersAIMessage `json:"messages"`
	Tools     []workersAITool    `json:"tools,omitempty"`
	Stream    bool               `json:"stream"`
	MaxTokens int64              `json:"max_tokens,omitempty"`
}

type workersAIMessage struct {
	Role       string              `json:"role"`
	Content    string              `json:"content"`
	Name       string              `json:"name,omitempty"`
	ToolCallID string              `json:"tool_call_id,omitempty"`
	ToolCalls  []workersAIToolCall `json:"tool_calls,omitempty"`
}

type workersAITool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// workersAIToolCall covers both the flat {name, arguments} form and the
// OpenAI-style {index, id, type, function{name, arguments}} form. Entries
// without an index are whole calls; indexed entries are fragments.
type workersAIToolCall struct {
	Index     *int            `json:"index,omitempty"`
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Function  *struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function,omitempty"`
}

type workersAIChunk struct {
	Response  string              `json:"response"`
	ToolCalls []workersAIToolCall `json:"tool_calls"`
	Usage     *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *WorkersAIProvider) ChatStream(ctx context.Context, req Request, onChunk func(Chunk)) (*Result, error) {
	body, err := json.Marshal(workersAIRequest{
		Messages:  workersAIMessages(req.Messages),
		Tools:     workersAITools(req.Tools),
		Stream:    true,
		MaxTokens: p.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding workers ai request: %w", err)
	}

	url := fmt.Sprintf("%s/accounts/%s/ai/run/%s", p.baseURL, p.accountID, p.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("workers ai request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("workers ai: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	stream := ssestream.NewStream[workersAIChunk](ssestream.NewDecoder(resp), nil)
	defer stream.Close()

	var (
		text   strings.Builder
		acc    = newToolCallAccumulator()
		result = &Result{Model: p.model}
	)

	for stream.Next() {
		chunk := stream.Current()
		if chunk.Response != "" {
			text.WriteString(chunk.Response)
			onChunk(Chunk{Type: ChunkText, Text: chunk.Response})
		}
		for _, tc := range chunk.ToolCalls {
			idx := acc.Len()
			if tc.Index != nil {
				idx = *tc.Index
			}
			d := acc.Add(ToolCallDelta{
				Index:          idx,
				ID:             tc.ID,
				Name:           tc.name(),
				ArgumentsDelta: tc.arguments(),
			})
			onChunk(Chunk{Type: ChunkToolCallDelta, ToolCall: d})
		}
		if chunk.Usage != nil {
			result.Usage = Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("workers ai stream: %w", err)
	}

	result.Text = text.String()
	result.ToolCalls = acc.Calls()
	result.FinishReason = FinishStop
	if len(result.ToolCalls) > 0 {
		result.FinishReason = FinishToolCalls
	}
	onChunk(Chunk{Type: ChunkEnd, FinishReason: result.FinishReason})
	return result, nil
}

func (tc workersAIToolCall) name() string {
	if tc.Function != nil && tc.Function.Name != "" {
		return tc.Function.Name
	}
	return tc.Name
}

// arguments returns the call arguments as JSON text. Models emit them either
// as an object or as a JSON-encoded string. A missing fragment is empty.
func (tc workersAIToolCall) arguments() string {
	raw := tc.Arguments
	if tc.Function != nil && len(tc.Function.Arguments) > 0 {
		raw = tc.Function.Arguments
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

func workersAIMessages(msgs []Message) []workersAIMessage {
	out := make([]workersAIMessage, 0, len(msgs))
	for _, m := range msgs {
		wm := workersAIMessage{Role: string(m.Role), Content: m.Content}
		switch m.Role {
		case RoleAssistant:
			for _, tc := range m.ToolCalls {
				call := workersAIToolCall{ID: tc.ID, Type: "function"}
				call.Function = &struct {
					Name      string          `json:"name"`
					Arguments json.RawMessage `json:"arguments"`
				}{Name: tc.Name, Arguments: tc.Arguments}
				wm.ToolCalls = append(wm.ToolCalls, call)
			}
		case RoleTool:
			wm.Name = m.ToolName
			wm.ToolCallID = m.ToolCallID
		}
		out = append(out, wm)
	}
	return out
}

func workersAITools(specs []ToolSpec) []workersAITool {
	if len(specs) == 0 {
		return nil
	}
	out := make([]workersAITool, 0, len(specs))
	for _, s := range specs {
		out = append(out, workersAITool{Name: s.Name, Description: s.Description, Parameters: s.Parameters})
	}
	return out
}
