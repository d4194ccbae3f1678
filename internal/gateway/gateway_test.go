package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"zag/internal/agent"
	"zag/internal/config"
	"zag/internal/llm"
	"zag/internal/stream"
	"zag/internal/tools"
)

type step struct {
	text  []string
	calls []llm.ToolCall
	err   error
	block bool
}

type fakeProvider struct {
	mu       sync.Mutex
	steps    []step
	requests []llm.Request

	// cancelled, when set, is closed once a blocking step sees ctx.Done.
	cancelled chan struct{}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) ChatStream(ctx context.Context, req llm.Request, onChunk func(llm.Chunk)) (*llm.Result, error) {
	p.mu.Lock()
	n := len(p.requests)
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if n >= len(p.steps) {
		return nil, errors.New("unexpected provider call")
	}
	s := p.steps[n]
	if s.block {
		<-ctx.Done()
		if p.cancelled != nil {
			close(p.cancelled)
		}
		return nil, ctx.Err()
	}
	for _, t := range s.text {
		onChunk(llm.Chunk{Type: llm.ChunkText, Text: t})
	}
	if s.err != nil {
		return nil, s.err
	}
	reason := llm.FinishStop
	if len(s.calls) > 0 {
		reason = llm.FinishToolCalls
	}
	onChunk(llm.Chunk{Type: llm.ChunkEnd, FinishReason: reason})
	return &llm.Result{Text: strings.Join(s.text, ""), ToolCalls: s.calls, FinishReason: reason}, nil
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

type failingTool struct{}

func (failingTool) Name() string                { return "getWeather" }
func (failingTool) Description() string         { return "always fails" }
func (failingTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (failingTool) Execute(context.Context, json.RawMessage) (any, error) {
	return nil, errors.New("weather service down")
}

// blockingTool waits for its context to end.
type blockingTool struct{}

func (blockingTool) Name() string                { return "getWeather" }
func (blockingTool) Description() string         { return "never returns on its own" }
func (blockingTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (blockingTool) Execute(ctx context.Context, _ json.RawMessage) (any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func testGatewayConfig() config.GatewayConfig {
	return config.Default().Gateway
}

func newTestServer(t *testing.T, p *fakeProvider, cfg config.GatewayConfig, tl ...agent.Tool) *httptest.Server {
	t.Helper()
	if len(tl) == 0 {
		tl = []agent.Tool{&tools.Weather{}}
	}
	reg, err := agent.NewRegistry(tl...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	runner := agent.NewStreamRunner(p, reg, agent.WithSystemPrompt(config.DefaultSystemPrompt))
	srv := httptest.NewServer(NewServer(runner, cfg).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postChat(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/api/chat", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readParts(t *testing.T, resp *http.Response) []stream.Part {
	t.Helper()
	r := stream.NewReader(resp)
	var parts []stream.Part
	for {
		p, err := r.Next()
		if errors.Is(err, io.EOF) {
			return parts
		}
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		parts = append(parts, p)
	}
}

func countKind(parts []stream.Part, k stream.Kind) int {
	n := 0
	for _, p := range parts {
		if p.Kind == k {
			n++
		}
	}
	return n
}

func TestNotFound(t *testing.T) {
	p := &fakeProvider{}
	srv := newTestServer(t, p, testGatewayConfig())

	tests := []struct {
		method, path string
	}{
		{http.MethodGet, "/api/chat"},
		{http.MethodPut, "/api/chat"},
		{http.MethodPost, "/api/other"},
		{http.MethodGet, "/"},
		{http.MethodGet, "/healthz"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			if resp.StatusCode != http.StatusNotFound {
				t.Errorf("status = %d, want 404", resp.StatusCode)
			}
			if string(body) != "Not found" {
				t.Errorf("body = %q", body)
			}
		})
	}
	if p.calls() != 0 {
		t.Errorf("provider called %d times", p.calls())
	}
}

func TestBadRequests(t *testing.T) {
	p := &fakeProvider{}
	cfg := testGatewayConfig()
	cfg.MaxBodyBytes = 256
	srv := newTestServer(t, p, cfg)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"messages":`},
		{"missing messages", `{}`},
		{"empty messages", `{"messages":[]}`},
		{"unknown role", `{"messages":[{"role":"robot","content":"hi"}]}`},
		{"duplicate tool ids", `{"messages":[{"role":"assistant","content":"","toolInvocations":[
			{"toolCallId":"a","toolName":"getWeather","state":"result","args":{},"result":{}},
			{"toolCallId":"a","toolName":"getWeather","state":"result","args":{},"result":{}}]}]}`},
		{"body too large", `{"messages":[{"role":"user","content":"` + strings.Repeat("x", 512) + `"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postChat(t, srv.URL, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
			var out map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out["error"] == "" {
				t.Errorf("error body = %v (%v)", out, err)
			}
		})
	}
	if p.calls() != 0 {
		t.Errorf("provider called %d times", p.calls())
	}
}

func TestTextIsConcatenatedWithOneFinish(t *testing.T) {
	deltas := []string{"The ", "quick ", "brown ", "fox"}
	p := &fakeProvider{steps: []step{{text: deltas}}}
	srv := newTestServer(t, p, testGatewayConfig())

	resp := postChat(t, srv.URL, `{"messages":[{"role":"user","content":"go"}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Vercel-AI-Data-Stream"); got != "v1" {
		t.Errorf("stream header = %q", got)
	}

	parts := readParts(t, resp)
	var text strings.Builder
	for _, part := range parts {
		if part.Kind == stream.KindText {
			text.WriteString(part.Value.(string))
		}
	}
	if text.String() != strings.Join(deltas, "") {
		t.Errorf("text = %q", text.String())
	}
	if countKind(parts, stream.KindFinish) != 1 || countKind(parts, stream.KindError) != 0 {
		t.Errorf("parts = %+v", parts)
	}
	if !parts[len(parts)-1].Terminal() {
		t.Errorf("last part = %+v", parts[len(parts)-1])
	}
}

func TestProviderReceivesSystemPromptFirst(t *testing.T) {
	p := &fakeProvider{steps: []step{{text: []string{"ok"}}}}
	srv := newTestServer(t, p, testGatewayConfig())

	postChat(t, srv.URL, `{"messages":[
		{"role":"user","content":"a"},
		{"role":"assistant","content":"b"},
		{"role":"user","content":"c"}]}`).Body.Close()

	if p.calls() != 1 {
		t.Fatalf("provider called %d times", p.calls())
	}
	msgs := p.requests[0].Messages
	want := []string{config.DefaultSystemPrompt, "a", "b", "c"}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages", len(msgs))
	}
	for i, w := range want {
		if msgs[i].Content != w {
			t.Errorf("message %d = %q, want %q", i, msgs[i].Content, w)
		}
	}
	if msgs[0].Role != llm.RoleSystem {
		t.Errorf("first role = %q", msgs[0].Role)
	}
	if len(p.requests[0].Tools) != 1 || p.requests[0].Tools[0].Name != "getWeather" {
		t.Errorf("tools = %+v", p.requests[0].Tools)
	}
}

func TestWeatherInTokyo(t *testing.T) {
	p := &fakeProvider{steps: []step{
		{calls: []llm.ToolCall{{ID: "call_1", Name: "getWeather", Arguments: json.RawMessage(`{"location":"Tokyo"}`)}}},
		{text: []string{"It is 72 degrees and sunny in Tokyo."}},
	}}
	srv := newTestServer(t, p, testGatewayConfig())

	parts := readParts(t, postChat(t, srv.URL, `{"messages":[{"role":"user","content":"Check the weather in Tokyo"}]}`))

	var kinds []stream.Kind
	for _, part := range parts {
		kinds = append(kinds, part.Kind)
	}
	want := []stream.Kind{
		stream.KindStartStep, stream.KindToolCall, stream.KindToolResult, stream.KindFinishStep,
		stream.KindStartStep, stream.KindText, stream.KindFinishStep, stream.KindFinish,
	}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", kinds, want)
		}
	}

	call := parts[1].Value.(stream.ToolCall)
	if call.ToolName != "getWeather" || string(call.Args) != `{"location":"Tokyo"}` {
		t.Errorf("tool call = %+v", call)
	}
	res := parts[2].Value.(stream.ToolResult)
	if res.ToolCallID != "call_1" || res.Error != "" {
		t.Errorf("tool result = %+v", res)
	}
	var got tools.WeatherReport
	if err := json.Unmarshal(res.Result, &got); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if got != (tools.WeatherReport{Temp: 72, Condition: "Sunny", Location: "Tokyo"}) {
		t.Errorf("result = %+v", got)
	}
	if !strings.Contains(parts[5].Value.(string), "sunny in Tokyo") {
		t.Errorf("text = %q", parts[5].Value)
	}
}

func TestToolErrorStillFinishes(t *testing.T) {
	p := &fakeProvider{steps: []step{
		{calls: []llm.ToolCall{{ID: "call_1", Name: "getWeather", Arguments: json.RawMessage(`{"location":"Tokyo"}`)}}},
		{text: []string{"Sorry, I could not check."}},
	}}
	srv := newTestServer(t, p, testGatewayConfig(), failingTool{})

	parts := readParts(t, postChat(t, srv.URL, `{"messages":[{"role":"user","content":"Check the weather in Tokyo"}]}`))

	var res *stream.ToolResult
	for _, part := range parts {
		if part.Kind == stream.KindToolResult {
			r := part.Value.(stream.ToolResult)
			res = &r
		}
	}
	if res == nil || res.Error != "weather service down" || string(res.Result) != "null" {
		t.Errorf("tool result = %+v", res)
	}
	if countKind(parts, stream.KindError) != 0 || parts[len(parts)-1].Kind != stream.KindFinish {
		t.Errorf("stream did not finish normally: %+v", parts)
	}
}

func TestProviderErrorTerminatesStream(t *testing.T) {
	p := &fakeProvider{steps: []step{{text: []string{"partial"}, err: errors.New("workers ai: status 500")}}}
	srv := newTestServer(t, p, testGatewayConfig())

	parts := readParts(t, postChat(t, srv.URL, `{"messages":[{"role":"user","content":"hi"}]}`))
	last := parts[len(parts)-1]
	if last.Kind != stream.KindError || !strings.Contains(last.Value.(string), "status 500") {
		t.Errorf("last part = %+v", last)
	}
	if countKind(parts, stream.KindError) != 1 || countKind(parts, stream.KindFinish) != 0 {
		t.Errorf("parts = %+v", parts)
	}
	if p.calls() != 1 {
		t.Errorf("provider retried: %d calls", p.calls())
	}
}

func TestStreamTimeout(t *testing.T) {
	p := &fakeProvider{steps: []step{{block: true}}}
	cfg := testGatewayConfig()
	cfg.StreamTimeout = 50 * time.Millisecond
	srv := newTestServer(t, p, cfg)

	parts := readParts(t, postChat(t, srv.URL, `{"messages":[{"role":"user","content":"hi"}]}`))
	last := parts[len(parts)-1]
	if last.Kind != stream.KindError || last.Value.(string) != errStreamTimeout.Error() {
		t.Errorf("last part = %+v", last)
	}
}

func TestStreamTimeoutDuringToolCall(t *testing.T) {
	p := &fakeProvider{steps: []step{
		{calls: []llm.ToolCall{{ID: "call_1", Name: "getWeather", Arguments: json.RawMessage(`{"location":"Tokyo"}`)}}},
	}}
	cfg := testGatewayConfig()
	cfg.StreamTimeout = 50 * time.Millisecond
	srv := newTestServer(t, p, cfg, blockingTool{})

	parts := readParts(t, postChat(t, srv.URL, `{"messages":[{"role":"user","content":"hi"}]}`))
	last := parts[len(parts)-1]
	if last.Kind != stream.KindError || last.Value.(string) != errStreamTimeout.Error() {
		t.Errorf("last part = %+v", last)
	}
	if countKind(parts, stream.KindFinish) != 0 || countKind(parts, stream.KindError) != 1 {
		t.Errorf("parts = %+v", parts)
	}
	if p.calls() != 1 {
		t.Errorf("provider calls = %d, want 1", p.calls())
	}
}

func TestClientAbortCancelsProvider(t *testing.T) {
	p := &fakeProvider{steps: []step{{block: true}}, cancelled: make(chan struct{})}
	srv := newTestServer(t, p, testGatewayConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/api/chat",
		strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	// The start_step part is flushed before the provider is called.
	r := stream.NewReader(resp)
	if part, err := r.Next(); err != nil || part.Kind != stream.KindStartStep {
		t.Fatalf("first part = %+v, %v", part, err)
	}
	cancel()

	select {
	case <-p.cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("provider stream was not cancelled after the client went away")
	}
}

func TestSSEProtocol(t *testing.T) {
	p := &fakeProvider{steps: []step{{text: []string{"a", "b"}}}}
	cfg := testGatewayConfig()
	cfg.Protocol = config.ProtocolSSE
	srv := newTestServer(t, p, cfg)

	resp := postChat(t, srv.URL, `{"messages":[{"role":"user","content":"hi"}]}`)
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	parts := readParts(t, resp)
	if countKind(parts, stream.KindText) != 2 || parts[len(parts)-1].Kind != stream.KindFinish {
		t.Errorf("parts = %+v", parts)
	}
}
