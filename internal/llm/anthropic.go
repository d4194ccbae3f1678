package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const anthropicDefaultMaxTokens = 1024

type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func NewAnthropic(baseURL, apiKey, model string, maxTokens int64) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	return &AnthropicProvider{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic/" + p.model }

func (p *AnthropicProvider) ChatStream(ctx context.Context, req Request, onChunk func(Chunk)) (*Result, error) {
	system, msgs := anthropicMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  msgs,
		MaxTokens: p.maxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		params.Tools = anthropicTools(req.Tools)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		text   strings.Builder
		acc    = newToolCallAccumulator()
		result = &Result{Model: p.model, FinishReason: FinishUnknown}
	)

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Model != "" {
				result.Model = string(start.Message.Model)
			}
			result.Usage.PromptTokens = start.Message.Usage.InputTokens
		case "content_block_start":
			start := event.AsContentBlockStart()
			if start.ContentBlock.Type == "tool_use" {
				d := acc.Add(ToolCallDelta{
					Index: int(start.Index),
					ID:    start.ContentBlock.ID,
					Name:  start.ContentBlock.Name,
				})
				onChunk(Chunk{Type: ChunkToolCallDelta, ToolCall: d})
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta()
			switch delta.Delta.Type {
			case "text_delta":
				if delta.Delta.Text != "" {
					text.WriteString(delta.Delta.Text)
					onChunk(Chunk{Type: ChunkText, Text: delta.Delta.Text})
				}
			case "input_json_delta":
				if delta.Delta.PartialJSON != "" {
					d := acc.Add(ToolCallDelta{
						Index:          int(delta.Index),
						ArgumentsDelta: delta.Delta.PartialJSON,
					})
					onChunk(Chunk{Type: ChunkToolCallDelta, ToolCall: d})
				}
			}
		case "message_delta":
			md := event.AsMessageDelta()
			if md.Delta.StopReason != "" {
				result.FinishReason = anthropicFinishReason(string(md.Delta.StopReason))
			}
			result.Usage.CompletionTokens = md.Usage.OutputTokens
		}
	}

	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}

	result.Text = text.String()
	result.ToolCalls = acc.Calls()
	onChunk(Chunk{Type: ChunkEnd, FinishReason: result.FinishReason})
	return result, nil
}

// anthropicMessages lifts system turns into a single system prompt and
// folds consecutive tool turns into one user turn of tool_result blocks.
func anthropicMessages(msgs []Message) (string, []anthropic.MessageParam) {
	var (
		system  []string
		out     []anthropic.MessageParam
		results []anthropic.ContentBlockParamUnion
	)
	flush := func() {
		if len(results) > 0 {
			out = append(out, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, m := range msgs {
		if m.Role == RoleTool {
			results = append(results, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
			continue
		}
		flush()

		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleUser:
			blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)}
			for _, u := range m.ImageURLs {
				blocks = append(blocks, anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: u}))
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, json.RawMessage(tc.Arguments), tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		}
	}
	flush()

	return strings.Join(system, "\n"), out
}

func anthropicTools(specs []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, s := range specs {
		schema := anthropic.ToolInputSchemaParam{Properties: s.Parameters["properties"]}
		if req, ok := s.Parameters["required"].([]string); ok {
			schema.Required = req
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        s.Name,
			Description: anthropic.String(s.Description),
			InputSchema: schema,
		}})
	}
	return out
}

func anthropicFinishReason(r string) FinishReason {
	switch r {
	case "end_turn", "stop_sequence", "pause_turn":
		return FinishStop
	case "max_tokens":
		return FinishLength
	case "tool_use":
		return FinishToolCalls
	case "refusal":
		return FinishContentFilter
	default:
		return FinishOther
	}
}
