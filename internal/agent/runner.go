package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"zag/internal/llm"
	"zag/internal/trace"
)

const defaultMaxSteps = 5

type RunnerOption func(*StreamRunner)

func WithSystemPrompt(s string) RunnerOption {
	return func(r *StreamRunner) { r.systemPrompt = s }
}

func WithMaxSteps(n int) RunnerOption {
	return func(r *StreamRunner) {
		if n > 0 {
			r.maxSteps = n
		}
	}
}

// WithToolCallStreaming makes the runner forward tool-call argument
// fragments as they arrive.
func WithToolCallStreaming(on bool) RunnerOption {
	return func(r *StreamRunner) { r.streamToolCalls = on }
}

// StreamRunner runs a multi-step tool loop against a provider: each step
// streams one completion, executes any requested tools and feeds their
// results into the next step until the model stops calling tools or the
// step limit is reached.
type StreamRunner struct {
	provider        llm.Provider
	registry        *Registry
	systemPrompt    string
	maxSteps        int
	streamToolCalls bool
}

func NewStreamRunner(provider llm.Provider, registry *Registry, opts ...RunnerOption) *StreamRunner {
	r := &StreamRunner{
		provider: provider,
		registry: registry,
		maxSteps: defaultMaxSteps,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *StreamRunner) Run(ctx context.Context, messages []llm.Message, emit func(Event)) (err error) {
	ctx, span := trace.Tracer().Start(ctx, "agent.run",
		oteltrace.WithAttributes(
			attribute.String("gen_ai.system", r.provider.Name()),
			attribute.Int("agent.messages", len(messages)),
			attribute.Int("agent.max_steps", r.maxSteps),
		),
	)
	defer func() { trace.End(span, err) }()

	input := make([]llm.Message, 0, len(messages)+1)
	if r.systemPrompt != "" {
		input = append(input, llm.Message{Role: llm.RoleSystem, Content: r.systemPrompt})
	}
	input = append(input, messages...)

	var specs []llm.ToolSpec
	if r.registry != nil {
		specs = r.registry.Specs()
	}

	var total llm.Usage
	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			err = cause(ctx, err)
			emit(Event{Type: EventError, Data: err.Error()})
			return err
		}

		emit(Event{Type: EventStepStart, Data: StepStart{MessageID: "msg-" + uuid.NewString()}})

		res, err := r.step(ctx, step, llm.Request{Messages: input, Tools: specs}, emit)
		if err != nil {
			err = cause(ctx, err)
			slog.Warn("provider step failed", "step", step, "error", err)
			emit(Event{Type: EventError, Data: err.Error()})
			return err
		}
		total = total.Add(res.Usage)

		calls := normalizeCalls(res.ToolCalls)
		if len(calls) > 0 {
			res.FinishReason = llm.FinishToolCalls
		}
		for _, c := range calls {
			emit(Event{Type: EventToolCall, Data: ToolCall{ToolCallID: c.ID, ToolName: c.Name, Args: c.Arguments}})
		}

		var toolTurns []llm.Message
		if len(calls) > 0 {
			toolTurns = r.act(ctx, calls, emit)
		}
		if err := ctx.Err(); err != nil {
			err = cause(ctx, err)
			emit(Event{Type: EventError, Data: err.Error()})
			return err
		}

		more := len(calls) > 0 && step+1 < r.maxSteps
		emit(Event{Type: EventStepFinish, Data: StepFinish{
			FinishReason: res.FinishReason,
			Usage:        res.Usage,
			IsContinued:  more,
		}})

		if !more {
			if len(calls) > 0 {
				slog.Info("step limit reached with pending tool calls", "max_steps", r.maxSteps)
			}
			emit(Event{Type: EventDone, Data: Done{FinishReason: res.FinishReason, Usage: total}})
			return nil
		}

		input = append(input, llm.Message{Role: llm.RoleAssistant, Content: res.Text, ToolCalls: calls})
		input = append(input, toolTurns...)
	}
}

// step streams one provider call, forwarding text and, when enabled,
// tool-call fragments.
func (r *StreamRunner) step(ctx context.Context, n int, req llm.Request, emit func(Event)) (res *llm.Result, err error) {
	ctx, span := trace.Tracer().Start(ctx, "llm.step",
		oteltrace.WithAttributes(
			attribute.Int("llm.step", n),
			attribute.Int("llm.input_messages", len(req.Messages)),
		),
	)
	defer func() { trace.End(span, err) }()

	started := make(map[string]bool)
	res, err = r.provider.ChatStream(ctx, req, func(c llm.Chunk) {
		switch c.Type {
		case llm.ChunkText:
			emit(Event{Type: EventToken, Data: c.Text})
		case llm.ChunkToolCallDelta:
			if !r.streamToolCalls {
				return
			}
			d := c.ToolCall
			if !started[d.ID] {
				started[d.ID] = true
				emit(Event{Type: EventToolCallStart, Data: ToolCallStart{ToolCallID: d.ID, ToolName: d.Name}})
			}
			if d.ArgumentsDelta != "" {
				emit(Event{Type: EventToolCallDelta, Data: ToolCallDelta{ToolCallID: d.ID, ArgsTextDelta: d.ArgumentsDelta}})
			}
		}
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("llm.model", res.Model),
		attribute.String("llm.finish_reason", string(res.FinishReason)),
		attribute.Int64("llm.input_tokens", res.Usage.PromptTokens),
		attribute.Int64("llm.output_tokens", res.Usage.CompletionTokens),
		attribute.Int("llm.tool_calls", len(res.ToolCalls)),
	)
	return res, nil
}

// act executes tool calls in parallel and emits their results in call
// order once all have finished. It returns the tool turns for the next step.
func (r *StreamRunner) act(ctx context.Context, calls []llm.ToolCall, emit func(Event)) []llm.Message {
	results := make([]ToolResult, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			results[i] = r.execute(ctx, call)
		}(i, call)
	}
	wg.Wait()

	turns := make([]llm.Message, 0, len(calls))
	for i, res := range results {
		emit(Event{Type: EventToolResult, Data: res})
		turns = append(turns, llm.Message{
			Role:       llm.RoleTool,
			Content:    toolContent(res),
			ToolCallID: calls[i].ID,
			ToolName:   calls[i].Name,
		})
	}
	return turns
}

func (r *StreamRunner) execute(ctx context.Context, call llm.ToolCall) ToolResult {
	res := ToolResult{ToolCallID: call.ID, ToolName: call.Name}
	if r.registry == nil {
		res.Error = ErrUnknownTool.Error() + ": " + call.Name
		return res
	}

	out, err := r.registry.Execute(ctx, call.Name, call.Arguments)
	if err != nil {
		slog.Warn("tool execution failed", "name", call.Name, "error", err)
		res.Error = err.Error()
		return res
	}
	res.Result = out
	return res
}

func toolContent(res ToolResult) string {
	if res.Error != "" {
		b, _ := json.Marshal(map[string]string{"error": res.Error})
		return string(b)
	}
	b, err := json.Marshal(res.Result)
	if err != nil {
		b, _ = json.Marshal(map[string]string{"error": "unencodable tool result: " + err.Error()})
	}
	return string(b)
}

// normalizeCalls makes every call's arguments valid JSON. Unparseable text is
// carried as a JSON string so it can still be reported and rejected.
func normalizeCalls(calls []llm.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	for i, c := range calls {
		args := strings.TrimSpace(string(c.Arguments))
		switch {
		case args == "":
			c.Arguments = json.RawMessage("{}")
		case !json.Valid([]byte(args)):
			b, _ := json.Marshal(args)
			c.Arguments = b
		}
		out[i] = c
	}
	return out
}

// cause prefers the context's cancellation cause over the error a cancelled
// stream surfaced.
func cause(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	if c := context.Cause(ctx); c != nil && !errors.Is(err, c) {
		return c
	}
	return err
}
