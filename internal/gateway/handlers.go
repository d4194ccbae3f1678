package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"zag/internal/agent"
	"zag/internal/message"
	"zag/internal/stream"
)

var errStreamTimeout = errors.New("stream timeout exceeded")

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)

	var req message.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeoutCause(r.Context(), s.cfg.StreamTimeout, errStreamTimeout)
	defer cancel()

	out := stream.NewWriter(w, s.cfg.Protocol)
	var sentError, writeFailed bool

	err := s.runner.Run(ctx, message.ToLLM(req.Messages), func(ev agent.Event) {
		if writeFailed {
			return
		}
		part, ok := toPart(ev)
		if !ok {
			return
		}
		if part.Kind == stream.KindError {
			sentError = true
		}
		if err := out.WritePart(part); err != nil {
			slog.Debug("client write failed, cancelling run", "error", err)
			writeFailed = true
			cancel()
		}
	})

	if err != nil && !sentError && !writeFailed {
		_ = out.WritePart(stream.Part{Kind: stream.KindError, Value: err.Error()})
	}
}

// toPart maps a runner event onto the wire part it is sent as.
func toPart(ev agent.Event) (stream.Part, bool) {
	switch ev.Type {
	case agent.EventStepStart:
		d := ev.Data.(agent.StepStart)
		return stream.Part{Kind: stream.KindStartStep, Value: stream.StartStep{MessageID: d.MessageID}}, true
	case agent.EventToken:
		return stream.Part{Kind: stream.KindText, Value: ev.Data.(string)}, true
	case agent.EventToolCallStart:
		d := ev.Data.(agent.ToolCallStart)
		return stream.Part{Kind: stream.KindToolCallStart, Value: stream.ToolCallStart{ToolCallID: d.ToolCallID, ToolName: d.ToolName}}, true
	case agent.EventToolCallDelta:
		d := ev.Data.(agent.ToolCallDelta)
		return stream.Part{Kind: stream.KindToolCallDelta, Value: stream.ToolCallDelta{ToolCallID: d.ToolCallID, ArgsTextDelta: d.ArgsTextDelta}}, true
	case agent.EventToolCall:
		d := ev.Data.(agent.ToolCall)
		return stream.Part{Kind: stream.KindToolCall, Value: stream.ToolCall{ToolCallID: d.ToolCallID, ToolName: d.ToolName, Args: d.Args}}, true
	case agent.EventToolResult:
		return stream.Part{Kind: stream.KindToolResult, Value: toolResult(ev.Data.(agent.ToolResult))}, true
	case agent.EventStepFinish:
		d := ev.Data.(agent.StepFinish)
		return stream.Part{Kind: stream.KindFinishStep, Value: stream.FinishStep{
			FinishReason: string(d.FinishReason),
			Usage:        stream.Usage{PromptTokens: d.Usage.PromptTokens, CompletionTokens: d.Usage.CompletionTokens},
			IsContinued:  d.IsContinued,
		}}, true
	case agent.EventDone:
		d := ev.Data.(agent.Done)
		return stream.Part{Kind: stream.KindFinish, Value: stream.Finish{
			FinishReason: string(d.FinishReason),
			Usage:        stream.Usage{PromptTokens: d.Usage.PromptTokens, CompletionTokens: d.Usage.CompletionTokens},
		}}, true
	case agent.EventError:
		return stream.Part{Kind: stream.KindError, Value: ev.Data.(string)}, true
	}
	return stream.Part{}, false
}

func toolResult(d agent.ToolResult) stream.ToolResult {
	res := stream.ToolResult{ToolCallID: d.ToolCallID, Error: d.Error}
	if d.Error != "" {
		return res
	}
	b, err := json.Marshal(d.Result)
	if err != nil {
		res.Error = "encoding tool result: " + err.Error()
		return res
	}
	res.Result = b
	return res
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = io.WriteString(w, "Not found")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
