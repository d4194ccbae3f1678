package llm

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// toolCallAccumulator assembles streamed tool-call fragments keyed by index.
type toolCallAccumulator struct {
	calls map[int]*pendingCall
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*pendingCall)}
}

// Add merges a fragment and returns the delta completed with the call's ID
// and name so callers can forward it.
func (a *toolCallAccumulator) Add(d ToolCallDelta) ToolCallDelta {
	pc, ok := a.calls[d.Index]
	if !ok {
		pc = &pendingCall{}
		a.calls[d.Index] = pc
	}
	if d.ID != "" && pc.id == "" {
		pc.id = d.ID
	}
	if d.Name != "" && pc.name == "" {
		pc.name = d.Name
	}
	if pc.id == "" {
		pc.id = newCallID()
	}
	pc.args.WriteString(d.ArgumentsDelta)

	d.ID = pc.id
	d.Name = pc.name
	return d
}

func (a *toolCallAccumulator) Len() int { return len(a.calls) }

// Calls returns the assembled calls in index order. Empty argument text
// becomes an empty JSON object.
func (a *toolCallAccumulator) Calls() []ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	idx := make([]int, 0, len(a.calls))
	for i := range a.calls {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	out := make([]ToolCall, 0, len(idx))
	for _, i := range idx {
		pc := a.calls[i]
		args := strings.TrimSpace(pc.args.String())
		if args == "" {
			args = "{}"
		}
		out = append(out, ToolCall{
			ID:        pc.id,
			Name:      pc.name,
			Arguments: json.RawMessage(args),
		})
	}
	return out
}

func newCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
