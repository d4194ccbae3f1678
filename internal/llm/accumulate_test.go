package llm

import (
	"strings"
	"testing"
)

func TestAccumulatorMergesFragments(t *testing.T) {
	acc := newToolCallAccumulator()

	first := acc.Add(ToolCallDelta{Index: 0, ID: "call_1", Name: "getWeather", ArgumentsDelta: `{"loc`})
	if first.ID != "call_1" || first.Name != "getWeather" {
		t.Fatalf("first delta = %+v", first)
	}
	second := acc.Add(ToolCallDelta{Index: 0, ArgumentsDelta: `ation":"Tokyo"}`})
	if second.ID != "call_1" || second.Name != "getWeather" {
		t.Errorf("continuation lost identity: %+v", second)
	}
	acc.Add(ToolCallDelta{Index: 1, ID: "call_2", Name: "searchWeb"})

	calls := acc.Calls()
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	if string(calls[0].Arguments) != `{"location":"Tokyo"}` {
		t.Errorf("args = %s", calls[0].Arguments)
	}
	if calls[1].Name != "searchWeb" || string(calls[1].Arguments) != "{}" {
		t.Errorf("second call = %+v", calls[1])
	}
}

func TestAccumulatorGeneratesIDs(t *testing.T) {
	acc := newToolCallAccumulator()
	d := acc.Add(ToolCallDelta{Index: 3, Name: "getWeather"})
	if !strings.HasPrefix(d.ID, "call_") {
		t.Errorf("generated ID = %q", d.ID)
	}
	again := acc.Add(ToolCallDelta{Index: 3, ArgumentsDelta: "{}"})
	if again.ID != d.ID {
		t.Errorf("ID changed between fragments: %q then %q", d.ID, again.ID)
	}

	other := newToolCallAccumulator().Add(ToolCallDelta{Index: 3})
	if other.ID == d.ID {
		t.Errorf("IDs not unique: %q", d.ID)
	}
}

func TestAccumulatorEmpty(t *testing.T) {
	if calls := newToolCallAccumulator().Calls(); calls != nil {
		t.Errorf("Calls() = %v, want nil", calls)
	}
}
