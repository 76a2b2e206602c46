package agent

import (
	"encoding/json"
	"fmt"
	"testing"

	"steward/llm"
	"steward/model"
)

func call(name, args string) model.ToolCall {
	return model.ToolCall{ID: "x", Name: name, Args: json.RawMessage(args)}
}

func TestDetectorRepetitionEscalation(t *testing.T) {
	d := NewDetector(6, 3)

	if got := d.Observe([]model.ToolCall{call("ls", `{"path":"."}`)}); got.Kind != SignalNone {
		t.Fatalf("iteration 1: expected none, got %v", got.Kind)
	}
	if got := d.Observe([]model.ToolCall{call("ls", `{"path":"."}`)}); got.Kind != SignalNone {
		t.Fatalf("iteration 2: expected none, got %v", got.Kind)
	}
	if got := d.Observe([]model.ToolCall{call("ls", `{"path":"."}`)}); got.Kind != SignalCorrective {
		t.Fatalf("iteration 3: expected corrective, got %v", got.Kind)
	}
	if got := d.Observe([]model.ToolCall{call("ls", `{"path":"."}`)}); got.Kind != SignalAbort {
		t.Fatalf("iteration 4: expected abort, got %v", got.Kind)
	}
}

func TestDetectorDifferentArgsAreDifferentCalls(t *testing.T) {
	d := NewDetector(6, 3)
	for i := 0; i < 6; i++ {
		args := fmt.Sprintf(`{"path":"dir%d"}`, i)
		if got := d.Observe([]model.ToolCall{call("ls", args)}); got.Kind != SignalNone {
			t.Fatalf("iteration %d: varying arguments should not fire, got %v", i+1, got.Kind)
		}
	}
}

func TestDetectorOscillation(t *testing.T) {
	d := NewDetector(6, 3)
	a := []model.ToolCall{call("read", `{"path":"a"}`)}
	b := []model.ToolCall{call("read", `{"path":"b"}`)}

	d.Observe(a)
	d.Observe(b)
	d.Observe(a)
	if got := d.Observe(b); got.Kind != SignalCorrective {
		t.Fatalf("expected corrective on A,B,A,B, got %v", got.Kind)
	}
}

func TestDetectorStrikesResetOnProgress(t *testing.T) {
	d := NewDetector(6, 3)
	same := []model.ToolCall{call("grep", `{"pattern":"x"}`)}

	d.Observe(same)
	d.Observe(same)
	if got := d.Observe(same); got.Kind != SignalCorrective {
		t.Fatalf("expected corrective, got %v", got.Kind)
	}

	// Fresh window of new work clears the strike.
	for i := 0; i < 6; i++ {
		d.Observe([]model.ToolCall{call("edit", fmt.Sprintf(`{"n":%d}`, i))})
	}
	d.Observe(same)
	d.Observe(same)
	if got := d.Observe(same); got.Kind != SignalCorrective {
		t.Fatalf("expected corrective again after reset, got %v", got.Kind)
	}
}

func TestDetectorIgnoresCompletions(t *testing.T) {
	d := NewDetector(6, 3)
	for i := 0; i < 10; i++ {
		if got := d.Observe(nil); got.Kind != SignalNone {
			t.Fatalf("empty iterations must never fire, got %v", got.Kind)
		}
	}
}

func TestParseDecisionCompletion(t *testing.T) {
	d, err := ParseDecision(llm.Response{Content: "all done"})
	if err != nil {
		t.Fatal(err)
	}
	if d.Kind != DecisionCompletion || d.Final != "all done" {
		t.Errorf("unexpected decision: %+v", d)
	}
}

func TestParseDecisionValidatesCalls(t *testing.T) {
	_, err := ParseDecision(llm.Response{ToolCalls: []llm.ToolCall{
		{ID: "1", Name: "", Arguments: json.RawMessage(`{}`)},
	}})
	if err == nil {
		t.Error("expected error for missing tool name")
	}

	_, err = ParseDecision(llm.Response{ToolCalls: []llm.ToolCall{
		{ID: "1", Name: "ls", Arguments: json.RawMessage(`{not json`)},
	}})
	if err == nil {
		t.Error("expected error for malformed argument JSON")
	}
}

func TestParseDecisionSalvagesFencedArguments(t *testing.T) {
	d, err := ParseDecision(llm.Response{ToolCalls: []llm.ToolCall{
		{ID: "1", Name: "ls", Arguments: json.RawMessage("```json\n{\"path\":\".\"}\n```")},
	}})
	if err != nil {
		t.Fatalf("fenced arguments should be salvaged: %v", err)
	}
	if string(d.Calls[0].Args) != `{"path":"."}` {
		t.Errorf("unexpected salvaged args: %s", d.Calls[0].Args)
	}
}

func TestParseDecisionDeduplicatesCallIDs(t *testing.T) {
	d, err := ParseDecision(llm.Response{ToolCalls: []llm.ToolCall{
		{ID: "dup", Name: "ls", Arguments: json.RawMessage(`{}`)},
		{ID: "dup", Name: "ls", Arguments: json.RawMessage(`{}`)},
		{ID: "", Name: "ls", Arguments: nil},
	}})
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, c := range d.Calls {
		if c.ID == "" {
			t.Error("call id left empty")
		}
		if seen[c.ID] {
			t.Errorf("duplicate call id %s survived parsing", c.ID)
		}
		seen[c.ID] = true
		if len(c.Args) == 0 {
			t.Error("empty arguments not defaulted to {}")
		}
	}
}
