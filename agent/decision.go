// Decision parsing: turns a raw provider response into a typed decision.
//
// A decision is a tagged variant, never an untyped blob: either the goal is
// satisfied (completion text) or the model wants tools run (a validated
// batch of calls).

package agent

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	jsonx "steward/internal/json"
	"steward/llm"
	"steward/model"
)

// DecisionKind tags the decision variant.
type DecisionKind int

const (
	// DecisionCompletion means the goal is satisfied; Final carries the answer.
	DecisionCompletion DecisionKind = iota
	// DecisionToolCalls means the model requested tool execution.
	DecisionToolCalls
)

// Decision is the parsed outcome of one planning step.
type Decision struct {
	Kind  DecisionKind
	Final string
	Calls []model.ToolCall
	// Narration is content text accompanying tool calls.
	Narration string
}

// ParseDecision validates a provider response into a Decision. Malformed
// payloads (empty tool names, unparseable argument JSON, duplicate call ids)
// are validation errors the loop feeds back to planning as a corrective note.
func ParseDecision(resp llm.Response) (Decision, error) {
	if len(resp.ToolCalls) == 0 {
		return Decision{Kind: DecisionCompletion, Final: resp.Content}, nil
	}

	calls := make([]model.ToolCall, len(resp.ToolCalls))
	seen := make(map[string]bool, len(resp.ToolCalls))

	for i, tc := range resp.ToolCalls {
		if tc.Name == "" {
			return Decision{}, fmt.Errorf("tool call %d has no tool name", i)
		}

		args := tc.Arguments
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		if !json.Valid(args) {
			// Some models wrap argument JSON in markdown fences or prose;
			// salvage before rejecting.
			salvaged, err := jsonx.ExtractJSON(string(args))
			if err != nil {
				return Decision{}, fmt.Errorf("tool call '%s' has malformed argument JSON", tc.Name)
			}
			args = json.RawMessage(salvaged)
		}

		// Some providers omit ids or reuse the tool name; the pairing
		// invariant needs ids unique within the batch.
		id := tc.ID
		if id == "" || seen[id] {
			id = uuid.NewString()
		}
		seen[id] = true

		calls[i] = model.ToolCall{ID: id, Name: tc.Name, Args: args}
	}

	return Decision{Kind: DecisionToolCalls, Calls: calls, Narration: resp.Content}, nil
}
