// Package model provides domain types shared across packages.
package model

import (
	"encoding/json"
	"fmt"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleTool  Role = "tool"
)

// Risk classifies how dangerous a tool invocation is. The approval gate
// decides per-call based on this classification.
type Risk int

const (
	RiskReadOnly Risk = iota
	RiskMutating
	RiskDestructive
)

// String returns the canonical name of the risk class.
func (r Risk) String() string {
	switch r {
	case RiskReadOnly:
		return "read-only"
	case RiskMutating:
		return "mutating"
	case RiskDestructive:
		return "destructive"
	default:
		return fmt.Sprintf("risk(%d)", int(r))
	}
}

// ToolCall is a requested tool invocation produced by a planning decision.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ResultStatus is the outcome class of a tool invocation.
type ResultStatus string

const (
	StatusOK       ResultStatus = "ok"
	StatusError    ResultStatus = "error"
	StatusDenied   ResultStatus = "denied"
	StatusTimedOut ResultStatus = "timed-out"
)

// ToolResult is the outcome paired 1:1 with a ToolCall by call id.
type ToolResult struct {
	CallID string       `json:"call_id"`
	Status ResultStatus `json:"status"`
	Output string       `json:"output,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// OKResult creates a successful tool result.
func OKResult(callID, output string) ToolResult {
	return ToolResult{CallID: callID, Status: StatusOK, Output: output}
}

// ErrorResult creates a failed tool result.
func ErrorResult(callID, detail string) ToolResult {
	return ToolResult{CallID: callID, Status: StatusError, Error: detail}
}

// DeniedResult creates a result for a call refused by the approval gate.
func DeniedResult(callID, reason string) ToolResult {
	return ToolResult{CallID: callID, Status: StatusDenied, Error: reason}
}

// TimedOutResult creates a result for a call that exceeded its deadline.
func TimedOutResult(callID string, timeoutSecs uint64) ToolResult {
	return ToolResult{
		CallID: callID,
		Status: StatusTimedOut,
		Error:  fmt.Sprintf("deadline exceeded after %d seconds", timeoutSecs),
	}
}

// Provenance records the range of original sequence indices a compaction
// summary replaces. Ranges are disjoint and summarized at most once per run.
type Provenance struct {
	FromSeq uint64 `json:"from_seq"`
	ToSeq   uint64 `json:"to_seq"`
}

// Covers reports whether seq falls inside the replaced range.
func (p Provenance) Covers(seq uint64) bool {
	return seq >= p.FromSeq && seq <= p.ToSeq
}

// Turn is one immutable unit of interaction history. A turn carries either
// plain content, tool calls (agent role), or tool results (tool role).
// Compaction summaries are turns with a non-nil Compaction provenance.
type Turn struct {
	Seq         uint64       `json:"seq"`
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`

	// Pruned marks a turn whose bulky content was stripped. PrunedNote keeps
	// a short marker of what was removed.
	Pruned     bool   `json:"pruned,omitempty"`
	PrunedNote string `json:"pruned_note,omitempty"`

	// Compaction is set on summary turns that replaced a range of older turns.
	Compaction *Provenance `json:"compaction,omitempty"`
}

// IsCompaction reports whether the turn is a compaction summary.
func (t Turn) IsCompaction() bool {
	return t.Compaction != nil
}

// Clone returns a deep copy. Turns handed across package boundaries are
// copied so the append-only store stays the single source of truth.
func (t Turn) Clone() Turn {
	out := t
	if len(t.ToolCalls) > 0 {
		out.ToolCalls = make([]ToolCall, len(t.ToolCalls))
		for i, c := range t.ToolCalls {
			out.ToolCalls[i] = c
			if len(c.Args) > 0 {
				out.ToolCalls[i].Args = append(json.RawMessage(nil), c.Args...)
			}
		}
	}
	if len(t.ToolResults) > 0 {
		out.ToolResults = append([]ToolResult(nil), t.ToolResults...)
	}
	if t.Compaction != nil {
		p := *t.Compaction
		out.Compaction = &p
	}
	return out
}
