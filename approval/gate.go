// Package approval gates tool calls on risk policy and user confirmation.
//
// Information Hiding:
// - Policy evaluation order hidden
// - Confirmation transport (terminal prompt, UI callback) abstracted
// - Decision audit log internals hidden
package approval

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"steward/model"
)

// Verdict is the outcome of gating a single tool call.
type Verdict int

const (
	// AutoApproved means policy allowed the call without asking anyone.
	AutoApproved Verdict = iota
	// UserApproved means the user confirmed the call.
	UserApproved
	// UserDenied means the user rejected the call.
	UserDenied
	// PolicyDenied means policy rejected the call outright, including
	// confirmation timeouts.
	PolicyDenied
)

// String returns the verdict name.
func (v Verdict) String() string {
	switch v {
	case AutoApproved:
		return "auto-approved"
	case UserApproved:
		return "user-approved"
	case UserDenied:
		return "user-denied"
	case PolicyDenied:
		return "policy-denied"
	default:
		return "unknown"
	}
}

// Approved reports whether the verdict allows execution.
func (v Verdict) Approved() bool {
	return v == AutoApproved || v == UserApproved
}

// Mode describes how a risk class is handled.
type Mode int

const (
	// ModeAllow approves calls of this class without confirmation.
	ModeAllow Mode = iota
	// ModeConfirm asks the user before each call of this class.
	ModeConfirm
	// ModeDeny rejects calls of this class outright.
	ModeDeny
)

// Policy maps risk classes to handling modes.
type Policy struct {
	ReadOnly    Mode
	Mutating    Mode
	Destructive Mode

	// ConfirmTimeout bounds how long a confirmation request may stay
	// unanswered. An unanswered request is denied.
	ConfirmTimeout time.Duration
}

// DefaultPolicy auto-approves read-only calls and asks for everything else.
func DefaultPolicy() Policy {
	return Policy{
		ReadOnly:       ModeAllow,
		Mutating:       ModeConfirm,
		Destructive:    ModeConfirm,
		ConfirmTimeout: 2 * time.Minute,
	}
}

// AutoApprovePolicy approves everything; for unattended runs in sandboxes.
func AutoApprovePolicy() Policy {
	return Policy{
		ReadOnly:       ModeAllow,
		Mutating:       ModeAllow,
		Destructive:    ModeAllow,
		ConfirmTimeout: 2 * time.Minute,
	}
}

func (p Policy) mode(risk model.Risk) Mode {
	switch risk {
	case model.RiskReadOnly:
		return p.ReadOnly
	case model.RiskMutating:
		return p.Mutating
	default:
		return p.Destructive
	}
}

// Request describes a tool call awaiting a confirmation decision.
type Request struct {
	Call model.ToolCall
	Risk model.Risk
}

// ConfirmFunc asks the user to approve a call. Implementations must respect
// ctx; the gate cancels it when the confirmation window closes.
type ConfirmFunc func(ctx context.Context, req Request) (bool, error)

// Decision is one audit log entry: what was asked and what was decided.
type Decision struct {
	CallID   string
	ToolName string
	Risk     model.Risk
	Verdict  Verdict
	Reason   string
	At       time.Time
}

// Gate evaluates tool calls against policy and records every decision.
type Gate struct {
	mu        sync.Mutex
	policy    Policy
	confirm   ConfirmFunc
	decisions []Decision
	logger    *slog.Logger
}

// NewGate creates a gate with the given policy. confirm may be nil, in which
// case calls requiring confirmation are policy-denied.
func NewGate(policy Policy, confirm ConfirmFunc) *Gate {
	return &Gate{
		policy:  policy,
		confirm: confirm,
		logger:  slog.Default(),
	}
}

// WithLogger overrides the logger.
func (g *Gate) WithLogger(logger *slog.Logger) *Gate {
	g.logger = logger
	return g
}

// Check gates one tool call and returns the verdict. Every call produces
// exactly one recorded decision.
func (g *Gate) Check(ctx context.Context, call model.ToolCall, risk model.Risk) Verdict {
	verdict, reason := g.evaluate(ctx, call, risk)

	g.mu.Lock()
	g.decisions = append(g.decisions, Decision{
		CallID:   call.ID,
		ToolName: call.Name,
		Risk:     risk,
		Verdict:  verdict,
		Reason:   reason,
		At:       time.Now(),
	})
	g.mu.Unlock()

	g.logger.Info("approval decision",
		"tool", call.Name,
		"call_id", call.ID,
		"risk", risk,
		"verdict", verdict,
		"reason", reason,
	)
	return verdict
}

func (g *Gate) evaluate(ctx context.Context, call model.ToolCall, risk model.Risk) (Verdict, string) {
	switch g.policy.mode(risk) {
	case ModeAllow:
		return AutoApproved, "policy allows " + risk.String() + " calls"
	case ModeDeny:
		return PolicyDenied, "policy denies " + risk.String() + " calls"
	}

	if g.confirm == nil {
		return PolicyDenied, "confirmation required but no confirmer configured"
	}

	timeout := g.policy.ConfirmTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	confirmCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	approved, err := g.confirm(confirmCtx, Request{Call: call, Risk: risk})
	switch {
	case err != nil && confirmCtx.Err() == context.DeadlineExceeded:
		return PolicyDenied, "confirmation timed out"
	case err != nil:
		return PolicyDenied, "confirmation failed: " + err.Error()
	case approved:
		return UserApproved, "user confirmed"
	default:
		return UserDenied, "user rejected"
	}
}

// Decisions returns a copy of the audit log.
func (g *Gate) Decisions() []Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Decision, len(g.decisions))
	copy(out, g.decisions)
	return out
}
