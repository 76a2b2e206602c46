package approval

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"steward/model"
)

func testCall(id, name string) model.ToolCall {
	return model.ToolCall{ID: id, Name: name, Args: json.RawMessage(`{}`)}
}

func TestGateAutoApprovesReadOnly(t *testing.T) {
	gate := NewGate(DefaultPolicy(), nil)

	verdict := gate.Check(context.Background(), testCall("c1", "read_file"), model.RiskReadOnly)
	if verdict != AutoApproved {
		t.Errorf("expected auto-approved, got %s", verdict)
	}
	if !verdict.Approved() {
		t.Error("auto-approved verdict should allow execution")
	}
}

func TestGateUserConfirmation(t *testing.T) {
	answers := map[string]bool{"c_yes": true, "c_no": false}
	confirm := func(ctx context.Context, req Request) (bool, error) {
		return answers[req.Call.ID], nil
	}
	gate := NewGate(DefaultPolicy(), confirm)

	if v := gate.Check(context.Background(), testCall("c_yes", "write_file"), model.RiskMutating); v != UserApproved {
		t.Errorf("expected user-approved, got %s", v)
	}
	if v := gate.Check(context.Background(), testCall("c_no", "write_file"), model.RiskMutating); v != UserDenied {
		t.Errorf("expected user-denied, got %s", v)
	}
}

func TestGateConfirmationTimeoutIsPolicyDenied(t *testing.T) {
	confirm := func(ctx context.Context, req Request) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}
	policy := DefaultPolicy()
	policy.ConfirmTimeout = 10 * time.Millisecond
	gate := NewGate(policy, confirm)

	verdict := gate.Check(context.Background(), testCall("c1", "run_shell"), model.RiskDestructive)
	if verdict != PolicyDenied {
		t.Errorf("expected policy-denied on timeout, got %s", verdict)
	}

	decisions := gate.Decisions()
	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}
	if decisions[0].Reason != "confirmation timed out" {
		t.Errorf("unexpected reason: %q", decisions[0].Reason)
	}
}

func TestGateNoConfirmerIsPolicyDenied(t *testing.T) {
	gate := NewGate(DefaultPolicy(), nil)

	verdict := gate.Check(context.Background(), testCall("c1", "write_file"), model.RiskMutating)
	if verdict != PolicyDenied {
		t.Errorf("expected policy-denied without confirmer, got %s", verdict)
	}
}

func TestGateDenyMode(t *testing.T) {
	policy := DefaultPolicy()
	policy.Destructive = ModeDeny
	confirm := func(ctx context.Context, req Request) (bool, error) {
		t.Fatal("confirm must not be called for denied class")
		return false, nil
	}
	gate := NewGate(policy, confirm)

	verdict := gate.Check(context.Background(), testCall("c1", "run_shell"), model.RiskDestructive)
	if verdict != PolicyDenied {
		t.Errorf("expected policy-denied, got %s", verdict)
	}
}

func TestGateRecordsEveryDecision(t *testing.T) {
	gate := NewGate(AutoApprovePolicy(), nil)

	gate.Check(context.Background(), testCall("c1", "read_file"), model.RiskReadOnly)
	gate.Check(context.Background(), testCall("c2", "write_file"), model.RiskMutating)

	decisions := gate.Decisions()
	if len(decisions) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(decisions))
	}
	if decisions[0].CallID != "c1" || decisions[1].CallID != "c2" {
		t.Error("decisions out of order")
	}
	for _, d := range decisions {
		if d.At.IsZero() {
			t.Error("decision timestamp not set")
		}
	}
}

func TestHooksVetoStopsChain(t *testing.T) {
	hooks := NewHooks()

	vetoed := false
	hooks.Register(HookFunc{
		HookName: "vetoer",
		Point:    PointPreToolCall,
		Fn: func(ctx context.Context, event Event) (Outcome, error) {
			vetoed = true
			return Outcome{Action: Veto, Reason: "blocked by test"}, nil
		},
	})
	hooks.Register(HookFunc{
		HookName: "after",
		Point:    PointPreToolCall,
		Fn: func(ctx context.Context, event Event) (Outcome, error) {
			t.Fatal("hook after veto must not run")
			return Outcome{}, nil
		},
	})

	call := testCall("c1", "write_file")
	outcome := hooks.Fire(context.Background(), Event{Point: PointPreToolCall, Call: &call})
	if outcome.Action != Veto {
		t.Errorf("expected veto, got %v", outcome.Action)
	}
	if !vetoed {
		t.Error("veto hook did not run")
	}
	if outcome.Reason != "blocked by test" {
		t.Errorf("unexpected reason: %q", outcome.Reason)
	}
}

func TestHooksMutateThreadsThroughChain(t *testing.T) {
	hooks := NewHooks()

	hooks.Register(HookFunc{
		HookName: "rewriter",
		Point:    PointPreToolCall,
		Fn: func(ctx context.Context, event Event) (Outcome, error) {
			mutated := *event.Call
			mutated.Args = json.RawMessage(`{"path":"/safe"}`)
			return Outcome{Action: Mutate, Call: &mutated}, nil
		},
	})

	var seenArgs string
	hooks.Register(HookFunc{
		HookName: "observer",
		Point:    PointPreToolCall,
		Fn: func(ctx context.Context, event Event) (Outcome, error) {
			seenArgs = string(event.Call.Args)
			return Outcome{Action: Continue}, nil
		},
	})

	call := testCall("c1", "write_file")
	outcome := hooks.Fire(context.Background(), Event{Point: PointPreToolCall, Call: &call})

	if outcome.Action != Mutate {
		t.Errorf("expected mutate, got %v", outcome.Action)
	}
	if outcome.Call == nil || string(outcome.Call.Args) != `{"path":"/safe"}` {
		t.Error("mutated call not returned")
	}
	if seenArgs != `{"path":"/safe"}` {
		t.Errorf("later hook saw stale args: %q", seenArgs)
	}
}

func TestHooksErrorIsIsolated(t *testing.T) {
	hooks := NewHooks()

	hooks.Register(HookFunc{
		HookName: "broken",
		Point:    PointPrePlanning,
		Fn: func(ctx context.Context, event Event) (Outcome, error) {
			return Outcome{}, errors.New("hook exploded")
		},
	})

	ran := false
	hooks.Register(HookFunc{
		HookName: "healthy",
		Point:    PointPrePlanning,
		Fn: func(ctx context.Context, event Event) (Outcome, error) {
			ran = true
			return Outcome{Action: Continue}, nil
		},
	})

	outcome := hooks.Fire(context.Background(), Event{Point: PointPrePlanning})
	if outcome.Action != Continue {
		t.Errorf("expected continue despite hook error, got %v", outcome.Action)
	}
	if !ran {
		t.Error("healthy hook did not run after broken hook")
	}
}

func TestHooksOnlyFireAtRegisteredPoint(t *testing.T) {
	hooks := NewHooks()

	fired := 0
	hooks.Register(HookFunc{
		HookName: "compaction-only",
		Point:    PointPostCompaction,
		Fn: func(ctx context.Context, event Event) (Outcome, error) {
			fired++
			return Outcome{Action: Continue}, nil
		},
	})

	hooks.Fire(context.Background(), Event{Point: PointPrePlanning})
	hooks.Fire(context.Background(), Event{Point: PointPostCompaction, Summary: "s"})

	if fired != 1 {
		t.Errorf("expected hook to fire once, fired %d times", fired)
	}
}
