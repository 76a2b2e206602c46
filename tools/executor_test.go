package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"steward/model"
)

func validArgs() json.RawMessage {
	return json.RawMessage(`{"input":"x"}`)
}

func TestExecuteBatchReturnsResultsInCallOrder(t *testing.T) {
	registry := NewRegistry()
	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("tool%d", i)
		tool := newStubTool(name, model.RiskReadOnly)
		out := fmt.Sprintf("out%d", i)
		tool.execFn = func(ctx context.Context, args json.RawMessage) (Result, error) {
			return SuccessResult(out), nil
		}
		registry.Register(tool)
	}

	calls := []model.ToolCall{
		{ID: "c0", Name: "tool0", Args: validArgs()},
		{ID: "c1", Name: "tool1", Args: validArgs()},
		{ID: "c2", Name: "tool2", Args: validArgs()},
		{ID: "c3", Name: "tool3", Args: validArgs()},
	}

	executor := NewDefaultExecutor()
	results := executor.ExecuteBatch(context.Background(), registry, calls)

	if len(results) != len(calls) {
		t.Fatalf("expected %d results, got %d", len(calls), len(results))
	}
	for i, r := range results {
		if r.CallID != calls[i].ID {
			t.Errorf("result %d: expected call id %s, got %s", i, calls[i].ID, r.CallID)
		}
		if r.Status != model.StatusOK {
			t.Errorf("result %d: expected ok, got %s", i, r.Status)
		}
		if r.Output != fmt.Sprintf("out%d", i) {
			t.Errorf("result %d: unexpected output %q", i, r.Output)
		}
	}
}

func TestExecuteBatchUnknownToolBecomesErrorResult(t *testing.T) {
	registry := NewRegistry()
	executor := NewDefaultExecutor()

	results := executor.ExecuteBatch(context.Background(), registry, []model.ToolCall{
		{ID: "c1", Name: "nonexistent", Args: validArgs()},
	})

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Status != model.StatusError {
		t.Errorf("expected error status, got %s", results[0].Status)
	}
	if !strings.Contains(results[0].Error, "unknown tool") {
		t.Errorf("expected unknown tool message, got %q", results[0].Error)
	}
}

func TestExecuteBatchSchemaViolationBecomesErrorResult(t *testing.T) {
	registry := NewRegistry()
	tool := newStubTool("strict", model.RiskReadOnly)
	registry.Register(tool)

	executor := NewDefaultExecutor()
	results := executor.ExecuteBatch(context.Background(), registry, []model.ToolCall{
		{ID: "c1", Name: "strict", Args: json.RawMessage(`{"wrong":"field"}`)},
	})

	if results[0].Status != model.StatusError {
		t.Errorf("expected error status for schema violation, got %s", results[0].Status)
	}
	if !strings.Contains(results[0].Error, "validation failed") {
		t.Errorf("expected validation message, got %q", results[0].Error)
	}
	if tool.calls != 0 {
		t.Errorf("tool must not execute on schema violation, ran %d times", tool.calls)
	}
}

func TestExecuteBatchTimeoutBecomesTimedOutResult(t *testing.T) {
	registry := NewRegistry()
	tool := newStubTool("slow", model.RiskReadOnly)
	tool.execFn = func(ctx context.Context, args json.RawMessage) (Result, error) {
		select {
		case <-time.After(5 * time.Second):
			return SuccessResult("too late"), nil
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	registry.Register(tool)

	executor := NewExecutor(Config{TimeoutSecs: 1, MaxRetries: 1})
	results := executor.ExecuteBatch(context.Background(), registry, []model.ToolCall{
		{ID: "c1", Name: "slow", Args: validArgs()},
	})

	if results[0].Status != model.StatusTimedOut {
		t.Errorf("expected timed-out status, got %s (%s)", results[0].Status, results[0].Output)
	}
}

func TestExecuteBatchSerializesMutatingCallsOnSameResource(t *testing.T) {
	registry := NewRegistry()
	tool := newStubTool("mutator", model.RiskMutating)
	tool.resource = "/tmp/shared.txt"
	tool.execFn = func(ctx context.Context, args json.RawMessage) (Result, error) {
		time.Sleep(10 * time.Millisecond)
		return SuccessResult("done"), nil
	}
	registry.Register(tool)

	calls := make([]model.ToolCall, 4)
	for i := range calls {
		calls[i] = model.ToolCall{ID: fmt.Sprintf("c%d", i), Name: "mutator", Args: validArgs()}
	}

	executor := NewDefaultExecutor()
	results := executor.ExecuteBatch(context.Background(), registry, calls)

	for i, r := range results {
		if r.Status != model.StatusOK {
			t.Errorf("result %d: expected ok, got %s", i, r.Status)
		}
	}
	if tool.maxSeen > 1 {
		t.Errorf("mutating calls on same resource ran concurrently (max %d in flight)", tool.maxSeen)
	}
}

func TestExecuteBatchReadOnlyCallsRunConcurrently(t *testing.T) {
	registry := NewRegistry()
	tool := newStubTool("reader", model.RiskReadOnly)
	tool.execFn = func(ctx context.Context, args json.RawMessage) (Result, error) {
		time.Sleep(20 * time.Millisecond)
		return SuccessResult("read"), nil
	}
	registry.Register(tool)

	calls := make([]model.ToolCall, 4)
	for i := range calls {
		calls[i] = model.ToolCall{ID: fmt.Sprintf("c%d", i), Name: "reader", Args: validArgs()}
	}

	executor := NewDefaultExecutor().WithWorkers(4)
	start := time.Now()
	executor.ExecuteBatch(context.Background(), registry, calls)
	elapsed := time.Since(start)

	// Serial execution would take at least 80ms.
	if elapsed > 60*time.Millisecond {
		t.Errorf("read-only batch appears serialized: took %v", elapsed)
	}
	if tool.maxSeen < 2 {
		t.Errorf("expected concurrent read-only execution, max in flight was %d", tool.maxSeen)
	}
}

func TestExecuteBatchUnknownResourceExcludesOtherMutations(t *testing.T) {
	registry := NewRegistry()

	unknown := newStubTool("unknown_res", model.RiskMutating)
	unknown.resource = "" // no hint
	known := newStubTool("known_res", model.RiskMutating)
	known.resource = "/tmp/a.txt"

	var inFlight, maxInFlight int
	track := func(d time.Duration) func(ctx context.Context, args json.RawMessage) (Result, error) {
		return func(ctx context.Context, args json.RawMessage) (Result, error) {
			unknown.mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			unknown.mu.Unlock()
			time.Sleep(d)
			unknown.mu.Lock()
			inFlight--
			unknown.mu.Unlock()
			return SuccessResult("done"), nil
		}
	}
	unknown.execFn = track(10 * time.Millisecond)
	known.execFn = track(10 * time.Millisecond)

	registry.Register(unknown)
	registry.Register(known)

	executor := NewDefaultExecutor()
	executor.ExecuteBatch(context.Background(), registry, []model.ToolCall{
		{ID: "c1", Name: "unknown_res", Args: validArgs()},
		{ID: "c2", Name: "known_res", Args: validArgs()},
		{ID: "c3", Name: "known_res", Args: validArgs()},
	})

	if maxInFlight > 1 {
		t.Errorf("unknown-resource mutation overlapped other mutations (max %d in flight)", maxInFlight)
	}
}

func TestExecutorRetriesTransientToolFailures(t *testing.T) {
	tool := newStubTool("flaky", model.RiskReadOnly)
	attempts := 0
	tool.execFn = func(ctx context.Context, args json.RawMessage) (Result, error) {
		attempts++
		if attempts < 3 {
			return FailureResultf("connection refused"), nil
		}
		return SuccessResult("recovered"), nil
	}

	executor := NewExecutor(Config{TimeoutSecs: 5, MaxRetries: 3})
	result, err := executor.Execute(context.Background(), tool, validArgs())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success() {
		t.Fatalf("expected success after retries, got: %v", result.Error)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestCalculateBackoffGrowsWithJitterUnderCap(t *testing.T) {
	executor := NewExecutor(Config{
		TimeoutSecs:    5,
		MaxRetries:     5,
		RetryBaseDelay: 10 * time.Millisecond,
		RetryMaxDelay:  40 * time.Millisecond,
	})

	// Attempt n doubles the base n-1 times, capped, plus up to 25% jitter.
	expected := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		40 * time.Millisecond,
	}
	for attempt := uint32(1); attempt <= 4; attempt++ {
		base := expected[attempt-1]
		for trial := 0; trial < 20; trial++ {
			d := executor.calculateBackoff(attempt)
			if d < base || d > base+base/4 {
				t.Fatalf("attempt %d: backoff %v outside [%v, %v]", attempt, d, base, base+base/4)
			}
		}
	}
}

func TestExecutorDoesNotRetryValidationFailures(t *testing.T) {
	tool := newStubTool("strict", model.RiskReadOnly)
	attempts := 0
	tool.execFn = func(ctx context.Context, args json.RawMessage) (Result, error) {
		attempts++
		return FailureResultf("validation failed: bad input"), nil
	}

	executor := NewExecutor(Config{TimeoutSecs: 5, MaxRetries: 3})
	result, err := executor.Execute(context.Background(), tool, validArgs())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success() {
		t.Fatal("expected failure result")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}
