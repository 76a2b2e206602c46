package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"steward/approval"
	"steward/history"
	"steward/llm"
	"steward/model"
	"steward/tools"
)

// scriptedProvider replays a fixed sequence of responses. It records every
// request so tests can assert on what the controller sent.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []llm.Response
	errs      []error
	requests  [][]llm.ChatMessage
	calls     int
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "scripted-1" }

func (p *scriptedProvider) next(messages []llm.ChatMessage) (llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, messages)
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return llm.Response{}, p.errs[i]
	}
	if i >= len(p.responses) {
		return llm.Response{}, fmt.Errorf("script exhausted after %d responses", len(p.responses))
	}
	return p.responses[i], nil
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []llm.ChatMessage) (llm.Response, error) {
	return p.next(messages)
}

func (p *scriptedProvider) ChatWithTools(ctx context.Context, messages []llm.ChatMessage, defs []llm.ToolDefinition) (llm.Response, error) {
	return p.next(messages)
}

func (p *scriptedProvider) StreamChatWithTools(ctx context.Context, messages []llm.ChatMessage, defs []llm.ToolDefinition, chunks chan<- string) (llm.Response, error) {
	resp, err := p.next(messages)
	if err == nil && resp.Content != "" {
		chunks <- resp.Content
	}
	return resp, err
}

func (p *scriptedProvider) lastRequest() []llm.ChatMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	return p.requests[len(p.requests)-1]
}

// echoTool is a deterministic read-only tool for loop tests.
type echoTool struct {
	tools.BaseTool
	mu    sync.Mutex
	calls int
}

func newEchoTool(name string) *echoTool {
	return &echoTool{BaseTool: tools.NewBaseTool(tools.Metadata{
		Name:        name,
		Description: "echoes its input",
		Parameters: []tools.Parameter{
			{Name: "input", ParamType: "string", Description: "text to echo", Required: true},
		},
		Risk: model.RiskReadOnly,
	})}
}

func (t *echoTool) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	var a struct {
		Input string `json:"input"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return tools.FailureResult(err), nil
	}
	return tools.SuccessResult("echo: " + a.Input), nil
}

func toolCallResponse(id, name, args string) llm.Response {
	return llm.Response{ToolCalls: []llm.ToolCall{
		{ID: id, Name: name, Arguments: json.RawMessage(args)},
	}}
}

func newTestController(t *testing.T, provider llm.Provider, registry *tools.Registry) *Controller {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Stream = false
	cfg.MaxIterations = 10
	store := history.NewStore(history.DefaultConfig())
	return New(cfg, llm.NewClient(provider), registry, store).
		WithGate(approval.NewGate(approval.AutoApprovePolicy(), nil))
}

func TestRunToolCallThenCompletion(t *testing.T) {
	registry := tools.NewRegistry()
	echo := newEchoTool("echo")
	registry.Register(echo)

	provider := &scriptedProvider{responses: []llm.Response{
		toolCallResponse("call-1", "echo", `{"input":"hello"}`),
		{Content: "The tool said: echo: hello"},
	}}

	ctrl := newTestController(t, provider, registry)
	result, err := ctrl.Run(context.Background(), "say hello via the echo tool")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.State != StateDone {
		t.Errorf("expected done, got %s", result.State)
	}
	if result.Iterations != 2 {
		t.Errorf("expected 2 iterations, got %d", result.Iterations)
	}
	if echo.calls != 1 {
		t.Errorf("expected 1 tool execution, got %d", echo.calls)
	}
	if !strings.Contains(result.Final, "echo: hello") {
		t.Errorf("unexpected final answer: %q", result.Final)
	}

	// The second planning request must carry the paired tool result.
	last := provider.lastRequest()
	var found bool
	for _, msg := range last {
		if msg.Role == "tool" && msg.ToolCallID == "call-1" && strings.Contains(msg.Content, "echo: hello") {
			found = true
		}
	}
	if !found {
		t.Error("tool result for call-1 never reached the second planning request")
	}
}

func TestRunStuckLoopAbortsWithCorrectiveFirst(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(newEchoTool("echo"))

	// Five identical calls; detector threshold 3, so iteration 3 triggers the
	// corrective directive and iteration 4 escalates to abort.
	same := func() llm.Response { return toolCallResponse("", "echo", `{"input":"same"}`) }
	provider := &scriptedProvider{responses: []llm.Response{
		same(), same(), same(), same(), same(),
	}}

	ctrl := newTestController(t, provider, registry)
	_, err := ctrl.Run(context.Background(), "do the thing")
	if err == nil {
		t.Fatal("expected stuck-loop abort")
	}
	if !errors.Is(err, ErrStuckLoop) {
		t.Fatalf("expected ErrStuckLoop, got %v", err)
	}

	// The corrective directive must have reached planning before the abort.
	var sawDirective bool
	for _, req := range provider.requests {
		for _, msg := range req {
			if msg.Role == "user" && strings.Contains(msg.Content, "stuck repeating") {
				sawDirective = true
			}
		}
	}
	if !sawDirective {
		t.Error("corrective directive never injected into planning")
	}
	if provider.calls > 5 {
		t.Errorf("expected abort by the 5th planning call, saw %d", provider.calls)
	}
}

// recordingSink captures every event for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func TestRunCorrectiveSignalTriggersReductionPass(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(newEchoTool("echo"))

	// Bulky identical calls: the third triggers the corrective directive,
	// then the model moves on.
	args := fmt.Sprintf(`{"input":%q}`, strings.Repeat("x", 4000))
	same := func() llm.Response { return toolCallResponse("", "echo", args) }
	provider := &scriptedProvider{responses: []llm.Response{
		same(), same(), same(),
		{Content: "moving on"},
	}}

	cfg := DefaultConfig()
	cfg.Stream = false
	cfg.MaxIterations = 10
	// Generous budget: the reduction pass must come from the detector
	// signal, not a budget overrun.
	store := history.NewStore(history.Config{TokenBudget: 1_000_000, RecencyFloor: 1})
	sink := &recordingSink{}
	ctrl := New(cfg, llm.NewClient(provider), registry, store).
		WithGate(approval.NewGate(approval.AutoApprovePolicy(), nil)).
		WithSink(sink)

	result, err := ctrl.Run(context.Background(), "repeat until corrected")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.State != StateDone {
		t.Errorf("expected done, got %s", result.State)
	}

	var corrective, compacting bool
	sink.mu.Lock()
	for _, ev := range sink.events {
		if ev.Kind == EventCorrectiveIssued && ev.Reason != "" {
			corrective = true
		}
		if ev.Kind == EventStateTransition && ev.To == string(StateCompacting) {
			compacting = true
		}
	}
	sink.mu.Unlock()
	if !corrective {
		t.Error("corrective directive never reached the observer feed")
	}
	if !compacting {
		t.Error("detector signal did not trigger a reduction pass")
	}

	var prunedTurn bool
	for _, turn := range store.Turns() {
		if turn.Pruned {
			prunedTurn = true
		}
	}
	if !prunedTurn {
		t.Error("reduction pass left bulky turns untouched")
	}
}

func TestRunDeniedCallContinuesLoop(t *testing.T) {
	registry := tools.NewRegistry()
	echo := newEchoTool("risky")
	registry.Register(echo)

	provider := &scriptedProvider{responses: []llm.Response{
		toolCallResponse("call-1", "risky", `{"input":"x"}`),
		{Content: "understood, stopping here"},
	}}

	cfg := DefaultConfig()
	cfg.Stream = false
	store := history.NewStore(history.DefaultConfig())
	policy := approval.Policy{
		ReadOnly:    approval.ModeDeny,
		Mutating:    approval.ModeDeny,
		Destructive: approval.ModeDeny,
	}
	ctrl := New(cfg, llm.NewClient(provider), registry, store).
		WithGate(approval.NewGate(policy, nil))

	result, err := ctrl.Run(context.Background(), "try the risky tool")
	if err != nil {
		t.Fatalf("denial must not abort the run: %v", err)
	}
	if result.State != StateDone {
		t.Errorf("expected done, got %s", result.State)
	}
	if echo.calls != 0 {
		t.Errorf("denied tool must never execute, ran %d times", echo.calls)
	}

	// The denial must surface to the model as a paired result.
	last := provider.lastRequest()
	var denied bool
	for _, msg := range last {
		if msg.Role == "tool" && msg.ToolCallID == "call-1" && strings.Contains(msg.Content, "denied") {
			denied = true
		}
	}
	if !denied {
		t.Error("denied result for call-1 missing from next planning request")
	}
}

func TestRunIterationLimitAborts(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(newEchoTool("echo"))

	responses := make([]llm.Response, 0, 8)
	for i := 0; i < 8; i++ {
		responses = append(responses, toolCallResponse("", "echo", fmt.Sprintf(`{"input":"step %d"}`, i)))
	}
	provider := &scriptedProvider{responses: responses}

	cfg := DefaultConfig()
	cfg.Stream = false
	cfg.MaxIterations = 3
	store := history.NewStore(history.DefaultConfig())
	ctrl := New(cfg, llm.NewClient(provider), registry, store).
		WithGate(approval.NewGate(approval.AutoApprovePolicy(), nil))

	_, err := ctrl.Run(context.Background(), "never finish")
	if !errors.Is(err, ErrIterationLimit) {
		t.Fatalf("expected ErrIterationLimit, got %v", err)
	}
}

func TestRunMalformedDecisionFeedsBackAndContinues(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(newEchoTool("echo"))

	provider := &scriptedProvider{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "bad", Name: "", Arguments: json.RawMessage(`{}`)}}},
		{Content: "recovered"},
	}}

	ctrl := newTestController(t, provider, registry)
	result, err := ctrl.Run(context.Background(), "go")
	if err != nil {
		t.Fatalf("malformed decision must not abort: %v", err)
	}
	if result.Final != "recovered" {
		t.Errorf("unexpected final: %q", result.Final)
	}

	last := provider.lastRequest()
	var corrected bool
	for _, msg := range last {
		if msg.Role == "user" && strings.Contains(msg.Content, "malformed") {
			corrected = true
		}
	}
	if !corrected {
		t.Error("malformed-decision note missing from follow-up planning request")
	}
}

func TestRunCancellationAborts(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(newEchoTool("echo"))
	provider := &scriptedProvider{responses: []llm.Response{
		toolCallResponse("", "echo", `{"input":"x"}`),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ctrl := newTestController(t, provider, registry)
	_, err := ctrl.Run(ctx, "go")
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestRunPreToolCallHookVeto(t *testing.T) {
	registry := tools.NewRegistry()
	echo := newEchoTool("echo")
	registry.Register(echo)

	provider := &scriptedProvider{responses: []llm.Response{
		toolCallResponse("call-1", "echo", `{"input":"x"}`),
		{Content: "done"},
	}}

	hooks := approval.NewHooks()
	hooks.Register(approval.HookFunc{
		HookName: "block-echo",
		Point:    approval.PointPreToolCall,
		Fn: func(ctx context.Context, ev approval.Event) (approval.Outcome, error) {
			return approval.Outcome{Action: approval.Veto, Reason: "not today"}, nil
		},
	})

	ctrl := newTestController(t, provider, registry).WithHooks(hooks)
	result, err := ctrl.Run(context.Background(), "go")
	if err != nil {
		t.Fatalf("veto must not abort the run: %v", err)
	}
	if result.State != StateDone {
		t.Errorf("expected done, got %s", result.State)
	}
	if echo.calls != 0 {
		t.Errorf("vetoed tool must not execute, ran %d times", echo.calls)
	}
}

type memCheckpointer struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (m *memCheckpointer) Checkpoint(ctx context.Context, snap Snapshot) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, snap)
	return fmt.Sprintf("ckpt-%d", len(m.snaps)), nil
}

func TestRunCheckpointsAfterEveryObservation(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(newEchoTool("echo"))

	provider := &scriptedProvider{responses: []llm.Response{
		toolCallResponse("", "echo", `{"input":"a"}`),
		toolCallResponse("", "echo", `{"input":"b"}`),
		{Content: "finished"},
	}}

	ckpt := &memCheckpointer{}
	ctrl := newTestController(t, provider, registry).WithCheckpointer(ckpt)

	result, err := ctrl.Run(context.Background(), "two steps then stop")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	// Two observing checkpoints plus the terminal one.
	if len(ckpt.snaps) != 3 {
		t.Fatalf("expected 3 checkpoints, got %d", len(ckpt.snaps))
	}
	if result.LastCheckpoint != "ckpt-3" {
		t.Errorf("unexpected last checkpoint id %q", result.LastCheckpoint)
	}
	last := ckpt.snaps[len(ckpt.snaps)-1]
	if last.State != StateDone {
		t.Errorf("terminal snapshot state = %s, want done", last.State)
	}
	if len(last.Turns) == 0 || last.NextSeq == 0 {
		t.Error("terminal snapshot missing turns")
	}
}

func TestRunAbortErrorCarriesLastCheckpoint(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(newEchoTool("echo"))

	same := func() llm.Response { return toolCallResponse("", "echo", `{"input":"same"}`) }
	provider := &scriptedProvider{responses: []llm.Response{same(), same(), same(), same(), same()}}

	ckpt := &memCheckpointer{}
	ctrl := newTestController(t, provider, registry).WithCheckpointer(ckpt)

	_, err := ctrl.Run(context.Background(), "loop forever")
	var abort *AbortError
	if !errors.As(err, &abort) {
		t.Fatalf("expected AbortError, got %v", err)
	}
	if abort.LastCheckpoint == "" {
		t.Error("abort error missing last checkpoint id")
	}
	if !strings.Contains(abort.Error(), abort.LastCheckpoint) {
		t.Errorf("abort message %q does not surface checkpoint id", abort.Error())
	}
}
