// Agent Loop Controller - the central state machine.
//
// Idle -> Planning -> AwaitingApproval -> Executing -> Observing ->
// (Compacting) -> Planning ... -> Done | Aborted.
//
// Information Hiding:
// - State transition bookkeeping hidden
// - Prompt/message rendering hidden
// - Corrective-directive plumbing hidden

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"steward/approval"
	"steward/history"
	"steward/llm"
	"steward/model"
	"steward/tools"
)

// State is a controller state-machine state.
type State string

const (
	StateIdle             State = "idle"
	StatePlanning         State = "planning"
	StateAwaitingApproval State = "awaiting-approval"
	StateExecuting        State = "executing"
	StateObserving        State = "observing"
	StateCompacting       State = "compacting"
	StateDone             State = "done"
	StateAborted          State = "aborted"
)

// Snapshot is the controller state handed to the session manager at each
// checkpoint boundary.
type Snapshot struct {
	SessionID string
	Turns     []model.Turn
	NextSeq   uint64
	Iteration int
	State     State
}

// Checkpointer persists snapshots at loop boundaries.
type Checkpointer interface {
	Checkpoint(ctx context.Context, snap Snapshot) (string, error)
}

// Result is the outcome of a completed run.
type Result struct {
	Final          string
	State          State
	Iterations     int
	Usage          llm.TokenUsage
	LastCheckpoint string
}

// Controller drives one run: a single logical control thread with exactly
// one planning decision in flight at a time.
type Controller struct {
	cfg      Config
	client   *llm.Client
	registry *tools.Registry
	executor *tools.Executor
	gate     *approval.Gate
	hooks    *approval.Hooks
	store    *history.Store
	detector *Detector
	sink     Sink
	ckpt     Checkpointer
	logger   *slog.Logger

	sessionID      string
	state          State
	iteration      int
	lastCheckpoint string
	usage          llm.TokenUsage
	corrective     string
}

// New creates a controller. The registry instance is explicit: sub-agents
// receive filtered copies, never a process-wide catalog.
func New(cfg Config, client *llm.Client, registry *tools.Registry, store *history.Store) *Controller {
	return &Controller{
		cfg:       cfg,
		client:    client,
		registry:  registry,
		executor:  tools.NewDefaultExecutor().WithWorkers(cfg.Workers),
		gate:      approval.NewGate(approval.DefaultPolicy(), nil),
		hooks:     approval.NewHooks(),
		store:     store,
		detector:  NewDetector(cfg.DetectorWindow, cfg.DetectorThreshold),
		sink:      NopSink{},
		logger:    slog.Default(),
		sessionID: uuid.NewString(),
		state:     StateIdle,
	}
}

// WithGate overrides the approval gate.
func (c *Controller) WithGate(gate *approval.Gate) *Controller {
	c.gate = gate
	return c
}

// WithHooks overrides the hook runner.
func (c *Controller) WithHooks(hooks *approval.Hooks) *Controller {
	c.hooks = hooks
	return c
}

// WithExecutor overrides the tool executor.
func (c *Controller) WithExecutor(executor *tools.Executor) *Controller {
	c.executor = executor
	return c
}

// WithSink attaches an observer feed.
func (c *Controller) WithSink(sink Sink) *Controller {
	if sink != nil {
		c.sink = sink
	}
	return c
}

// WithCheckpointer attaches session persistence.
func (c *Controller) WithCheckpointer(ckpt Checkpointer) *Controller {
	c.ckpt = ckpt
	return c
}

// WithSessionID pins the session identity, for resumed runs.
func (c *Controller) WithSessionID(id string) *Controller {
	if id != "" {
		c.sessionID = id
	}
	return c
}

// WithLogger overrides the logger.
func (c *Controller) WithLogger(logger *slog.Logger) *Controller {
	c.logger = logger
	return c
}

// SessionID returns the run's session identity.
func (c *Controller) SessionID() string {
	return c.sessionID
}

// Resume restores loop state from a snapshot before Run.
func (c *Controller) Resume(snap Snapshot) error {
	if err := c.store.Restore(snap.Turns, snap.NextSeq); err != nil {
		return fmt.Errorf("restore context store: %w", err)
	}
	c.sessionID = snap.SessionID
	c.iteration = snap.Iteration
	c.detector.Reset()
	return nil
}

// Run drives the loop until Done or Aborted. The goal seeds the context
// store; pass "" when resuming a restored session.
func (c *Controller) Run(ctx context.Context, goal string) (Result, error) {
	if goal != "" {
		c.store.AppendUser(goal)
	}

	defs := c.registry.Definitions()

	for {
		if err := c.checkCancelled(ctx); err != nil {
			return c.abort(ctx, ErrCancelled, err)
		}

		c.iteration++
		if c.iteration > c.cfg.MaxIterations {
			return c.abort(ctx, ErrIterationLimit,
				fmt.Errorf("exceeded %d iterations", c.cfg.MaxIterations))
		}

		// Planning: exactly one decision in flight; history fully resolved.
		c.transition(StatePlanning)
		if outcome := c.hooks.Fire(ctx, approval.Event{Point: approval.PointPrePlanning}); outcome.Action == approval.Veto {
			return c.abort(ctx, ErrCancelled, fmt.Errorf("planning vetoed: %s", outcome.Reason))
		}

		resp, err := c.plan(ctx, defs)
		if err != nil {
			return c.abort(ctx, ErrFatalProvider, err)
		}
		if resp.Usage != nil {
			c.usage.Add(resp.Usage)
		}

		decision, err := ParseDecision(resp)
		if err != nil {
			// Malformed decision payloads are local validation errors; the
			// loop continues with a corrective note.
			c.logger.Warn("malformed decision", "error", err)
			c.store.AppendUser("Your last response was malformed: " + err.Error() +
				". Reply again with valid tool calls or a final answer.")
			continue
		}

		if decision.Kind == DecisionCompletion {
			c.store.AppendAgent(decision.Final, nil)
			c.transition(StateDone)
			c.checkpoint(ctx)
			return Result{
				Final:          decision.Final,
				State:          StateDone,
				Iterations:     c.iteration,
				Usage:          c.usage,
				LastCheckpoint: c.lastCheckpoint,
			}, nil
		}

		c.store.AppendAgent(decision.Narration, decision.Calls)

		if err := c.checkCancelled(ctx); err != nil {
			return c.abort(ctx, ErrCancelled, err)
		}

		// AwaitingApproval: gate every call; denials become results.
		c.transition(StateAwaitingApproval)
		approved, denied := c.gateCalls(ctx, decision.Calls)

		if err := c.checkCancelled(ctx); err != nil {
			return c.abort(ctx, ErrCancelled, err)
		}

		// Executing: approved calls run concurrently; the iteration is a
		// synchronization barrier.
		c.transition(StateExecuting)
		results := c.execute(ctx, decision.Calls, approved, denied)

		// Observing: results append as one turn; pairing is an invariant.
		c.transition(StateObserving)
		if err := verifyPairing(decision.Calls, results); err != nil {
			return c.abort(ctx, ErrFatalProvider, err)
		}
		c.store.AppendToolResults(results)

		signal := c.detector.Observe(decision.Calls)
		stagnating := false
		switch signal.Kind {
		case SignalAbort:
			return c.abort(ctx, ErrStuckLoop, fmt.Errorf("%s", signal.Reason))
		case SignalCorrective:
			c.logger.Warn("loop detector fired", "reason", signal.Reason)
			c.corrective = CorrectiveDirective + " (" + signal.Reason + ")"
			c.sink.Emit(Event{
				Kind:      EventCorrectiveIssued,
				At:        time.Now(),
				Iteration: c.iteration,
				Reason:    signal.Reason,
			})
			stagnating = true
		}

		// Stagnation triggers a reduction pass even under budget: stale
		// context is a common cause of a model circling.
		if stagnating || c.store.OverBudget() {
			c.transition(StateCompacting)
			c.compact(ctx, stagnating)
		}

		c.checkpoint(ctx)
	}
}

// plan sends the context window and tool catalog to the provider.
func (c *Controller) plan(ctx context.Context, defs []llm.ToolDefinition) (llm.Response, error) {
	messages := c.renderMessages()

	if !c.cfg.Stream {
		return c.client.ChatWithTools(ctx, messages, defs)
	}

	fragments := make(chan string, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for f := range fragments {
			c.sink.Emit(Event{
				Kind:      EventContentFragment,
				At:        time.Now(),
				Iteration: c.iteration,
				Fragment:  f,
			})
		}
	}()

	resp, err := c.client.StreamChatWithTools(ctx, messages, defs, fragments)
	close(fragments)
	<-done
	return resp, err
}

// renderMessages materializes the context window in provider wire format.
func (c *Controller) renderMessages() []llm.ChatMessage {
	turns := c.store.Turns()
	messages := make([]llm.ChatMessage, 0, len(turns)+2)
	messages = append(messages, llm.SystemMessage(c.cfg.SystemPrompt+"\n\nAvailable tools:\n"+c.registry.Description()))

	for _, t := range turns {
		switch {
		case t.IsCompaction():
			messages = append(messages, llm.AssistantMessage("[Summary of earlier conversation]\n"+t.Content))
		case t.Role == model.RoleUser:
			messages = append(messages, llm.UserMessage(t.Content))
		case t.Role == model.RoleAgent:
			msg := llm.AssistantMessage(t.Content)
			for _, call := range t.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
					ID:        call.ID,
					Name:      call.Name,
					Arguments: call.Args,
				})
			}
			messages = append(messages, msg)
		case t.Role == model.RoleTool:
			for _, r := range t.ToolResults {
				messages = append(messages, llm.ToolResultMessage(r.CallID, renderResult(r)))
			}
		}
	}

	if c.corrective != "" {
		messages = append(messages, llm.UserMessage(c.corrective))
		c.corrective = ""
	}
	return messages
}

func renderResult(r model.ToolResult) string {
	switch r.Status {
	case model.StatusOK:
		return r.Output
	case model.StatusDenied:
		return "call denied: " + r.Error
	case model.StatusTimedOut:
		return "call timed out: " + r.Error
	default:
		return "call failed: " + r.Error
	}
}

// gateCalls runs pre-tool-call hooks and the approval gate for each call.
// It returns the calls cleared to execute (possibly hook-mutated) and the
// denied results keyed by call id.
func (c *Controller) gateCalls(ctx context.Context, calls []model.ToolCall) ([]model.ToolCall, map[string]model.ToolResult) {
	approved := make([]model.ToolCall, 0, len(calls))
	denied := make(map[string]model.ToolResult)

	for _, call := range calls {
		call := call

		outcome := c.hooks.Fire(ctx, approval.Event{Point: approval.PointPreToolCall, Call: &call})
		switch outcome.Action {
		case approval.Veto:
			denied[call.ID] = model.DeniedResult(call.ID, "vetoed by hook: "+outcome.Reason)
			continue
		case approval.Mutate:
			if outcome.Call != nil {
				mutated := *outcome.Call
				mutated.ID = call.ID // pairing survives mutation
				call = mutated
			}
		}

		// Unknown tools skip the gate; the executor reports them as local
		// errors, which is more useful to the model than a denial.
		if !c.registry.Has(call.Name) {
			approved = append(approved, call)
			continue
		}

		risk := c.registry.Risk(call.Name)
		if risk != model.RiskReadOnly {
			c.sink.Emit(Event{
				Kind:      EventApprovalPrompt,
				At:        time.Now(),
				Iteration: c.iteration,
				ToolName:  call.Name,
				CallID:    call.ID,
			})
		}

		verdict := c.gate.Check(ctx, call, risk)
		if !verdict.Approved() {
			denied[call.ID] = model.DeniedResult(call.ID, verdict.String())
			continue
		}
		approved = append(approved, call)
	}

	return approved, denied
}

// execute dispatches approved calls and merges denied ones back, preserving
// the original call order so results pair 1:1 with the decision's calls.
func (c *Controller) execute(ctx context.Context, calls []model.ToolCall, approved []model.ToolCall, denied map[string]model.ToolResult) []model.ToolResult {
	for _, call := range approved {
		c.sink.Emit(Event{
			Kind:      EventToolCallStart,
			At:        time.Now(),
			Iteration: c.iteration,
			ToolName:  call.Name,
			CallID:    call.ID,
		})
	}

	executed := c.executor.ExecuteBatch(ctx, c.registry, approved)
	byID := make(map[string]model.ToolResult, len(executed))
	for _, r := range executed {
		byID[r.CallID] = r
	}

	results := make([]model.ToolResult, 0, len(calls))
	for _, call := range calls {
		result, ok := denied[call.ID]
		if !ok {
			result, ok = byID[call.ID]
		}
		if !ok {
			result = model.ErrorResult(call.ID, "no result produced")
		}

		outcome := c.hooks.Fire(ctx, approval.Event{Point: approval.PointPostToolCall, Call: &call, Result: &result})
		if outcome.Action == approval.Mutate && outcome.Result != nil {
			mutated := *outcome.Result
			mutated.CallID = call.ID
			result = mutated
		}

		c.sink.Emit(Event{
			Kind:      EventToolCallEnd,
			At:        time.Now(),
			Iteration: c.iteration,
			ToolName:  call.Name,
			CallID:    call.ID,
			Status:    string(result.Status),
		})
		results = append(results, result)
	}
	return results
}

// verifyPairing checks the 1:1 call/result invariant before the next
// planning request is issued.
func verifyPairing(calls []model.ToolCall, results []model.ToolResult) error {
	if len(calls) != len(results) {
		return fmt.Errorf("tool pairing violated: %d calls, %d results", len(calls), len(results))
	}
	for i, call := range calls {
		if results[i].CallID != call.ID {
			return fmt.Errorf("tool pairing violated: call %s paired with result %s", call.ID, results[i].CallID)
		}
	}
	return nil
}

// compact reduces the context window: pruning first, compaction if needed.
// A stagnation-triggered pass under budget prunes stale bulk only;
// summarization costs an inference call and is reserved for budget overruns.
// An exhausted window logs a warning and the loop proceeds.
func (c *Controller) compact(ctx context.Context, stagnating bool) {
	if stagnating && !c.store.OverBudget() {
		if n := c.store.Prune(); n > 0 {
			c.logger.Info("pruned stale context after detector signal", "turns", n)
		}
		return
	}

	outcome, err := c.store.ReduceToBudget(ctx, NewSummarizer(c.client))
	if err != nil {
		c.logger.Warn("compaction failed, proceeding over budget", "error", err)
		return
	}
	if outcome.Exhausted {
		c.logger.Warn("context window over budget but no further reduction possible",
			"size", c.store.EstimatedSize(), "budget", c.store.Budget())
	}
	if outcome.CompactedRange != nil {
		c.hooks.Fire(ctx, approval.Event{Point: approval.PointPostCompaction})
		c.logger.Info("compacted context",
			"from_seq", outcome.CompactedRange.FromSeq,
			"to_seq", outcome.CompactedRange.ToSeq,
			"pruned_turns", outcome.PrunedTurns,
		)
	}
}

// checkpoint persists a snapshot; failures are logged, not fatal.
func (c *Controller) checkpoint(ctx context.Context) {
	if c.ckpt == nil {
		return
	}
	id, err := c.ckpt.Checkpoint(ctx, Snapshot{
		SessionID: c.sessionID,
		Turns:     c.store.Turns(),
		NextSeq:   c.store.NextSeq(),
		Iteration: c.iteration,
		State:     c.state,
	})
	if err != nil {
		c.logger.Warn("checkpoint failed", "error", err)
		return
	}
	c.lastCheckpoint = id
	c.sink.Emit(Event{
		Kind:         EventCheckpointWritten,
		At:           time.Now(),
		Iteration:    c.iteration,
		CheckpointID: id,
	})
}

func (c *Controller) transition(to State) {
	from := c.state
	c.state = to
	c.sink.Emit(Event{
		Kind:      EventStateTransition,
		At:        time.Now(),
		Iteration: c.iteration,
		From:      string(from),
		To:        string(to),
	})
	c.logger.Debug("state transition", "from", from, "to", to, "iteration", c.iteration)
}

func (c *Controller) checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (c *Controller) abort(ctx context.Context, class, cause error) (Result, error) {
	c.transition(StateAborted)
	c.checkpoint(ctx)
	return Result{
			State:          StateAborted,
			Iterations:     c.iteration,
			Usage:          c.usage,
			LastCheckpoint: c.lastCheckpoint,
		}, &AbortError{
			Class:          class,
			Cause:          cause,
			LastCheckpoint: c.lastCheckpoint,
		}
}
