// Sub-agent spawning: a tool that runs a nested controller on a scoped task.
//
// A sub-agent gets a fresh context store and a filtered tool catalog; only
// its summarized final answer flows back into the parent's history.

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"steward/approval"
	"steward/history"
	"steward/llm"
	"steward/model"
	"steward/tools"
)

// DefaultMaxSubAgents caps concurrently running sub-agents per process.
const DefaultMaxSubAgents = 2

// SpawnTool exposes nested agent runs as a regular tool.
type SpawnTool struct {
	tools.BaseTool
	client   *llm.Client
	registry *tools.Registry
	gate     *approval.Gate
	cfg      Config
	logger   *slog.Logger
	slots    chan struct{}
}

type spawnArgs struct {
	Task          string   `json:"task"`
	Tools         []string `json:"tools"`
	MaxIterations int      `json:"max_iterations"`
}

var _ tools.Tool = (*SpawnTool)(nil)

// NewSpawnTool creates the spawn tool over the parent's provider client and
// tool catalog. The parent's approval gate is shared so sub-agents cannot
// escalate past the policy the user configured.
func NewSpawnTool(client *llm.Client, registry *tools.Registry, gate *approval.Gate, cfg Config) *SpawnTool {
	return &SpawnTool{
		BaseTool: tools.NewBaseTool(tools.Metadata{
			Name: "spawn_agent",
			Description: "Delegate a self-contained sub-task to a nested agent. " +
				"The sub-agent works in isolation and returns only its final answer. " +
				"Use for exploratory or parallelizable work whose intermediate steps you do not need.",
			Parameters: []tools.Parameter{
				{Name: "task", ParamType: "string", Description: "Complete description of the sub-task, including any context the sub-agent needs", Required: true},
				{Name: "tools", ParamType: "array", Description: "Tool names the sub-agent may use; defaults to the full catalog minus spawn_agent", Required: false},
				{Name: "max_iterations", ParamType: "integer", Description: "Iteration cap for the sub-agent (default 20)", Required: false},
			},
			Risk: model.RiskMutating,
		}),
		client:   client,
		registry: registry,
		gate:     gate,
		cfg:      cfg,
		logger:   slog.Default(),
		slots:    make(chan struct{}, DefaultMaxSubAgents),
	}
}

// WithLogger overrides the logger.
func (t *SpawnTool) WithLogger(logger *slog.Logger) *SpawnTool {
	t.logger = logger
	return t
}

// WithMaxConcurrent resizes the sub-agent concurrency cap.
func (t *SpawnTool) WithMaxConcurrent(n int) *SpawnTool {
	if n > 0 {
		t.slots = make(chan struct{}, n)
	}
	return t
}

// Execute runs a nested controller to completion and returns its final
// answer. Nested failures surface as tool-reported errors, never as panics
// of the parent loop.
func (t *SpawnTool) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	var a spawnArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tools.FailureResultf("invalid arguments: %v", err), nil
	}
	if a.Task == "" {
		return tools.FailureResultf("task must not be empty"), nil
	}

	select {
	case t.slots <- struct{}{}:
		defer func() { <-t.slots }()
	case <-ctx.Done():
		return tools.Result{}, ctx.Err()
	}

	cfg := t.cfg
	cfg.MaxIterations = 20
	if a.MaxIterations > 0 {
		cfg.MaxIterations = a.MaxIterations
	}

	registry := t.subRegistry(a.Tools)
	store := history.NewStore(history.DefaultConfig())

	sub := New(cfg, t.client, registry, store).
		WithGate(t.gate).
		WithLogger(t.logger.With("sub_agent", true))

	t.logger.Info("spawning sub-agent", "session_id", sub.SessionID(), "tools", registry.Names())

	result, err := sub.Run(ctx, a.Task)
	if err != nil {
		return tools.FailureResultf("sub-agent failed: %v", err), nil
	}
	return tools.SuccessResult(fmt.Sprintf("Sub-agent completed after %d iterations.\n\n%s",
		result.Iterations, result.Final)), nil
}

// subRegistry filters the parent catalog for the nested run. spawn_agent
// itself is always excluded so delegation cannot recurse unbounded.
func (t *SpawnTool) subRegistry(names []string) *tools.Registry {
	if len(names) == 0 {
		all := t.registry.Names()
		names = make([]string, 0, len(all))
		for _, n := range all {
			if n != t.Metadata().Name {
				names = append(names, n)
			}
		}
		return t.registry.Filtered(names)
	}
	filtered := make([]string, 0, len(names))
	for _, n := range names {
		if n != t.Metadata().Name {
			filtered = append(filtered, n)
		}
	}
	return t.registry.Filtered(filtered)
}
