// Lifecycle hooks: user-supplied callbacks that observe or alter the run.
//
// Hooks fire at fixed lifecycle points. Each hook can let the run continue,
// mutate the payload, or veto the action. A hook that returns an error is
// skipped and logged; one broken hook never takes the run down.

package approval

import (
	"context"
	"log/slog"

	"steward/model"
)

// Point identifies a lifecycle point where hooks fire.
type Point string

const (
	// PointPreToolCall fires before a tool call executes. Hooks may mutate
	// the call's arguments or veto it.
	PointPreToolCall Point = "pre-tool-call"
	// PointPostToolCall fires after a tool call returns. Hooks may mutate
	// the result.
	PointPostToolCall Point = "post-tool-call"
	// PointPrePlanning fires before each planning request.
	PointPrePlanning Point = "pre-planning"
	// PointPostCompaction fires after a compaction summary is written.
	PointPostCompaction Point = "post-compaction"
)

// Action is what a hook wants done.
type Action int

const (
	// Continue lets the run proceed unchanged.
	Continue Action = iota
	// Mutate replaces the event payload and proceeds.
	Mutate
	// Veto stops the action. For pre-tool-call this denies the call.
	Veto
)

// Event is the payload a hook sees. Only the fields relevant to the point
// are populated.
type Event struct {
	Point   Point
	Call    *model.ToolCall   // pre/post tool call
	Result  *model.ToolResult // post tool call
	Summary string            // post-compaction
}

// Outcome is a hook's reply.
type Outcome struct {
	Action Action
	Call   *model.ToolCall   // replacement call when Action == Mutate at pre-tool-call
	Result *model.ToolResult // replacement result when Action == Mutate at post-tool-call
	Reason string            // human-readable explanation, used for vetoes
}

// Hook observes or alters the run at its registered points.
type Hook interface {
	// Name identifies the hook in logs.
	Name() string

	// Points lists where this hook fires.
	Points() []Point

	// Run handles one event.
	Run(ctx context.Context, event Event) (Outcome, error)
}

// HookFunc adapts a function into a single-point Hook.
type HookFunc struct {
	HookName string
	Point    Point
	Fn       func(ctx context.Context, event Event) (Outcome, error)
}

// Name implements Hook.
func (h HookFunc) Name() string { return h.HookName }

// Points implements Hook.
func (h HookFunc) Points() []Point { return []Point{h.Point} }

// Run implements Hook.
func (h HookFunc) Run(ctx context.Context, event Event) (Outcome, error) {
	return h.Fn(ctx, event)
}

// Hooks runs registered hooks in registration order.
type Hooks struct {
	hooks  []Hook
	logger *slog.Logger
}

// NewHooks creates an empty hook runner.
func NewHooks() *Hooks {
	return &Hooks{logger: slog.Default()}
}

// WithLogger overrides the logger.
func (h *Hooks) WithLogger(logger *slog.Logger) *Hooks {
	h.logger = logger
	return h
}

// Register appends a hook. Hooks fire in registration order.
func (h *Hooks) Register(hook Hook) {
	h.hooks = append(h.hooks, hook)
}

// Fire runs every hook registered for the event's point, threading mutations
// through. The first veto wins and stops the chain. Hook errors are logged
// and treated as Continue.
func (h *Hooks) Fire(ctx context.Context, event Event) Outcome {
	final := Outcome{Action: Continue}

	for _, hook := range h.hooks {
		if !fires(hook, event.Point) {
			continue
		}

		outcome, err := hook.Run(ctx, event)
		if err != nil {
			h.logger.Warn("hook failed, skipping",
				"hook", hook.Name(),
				"point", event.Point,
				"error", err,
			)
			continue
		}

		switch outcome.Action {
		case Veto:
			h.logger.Info("hook vetoed action",
				"hook", hook.Name(),
				"point", event.Point,
				"reason", outcome.Reason,
			)
			return outcome
		case Mutate:
			if outcome.Call != nil {
				event.Call = outcome.Call
				final.Call = outcome.Call
			}
			if outcome.Result != nil {
				event.Result = outcome.Result
				final.Result = outcome.Result
			}
			final.Action = Mutate
		}
	}

	return final
}

func fires(hook Hook, point Point) bool {
	for _, p := range hook.Points() {
		if p == point {
			return true
		}
	}
	return false
}
