// Command execution for CLI commands.
//
// Information Hiding:
// - Controller and storage setup hidden
// - Terminal confirmation prompt hidden
// - Output formatting hidden

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"steward/agent"
	"steward/approval"
	"steward/config"
	"steward/history"
	"steward/llm"
	"steward/session"
	"steward/tools"
)

// Options holds CLI execution options.
type Options struct {
	Provider    string
	MaxIter     int
	AutoApprove bool
	DBPath      string
	Verbose     bool
}

// Run executes one goal to completion and prints the final answer.
func Run(ctx context.Context, goal string, opts Options) error {
	env, err := newEnv(opts)
	if err != nil {
		return err
	}
	defer env.close()

	fmt.Printf("Running with %s (%s), session %s\n\n",
		env.client.Provider().Name(), env.client.Provider().Model(), env.controller.SessionID())

	return env.drive(ctx, goal)
}

// Resume restores the latest checkpoint of a session and continues the run.
func Resume(ctx context.Context, sessionID string, opts Options) error {
	env, err := newEnv(opts)
	if err != nil {
		return err
	}
	defer env.close()

	snap, err := env.manager.Latest(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return fmt.Errorf("no checkpoints for session %q", sessionID)
		}
		return err
	}
	if err := env.controller.Resume(snap); err != nil {
		return err
	}

	fmt.Printf("Resuming session %s from iteration %d\n\n", sessionID, snap.Iteration)
	return env.drive(ctx, "")
}

// Sessions prints stored sessions.
func Sessions(ctx context.Context, opts Options) error {
	store, err := openSessionStore(dbPath(opts))
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := store.ListSessions(ctx)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("No stored sessions.")
		return nil
	}

	for _, s := range summaries {
		goal := s.Goal
		if len(goal) > 60 {
			goal = goal[:60] + "…"
		}
		fmt.Printf("%s  %-10s  %2d checkpoints  %s\n", s.SessionID, s.LastState, s.Checkpoints, goal)
	}
	return nil
}

// env bundles everything one run needs.
type env struct {
	settings     config.Settings
	client       *llm.Client
	controller   *agent.Controller
	manager      *session.Manager
	sessionStore session.Store
	sink         *agent.ChannelSink
	verbose      bool
}

func newEnv(opts Options) (*env, error) {
	settings, err := config.New(providerOrDefault(opts.Provider))
	if err != nil {
		return nil, err
	}
	if opts.MaxIter > 0 {
		settings.Loop.MaxIterations = opts.MaxIter
	}
	if opts.AutoApprove {
		settings.Approval.AutoApprove = true
	}
	if opts.DBPath != "" {
		settings.Session.DBPath = opts.DBPath
	}

	providerType, err := llm.ParseProviderType(settings.LLM.Provider)
	if err != nil {
		return nil, err
	}
	apiKey, err := config.APIKeyFor(settings.LLM.Provider)
	if err != nil {
		return nil, err
	}
	provider, err := providerType.
		Model(settings.LLM.Model).
		MaxTokens(settings.LLM.MaxTokens).
		Temperature(float32(settings.LLM.Temperature)).
		APIKey(apiKey)
	if err != nil {
		return nil, err
	}

	retry := llm.DefaultRetryConfig()
	retry.MaxAttempts = settings.LLM.MaxRetries
	client := llm.NewClient(provider).WithRetry(retry)

	registry := tools.WithDefaults(settings.Tools.Workdir)

	policy := approval.DefaultPolicy()
	policy.ConfirmTimeout = settings.Approval.ConfirmTimeout
	var confirm approval.ConfirmFunc = terminalConfirm
	if settings.Approval.AutoApprove {
		policy = approval.AutoApprovePolicy()
		confirm = nil
	}
	gate := approval.NewGate(policy, confirm)

	cfg := agent.DefaultConfig()
	cfg.MaxIterations = settings.Loop.MaxIterations
	cfg.Workers = settings.Loop.Workers
	cfg.DetectorWindow = settings.Loop.DetectorWindow
	cfg.DetectorThreshold = settings.Loop.DetectorThreshold
	cfg.Stream = settings.Loop.Stream

	registry.Register(agent.NewSpawnTool(client, registry, gate, cfg).
		WithMaxConcurrent(settings.Loop.MaxSubAgents))

	if err := registry.ValidateAll(); err != nil {
		return nil, fmt.Errorf("tool schema validation: %w", err)
	}

	sessionStore, err := openSessionStore(settings.Session.DBPath)
	if err != nil {
		return nil, err
	}
	manager := session.NewManager(sessionStore)

	store := history.NewStore(history.Config{
		TokenBudget:  settings.Context.TokenBudget,
		RecencyFloor: settings.Context.RecencyFloor,
	})

	sink := agent.NewChannelSink(256)
	executor := tools.NewExecutor(tools.Config{
		TimeoutSecs:    settings.Tools.TimeoutSecs,
		MaxRetries:     settings.Tools.MaxRetries,
		RetryBaseDelay: time.Duration(settings.Tools.RetryBaseMs) * time.Millisecond,
		RetryMaxDelay:  time.Duration(settings.Tools.RetryMaxMs) * time.Millisecond,
	}).WithWorkers(settings.Loop.Workers)

	controller := agent.New(cfg, client, registry, store).
		WithGate(gate).
		WithExecutor(executor).
		WithSink(sink).
		WithCheckpointer(manager)

	return &env{
		settings:     settings,
		client:       client,
		controller:   controller,
		manager:      manager,
		sessionStore: sessionStore,
		sink:         sink,
		verbose:      opts.Verbose,
	}, nil
}

func (e *env) close() {
	e.sessionStore.Close()
}

// drive runs the controller while rendering the observer feed.
func (e *env) drive(ctx context.Context, goal string) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.render()
	}()

	result, err := e.controller.Run(ctx, goal)
	e.sink.Close()
	wg.Wait()

	if err != nil {
		var abort *agent.AbortError
		if errors.As(err, &abort) {
			fmt.Fprintf(os.Stderr, "\nRun aborted (%s): %v\n", agent.ClassOf(err), abort.Cause)
			if abort.LastCheckpoint != "" {
				fmt.Fprintf(os.Stderr, "Resume with: steward resume %s\n", e.controller.SessionID())
			}
		}
		return err
	}

	// Streamed runs already printed the final content fragment by fragment.
	if !e.settings.Loop.Stream {
		fmt.Printf("%s\n", result.Final)
	}
	fmt.Printf("\n(%d iterations, %d tokens)\n", result.Iterations, result.Usage.TotalTokens)
	return nil
}

// render consumes the observer feed until the sink closes.
func (e *env) render() {
	for ev := range e.sink.Events() {
		switch ev.Kind {
		case agent.EventContentFragment:
			fmt.Print(ev.Fragment)
		case agent.EventToolCallStart:
			fmt.Printf("\n→ %s", ev.ToolName)
		case agent.EventToolCallEnd:
			fmt.Printf(" [%s]\n", ev.Status)
		case agent.EventCorrectiveIssued:
			fmt.Printf("\n(course correction: %s)\n", ev.Reason)
		case agent.EventStateTransition:
			if e.verbose {
				fmt.Printf("\n  %s → %s (iteration %d)\n", ev.From, ev.To, ev.Iteration)
			}
		case agent.EventCheckpointWritten:
			if e.verbose {
				fmt.Printf("  checkpoint %s\n", ev.CheckpointID)
			}
		}
	}
}

// terminalConfirm asks on stdin. An unanswered prompt is denied when the
// gate's confirmation window closes.
func terminalConfirm(ctx context.Context, req approval.Request) (bool, error) {
	fmt.Printf("\nApprove %s call %s with args %s? [y/N] ", req.Risk, req.Call.Name, string(req.Call.Args))

	answer := make(chan string, 1)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		answer <- strings.TrimSpace(strings.ToLower(line))
	}()

	select {
	case line := <-answer:
		return line == "y" || line == "yes", nil
	case <-ctx.Done():
		fmt.Println("\n(confirmation timed out, denying)")
		return false, ctx.Err()
	}
}

func openSessionStore(path string) (session.Store, error) {
	if path == "" {
		return session.NewMemoryStore(), nil
	}
	return session.OpenSqlite(path)
}

// dbPath resolves the checkpoint database path for commands that do not
// load full settings. Flag wins over environment.
func dbPath(opts Options) string {
	if opts.DBPath != "" {
		return opts.DBPath
	}
	return os.Getenv("STEWARD_DB")
}

func providerOrDefault(provider string) string {
	if provider != "" {
		return provider
	}
	if env := os.Getenv("STEWARD_PROVIDER"); env != "" {
		return env
	}
	return "anthropic"
}

// SetupLogging configures slog for CLI runs. Verbose enables debug level.
func SetupLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
