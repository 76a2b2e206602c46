// Tool Executor with retry, per-call deadlines, and a bounded worker pool.
//
// Information Hiding:
// - Retry strategy implementation hidden
// - Backoff algorithm hidden
// - Error classification logic hidden
// - Conflict serialization for mutating calls hidden

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"steward/model"
)

// DefaultWorkers bounds how many tool calls from one batch run concurrently.
const DefaultWorkers = 4

// Executor provides tool execution with retry and timeout support.
// Batches run on a bounded worker pool; read-only calls run concurrently
// while mutating calls that touch the same resource are serialized. A
// mutating call whose resource cannot be determined serializes against
// every other mutating call in the batch.
type Executor struct {
	config  Config
	workers int
	logger  *slog.Logger
}

// NewExecutor creates a new tool executor with the given configuration.
func NewExecutor(config Config) *Executor {
	return &Executor{
		config:  config,
		workers: DefaultWorkers,
		logger:  slog.Default(),
	}
}

// NewDefaultExecutor creates an executor with default configuration.
func NewDefaultExecutor() *Executor {
	return NewExecutor(DefaultConfig())
}

// WithWorkers sets the worker pool size.
func (e *Executor) WithWorkers(n int) *Executor {
	if n > 0 {
		e.workers = n
	}
	return e
}

// WithLogger overrides the logger.
func (e *Executor) WithLogger(logger *slog.Logger) *Executor {
	e.logger = logger
	return e
}

// ExecuteBatch runs every call in the batch and returns one result per call,
// in call order. Every call gets a result regardless of outcome: schema
// violations and unknown tools become error results, deadline overruns become
// timed-out results. The batch does not stop on individual failures.
func (e *Executor) ExecuteBatch(ctx context.Context, registry *Registry, calls []model.ToolCall) []model.ToolResult {
	results := make([]model.ToolResult, len(calls))

	sem := make(chan struct{}, e.workers)
	locks := newResourceLocks()
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call model.ToolCall) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = e.executeCall(ctx, registry, locks, call)
		}(i, call)
	}

	wg.Wait()
	return results
}

func (e *Executor) executeCall(ctx context.Context, registry *Registry, locks *resourceLocks, call model.ToolCall) model.ToolResult {
	tool, ok := registry.Get(call.Name)
	if !ok {
		return model.ErrorResult(call.ID, fmt.Sprintf("unknown tool: %s", call.Name))
	}

	if err := tool.Validate(call.Args); err != nil {
		return model.ErrorResult(call.ID, err.Error())
	}

	if tool.Metadata().Risk != model.RiskReadOnly {
		unlock := locks.acquire(resourceHint(tool, call.Args))
		defer unlock()
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(e.config.Timeout())*time.Second)
	defer cancel()

	start := time.Now()
	result, err := e.Execute(callCtx, tool, call.Args)
	elapsed := time.Since(start)

	e.logger.Debug("tool call finished",
		"tool", call.Name,
		"call_id", call.ID,
		"elapsed", elapsed,
		"ok", err == nil && result.Success(),
	)

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return model.TimedOutResult(call.ID, e.config.Timeout())
	case err != nil:
		return model.ErrorResult(call.ID, err.Error())
	case !result.Success():
		return model.ErrorResult(call.ID, result.Error.Error())
	default:
		return model.OKResult(call.ID, result.Output)
	}
}

// resourceHint asks the tool which resource a call touches; empty means unknown.
func resourceHint(tool Tool, args json.RawMessage) string {
	if h, ok := tool.(ResourceHinter); ok {
		return h.Resource(args)
	}
	return ""
}

// resourceLocks serializes mutating calls. A named resource takes a shared
// hold on the global lock plus an exclusive hold on its own mutex, so calls
// on distinct resources still run in parallel. An unknown resource takes the
// global lock exclusively and therefore excludes all other mutating calls.
type resourceLocks struct {
	global sync.RWMutex
	mu     sync.Mutex
	byName map[string]*sync.Mutex
}

func newResourceLocks() *resourceLocks {
	return &resourceLocks{byName: make(map[string]*sync.Mutex)}
}

func (l *resourceLocks) acquire(resource string) (unlock func()) {
	if resource == "" {
		l.global.Lock()
		return l.global.Unlock
	}

	l.mu.Lock()
	m, ok := l.byName[resource]
	if !ok {
		m = &sync.Mutex{}
		l.byName[resource] = m
	}
	l.mu.Unlock()

	l.global.RLock()
	m.Lock()
	return func() {
		m.Unlock()
		l.global.RUnlock()
	}
}

// Execute runs a single tool with retry logic.
func (e *Executor) Execute(ctx context.Context, tool Tool, args json.RawMessage) (Result, error) {
	var lastErr error
	toolName := tool.Metadata().Name
	maxRetries := e.config.Retries()

	for attempt := uint32(0); attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := e.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := tool.Execute(ctx, args)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			lastErr = err
			continue
		}

		if result.Success() {
			return result, nil
		}

		if !e.shouldRetry(result) {
			return result, nil
		}

		lastErr = result.Error
	}

	errMsg := "unknown error"
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	return FailureResultf("tool '%s' failed after %d attempts: %s", toolName, maxRetries, errMsg), nil
}

// calculateBackoff returns exponential backoff with jitter for the given
// attempt. Base delay and cap come from the executor config.
func (e *Executor) calculateBackoff(attempt uint32) time.Duration {
	delay := e.config.RetryBase()
	limit := e.config.RetryCap()
	for i := uint32(1); i < attempt; i++ {
		delay *= 2
		if delay >= limit {
			delay = limit
			break
		}
	}
	// Up to 25% jitter to avoid synchronized retries
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

// shouldRetry determines if a failed result is retryable.
func (e *Executor) shouldRetry(result Result) bool {
	if result.Error == nil {
		return true
	}

	errLower := strings.ToLower(result.Error.Error())

	// Don't retry validation errors or permission issues
	nonRetryable := []string{"validation", "not allowed", "permission", "empty", "no such file", "not found"}
	for _, s := range nonRetryable {
		if strings.Contains(errLower, s) {
			return false
		}
	}

	// Always retry timeouts and network errors
	retryable := []string{"timeout", "connection", "network"}
	for _, s := range retryable {
		if strings.Contains(errLower, s) {
			return true
		}
	}

	return false
}

// ExecuteOnce runs a tool once without retries, validating first.
func ExecuteOnce(ctx context.Context, tool Tool, args json.RawMessage) (Result, error) {
	if err := tool.Validate(args); err != nil {
		return FailureResult(err), nil
	}

	return tool.Execute(ctx, args)
}
