// Failure taxonomy for the control loop.
//
// Almost every failure is an observation the loop feeds back into planning.
// Only stuck loops, fatal provider errors, iteration-limit overruns, and
// cancellation terminate a run.

package agent

import (
	"errors"
	"fmt"
)

// Terminal failure classes. Everything else is recoverable.
var (
	// ErrStuckLoop means repeated stagnation survived a corrective directive.
	ErrStuckLoop = errors.New("stuck loop")
	// ErrIterationLimit means the configured hard iteration cap was reached.
	ErrIterationLimit = errors.New("iteration limit exceeded")
	// ErrFatalProvider means the inference provider failed in a way retry
	// cannot fix (invalid request, exhausted retries).
	ErrFatalProvider = errors.New("fatal provider error")
	// ErrCancelled means a user or operator cancellation was observed at a
	// state boundary.
	ErrCancelled = errors.New("run cancelled")
)

// AbortError is what an aborted run surfaces: the failure class, the
// underlying cause, and the last checkpoint id so the run can be inspected
// or resumed with adjusted policy.
type AbortError struct {
	Class          error
	Cause          error
	LastCheckpoint string
}

// Error implements error.
func (e *AbortError) Error() string {
	msg := fmt.Sprintf("run aborted: %v", e.Class)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.LastCheckpoint != "" {
		msg += fmt.Sprintf(" (last checkpoint: %s)", e.LastCheckpoint)
	}
	return msg
}

// Unwrap exposes the failure class for errors.Is.
func (e *AbortError) Unwrap() error {
	return e.Class
}

// FailureClass names every failure category the loop distinguishes. Most
// classes are recoverable observations; only the aborting ones end a run.
type FailureClass string

const (
	FailureTransportTransient FailureClass = "transport-transient"
	FailureToolReported       FailureClass = "tool-reported"
	FailureSchemaValidation   FailureClass = "schema-validation"
	FailurePolicyDenied       FailureClass = "policy-denied"
	FailureStuckLoop          FailureClass = "stuck-loop"
	FailureFatalProvider      FailureClass = "fatal-provider"
	FailureIterationLimit     FailureClass = "iteration-limit"
	FailureCancelled          FailureClass = "cancelled"
)

// Aborting reports whether the class terminates a run.
func (c FailureClass) Aborting() bool {
	switch c {
	case FailureStuckLoop, FailureFatalProvider, FailureIterationLimit, FailureCancelled:
		return true
	default:
		return false
	}
}

// ClassOf maps a run error to its failure class. Errors that are not abort
// sentinels classify as fatal-provider, the conservative aborting default.
func ClassOf(err error) FailureClass {
	switch {
	case errors.Is(err, ErrStuckLoop):
		return FailureStuckLoop
	case errors.Is(err, ErrIterationLimit):
		return FailureIterationLimit
	case errors.Is(err, ErrCancelled):
		return FailureCancelled
	default:
		return FailureFatalProvider
	}
}
