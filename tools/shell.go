// Shell Command Executor Tool.
//
// Information Hiding:
// - Shell execution details hidden
// - Command validation hidden
// - Output parsing abstracted

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"steward/model"
)

// ShellTool executes shell commands via sh -c. Classified destructive:
// arbitrary commands can delete files or touch anything reachable from the
// working directory, so policy requires confirmation unless configured
// otherwise.
type ShellTool struct {
	BaseTool
	timeoutSecs     uint64
	workdir         string
	allowedCommands []string
}

// NewShellTool creates a new shell tool with the given timeout and working directory.
func NewShellTool(timeoutSecs uint64, workdir string) *ShellTool {
	return &ShellTool{
		BaseTool: BaseTool{meta: Metadata{
			Name:        "run_shell",
			Description: "Execute a shell command and return its combined output",
			Risk:        model.RiskDestructive,
			Parameters: []Parameter{
				{Name: "command", ParamType: "string", Description: "The shell command to execute", Required: true},
				{Name: "cwd", ParamType: "string", Description: "Working directory (default: session working directory)", Required: false},
			},
		}},
		timeoutSecs: timeoutSecs,
		workdir:     workdir,
	}
}

// WithAllowedCommands sets the allowlist for base commands.
func (t *ShellTool) WithAllowedCommands(commands []string) *ShellTool {
	t.allowedCommands = commands
	return t
}

type shellArgs struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd"`
}

// Validate extends schema validation with a non-blank command check.
func (t *ShellTool) Validate(args json.RawMessage) error {
	if err := t.BaseTool.Validate(args); err != nil {
		return err
	}
	var a shellArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(a.Command) == "" {
		return fmt.Errorf("validation failed: command cannot be empty")
	}
	return nil
}

// Execute runs the shell command.
func (t *ShellTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var a shellArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}

	if strings.TrimSpace(a.Command) == "" {
		return FailureResultf("command cannot be empty"), nil
	}

	if !t.isCommandAllowed(a.Command) {
		return FailureResultf("command '%s' is not in the allowed list", a.Command), nil
	}

	timeout := time.Duration(t.timeoutSecs) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", a.Command)
	switch {
	case a.Cwd != "":
		cmd.Dir = a.Cwd
	case t.workdir != "":
		cmd.Dir = t.workdir
	}

	output, err := cmd.CombinedOutput()

	if ctx.Err() == context.DeadlineExceeded {
		return FailureResultf("command timed out after %d seconds", t.timeoutSecs), nil
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return FailureResultf("command failed with exit code %d\noutput: %s",
				exitErr.ExitCode(), string(output)), nil
		}
		return FailureResult(fmt.Errorf("failed to execute command: %w", err)), nil
	}

	return SuccessResult(string(output)), nil
}

// isCommandAllowed checks if the command's base word is in the allowlist.
func (t *ShellTool) isCommandAllowed(command string) bool {
	if len(t.allowedCommands) == 0 {
		return true
	}

	baseCmd := strings.Fields(command)
	if len(baseCmd) == 0 {
		return false
	}

	for _, allowed := range t.allowedCommands {
		if allowed == baseCmd[0] {
			return true
		}
	}
	return false
}

var _ Tool = (*ShellTool)(nil)
