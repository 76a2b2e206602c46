// Grep Tool - Fast repository search via ripgrep.
//
// Information Hiding:
// - Ripgrep command construction hidden
// - Output parsing abstracted
// - Error handling internalized

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

// GrepTool provides fast file searching via ripgrep.
type GrepTool struct {
	BaseTool
	timeoutSecs       uint64
	workdir           string
	defaultMaxResults int
}

// NewGrepTool creates a new grep tool with the given timeout and working directory.
func NewGrepTool(timeoutSecs uint64, workdir string) *GrepTool {
	return &GrepTool{
		BaseTool: BaseTool{meta: Metadata{
			Name:        "grep",
			Description: "Search file contents using ripgrep (rg)",
			Risk:        model.RiskReadOnly,
			Parameters: []Parameter{
				{Name: "pattern", ParamType: "string", Description: "The search pattern (regular expression)", Required: true},
				{Name: "path", ParamType: "string", Description: "Path to search in (default: working directory)", Required: false},
				{Name: "glob", ParamType: "array", Description: "Glob patterns to filter files", Required: false},
				{Name: "case_sensitive", ParamType: "boolean", Description: "Case sensitive search (default: true)", Required: false},
				{Name: "fixed_strings", ParamType: "boolean", Description: "Treat pattern as literal string", Required: false},
				{Name: "max_results", ParamType: "integer", Description: "Maximum number of matching lines", Required: false},
				{Name: "context", ParamType: "integer", Description: "Lines of context around matches (-C flag)", Required: false},
			},
		}},
		timeoutSecs:       timeoutSecs,
		workdir:           workdir,
		defaultMaxResults: 200,
	}
}

// WithMaxResults sets the default maximum results.
func (t *GrepTool) WithMaxResults(max int) *GrepTool {
	t.defaultMaxResults = max
	return t
}

type grepArgs struct {
	Pattern       string   `json:"pattern"`
	Path          string   `json:"path"`
	Glob          []string `json:"glob"`
	CaseSensitive *bool    `json:"case_sensitive"`
	FixedStrings  *bool    `json:"fixed_strings"`
	MaxResults    *int     `json:"max_results"`
	Context       *int     `json:"context"`
}

// Validate extends schema validation with a non-blank pattern check.
func (t *GrepTool) Validate(args json.RawMessage) error {
	if err := t.BaseTool.Validate(args); err != nil {
		return err
	}
	var a grepArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(a.Pattern) == "" {
		return fmt.Errorf("validation failed: pattern cannot be empty")
	}
	return nil
}

// Execute runs the search.
func (t *GrepTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var a grepArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}

	if strings.TrimSpace(a.Pattern) == "" {
		return FailureResultf("pattern cannot be empty"), nil
	}

	rgArgs := []string{"--no-messages", "--color=never", "--line-number"}

	if a.Context != nil && *a.Context > 0 {
		rgArgs = append(rgArgs, "-C", fmt.Sprintf("%d", *a.Context))
	}

	maxCount := t.defaultMaxResults
	if a.MaxResults != nil && *a.MaxResults > 0 {
		maxCount = *a.MaxResults
	}
	if maxCount > 0 {
		rgArgs = append(rgArgs, "--max-count", fmt.Sprintf("%d", maxCount))
	}

	if a.CaseSensitive != nil && !*a.CaseSensitive {
		rgArgs = append(rgArgs, "-i")
	}

	if a.FixedStrings != nil && *a.FixedStrings {
		rgArgs = append(rgArgs, "-F")
	}

	for _, g := range a.Glob {
		if strings.TrimSpace(g) != "" {
			rgArgs = append(rgArgs, "-g", g)
		}
	}

	searchPath := a.Path
	if searchPath == "" {
		searchPath = t.workdir
	}
	if searchPath == "" {
		searchPath = "."
	}

	rgArgs = append(rgArgs, "--", a.Pattern, searchPath)

	timeout := time.Duration(t.timeoutSecs) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "rg", rgArgs...)
	output, err := cmd.CombinedOutput()

	if ctx.Err() == context.DeadlineExceeded {
		return FailureResultf("rg timed out after %d seconds", t.timeoutSecs), nil
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			// rg returns exit code 1 when no matches are found
			if exitErr.ExitCode() == 1 {
				return SuccessResult("No matches found."), nil
			}
			return FailureResultf("rg failed with exit code %d\noutput: %s", exitErr.ExitCode(), string(output)), nil
		}
		return FailureResult(fmt.Errorf("failed to execute rg: %w", err)), nil
	}

	return SuccessResult(string(output)), nil
}

var _ Tool = (*GrepTool)(nil)
