// Package tools provides the tool system for the agent runtime.
//
// Information Hiding:
// - Tool execution details hidden behind interface
// - Tool parameters and schemas hidden in implementations
// - Registry implementation details hidden from consumers
// - Error handling internalized per tool
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"steward/model"
)

// Parameter defines a parameter schema for a tool.
type Parameter struct {
	Name        string `json:"name"`
	ParamType   string `json:"param_type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Metadata describes what a tool does, how to call it, and how risky it is.
type Metadata struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Risk        model.Risk  `json:"risk"`
}

// String returns a string representation of the tool metadata.
func (m Metadata) String() string {
	return fmt.Sprintf("%s: %s", m.Name, m.Description)
}

// Schema builds the JSON Schema object for the tool's parameters.
func (m Metadata) Schema() map[string]interface{} {
	properties := make(map[string]interface{}, len(m.Parameters))
	var required []string
	for _, p := range m.Parameters {
		properties[p.Name] = map[string]interface{}{
			"type":        p.ParamType,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Result represents the raw result of a tool execution.
// Success is determined by whether Error is nil.
type Result struct {
	Output string `json:"output"`
	Error  error  `json:"-"`
}

// MarshalJSON implements custom JSON marshaling for Result.
func (t Result) MarshalJSON() ([]byte, error) {
	if t.Error != nil {
		return json.Marshal(struct {
			Success bool   `json:"success"`
			Output  string `json:"output"`
			Error   string `json:"error"`
		}{
			Success: false,
			Output:  t.Output,
			Error:   t.Error.Error(),
		})
	}
	return json.Marshal(struct {
		Success bool   `json:"success"`
		Output  string `json:"output"`
	}{
		Success: true,
		Output:  t.Output,
	})
}

// Success returns true if the tool execution succeeded.
func (t Result) Success() bool {
	return t.Error == nil
}

// SuccessResult creates a successful tool result.
func SuccessResult(output string) Result {
	return Result{Output: output}
}

// FailureResult creates a failed tool result.
func FailureResult(err error) Result {
	return Result{Error: err}
}

// FailureResultf creates a failed tool result with a formatted error message.
func FailureResultf(format string, args ...interface{}) Result {
	return Result{Error: fmt.Errorf(format, args...)}
}

// Tool is the interface that all tools must implement.
//
// Information Hiding: Tool implementations hide their internal execution logic,
// data structures, and error handling strategies behind this interface.
type Tool interface {
	// Metadata returns tool metadata (name, description, parameters, risk).
	Metadata() Metadata

	// Execute runs the tool with given arguments.
	Execute(ctx context.Context, args json.RawMessage) (Result, error)

	// Validate validates arguments against the schema before execution.
	Validate(args json.RawMessage) error
}

// ResourceHinter is implemented by tools that can name the resource a call
// touches (usually a file path). The executor serializes mutating calls that
// share a resource; a mutating call with no hint serializes against all
// other mutating calls.
type ResourceHinter interface {
	Resource(args json.RawMessage) string
}

// BaseTool provides schema-driven argument validation shared by every tool.
// Embedders supply their Metadata via the meta field.
type BaseTool struct {
	meta Metadata
}

// NewBaseTool creates a BaseTool for embedding by tools defined outside
// this package.
func NewBaseTool(meta Metadata) BaseTool {
	return BaseTool{meta: meta}
}

// Metadata returns the tool metadata.
func (b *BaseTool) Metadata() Metadata {
	return b.meta
}

// Validate checks args against the parameter schema: well-formed JSON object,
// all required parameters present, declared types respected.
func (b *BaseTool) Validate(args json.RawMessage) error {
	var parsed map[string]json.RawMessage
	if len(args) == 0 {
		parsed = map[string]json.RawMessage{}
	} else if err := json.Unmarshal(args, &parsed); err != nil {
		return fmt.Errorf("validation failed: arguments are not a JSON object: %w", err)
	}

	for _, p := range b.meta.Parameters {
		raw, present := parsed[p.Name]
		if !present {
			if p.Required {
				return fmt.Errorf("validation failed: missing required parameter '%s'", p.Name)
			}
			continue
		}
		if err := checkParamType(p, raw); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}
	return nil
}

// validParamTypes are the JSON Schema primitive types a parameter may declare.
var validParamTypes = map[string]bool{
	"string":  true,
	"integer": true,
	"number":  true,
	"boolean": true,
	"array":   true,
	"object":  true,
}

func checkParamType(p Parameter, raw json.RawMessage) error {
	var ok bool
	switch p.ParamType {
	case "string":
		var v string
		ok = json.Unmarshal(raw, &v) == nil
	case "integer":
		var v int64
		ok = json.Unmarshal(raw, &v) == nil
	case "number":
		var v float64
		ok = json.Unmarshal(raw, &v) == nil
	case "boolean":
		var v bool
		ok = json.Unmarshal(raw, &v) == nil
	case "array":
		var v []json.RawMessage
		ok = json.Unmarshal(raw, &v) == nil
	case "object":
		var v map[string]json.RawMessage
		ok = json.Unmarshal(raw, &v) == nil
	default:
		return fmt.Errorf("parameter '%s' declares unknown type %q", p.Name, p.ParamType)
	}
	if !ok {
		return fmt.Errorf("parameter '%s' must be %s", p.Name, p.ParamType)
	}
	return nil
}

// Config holds tool execution configuration.
// The zero value is safe: timeout defaults to 30s, retries to 3, backoff to
// 100ms base with a 5s cap, and sandboxing is enabled.
type Config struct {
	TimeoutSecs    uint64
	MaxRetries     uint32
	RetryBaseDelay time.Duration // delay before the first retry
	RetryMaxDelay  time.Duration // backoff cap
	NoSandbox      bool          // Default false = sandboxed (safe by default)
}

// Timeout returns the configured timeout, defaulting to 30 seconds if zero.
func (c *Config) Timeout() uint64 {
	if c == nil || c.TimeoutSecs == 0 {
		return 30
	}
	return c.TimeoutSecs
}

// Retries returns the configured max retries, defaulting to 3 if zero.
func (c *Config) Retries() uint32 {
	if c == nil || c.MaxRetries == 0 {
		return 3
	}
	return c.MaxRetries
}

// RetryBase returns the base backoff delay, defaulting to 100 milliseconds.
func (c *Config) RetryBase() time.Duration {
	if c == nil || c.RetryBaseDelay <= 0 {
		return 100 * time.Millisecond
	}
	return c.RetryBaseDelay
}

// RetryCap returns the backoff cap, defaulting to 5 seconds.
func (c *Config) RetryCap() time.Duration {
	if c == nil || c.RetryMaxDelay <= 0 {
		return 5 * time.Second
	}
	return c.RetryMaxDelay
}

// Sandboxed returns true if sandboxing is enabled (default).
func (c *Config) Sandboxed() bool {
	if c == nil {
		return true
	}
	return !c.NoSandbox
}

// DefaultConfig returns the default tool configuration.
func DefaultConfig() Config {
	return Config{
		TimeoutSecs:    30,
		MaxRetries:     3,
		RetryBaseDelay: 100 * time.Millisecond,
		RetryMaxDelay:  5 * time.Second,
		NoSandbox:      false,
	}
}

// pathAllowed checks if a path is within the allowed paths.
// If allowedPaths is empty, all paths are allowed.
func pathAllowed(path string, allowedPaths []string) bool {
	if len(allowedPaths) == 0 {
		return true
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, allowed := range allowedPaths {
		allowedAbs, err := filepath.Abs(allowed)
		if err != nil {
			continue
		}
		if strings.HasPrefix(absPath, allowedAbs) {
			return true
		}
	}
	return false
}

// pathAllowedForWrite checks if a path's parent directory is within allowed paths.
// Used for write operations where the file may not exist yet.
func pathAllowedForWrite(path string, allowedPaths []string) bool {
	if len(allowedPaths) == 0 {
		return true
	}
	parent := filepath.Dir(path)
	absParent, err := filepath.Abs(parent)
	if err != nil {
		return false
	}
	for _, allowed := range allowedPaths {
		allowedAbs, err := filepath.Abs(allowed)
		if err != nil {
			continue
		}
		if strings.HasPrefix(absParent, allowedAbs) {
			return true
		}
	}
	return false
}
