// Filesystem Tools - Read, Write, Edit, ListDir operations.
//
// Information Hiding:
// - File I/O implementation details hidden
// - Path validation and security checks hidden
// - Error handling for file operations abstracted

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"steward/model"
)

// ReadFileTool reads file contents.
type ReadFileTool struct {
	BaseTool
	allowedPaths []string
	maxSizeBytes int64
}

// NewReadFileTool creates a new read file tool.
func NewReadFileTool(maxSizeBytes int64) *ReadFileTool {
	return &ReadFileTool{
		BaseTool: BaseTool{meta: Metadata{
			Name:        "read_file",
			Description: "Read the contents of a file from the filesystem",
			Risk:        model.RiskReadOnly,
			Parameters: []Parameter{
				{Name: "path", ParamType: "string", Description: "Path to the file to read", Required: true},
			},
		}},
		maxSizeBytes: maxSizeBytes,
	}
}

// WithAllowedPaths sets the allowed path prefixes.
func (t *ReadFileTool) WithAllowedPaths(paths []string) *ReadFileTool {
	t.allowedPaths = paths
	return t
}

type readFileArgs struct {
	Path string `json:"path"`
}

// Execute reads the file.
func (t *ReadFileTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var a readFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}

	if a.Path == "" {
		return FailureResultf("path cannot be empty"), nil
	}

	if !pathAllowed(a.Path, t.allowedPaths) {
		return FailureResultf("access to path '%s' is not allowed", a.Path), nil
	}

	info, err := os.Stat(a.Path)
	if os.IsNotExist(err) {
		return FailureResultf("file does not exist: %s", a.Path), nil
	}
	if err != nil {
		return FailureResult(fmt.Errorf("failed to read file metadata: %w", err)), nil
	}

	if info.Size() > t.maxSizeBytes {
		return FailureResultf("file too large: %d bytes (max: %d bytes)", info.Size(), t.maxSizeBytes), nil
	}

	content, err := os.ReadFile(a.Path)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to read file: %w", err)), nil
	}

	return SuccessResult(string(content)), nil
}

// WriteFileTool writes content to a file.
type WriteFileTool struct {
	BaseTool
	allowedPaths []string
	maxSizeBytes int64
}

// NewWriteFileTool creates a new write file tool.
func NewWriteFileTool(maxSizeBytes int64) *WriteFileTool {
	return &WriteFileTool{
		BaseTool: BaseTool{meta: Metadata{
			Name:        "write_file",
			Description: "Write content to a file on the filesystem",
			Risk:        model.RiskMutating,
			Parameters: []Parameter{
				{Name: "path", ParamType: "string", Description: "Path to the file to write", Required: true},
				{Name: "content", ParamType: "string", Description: "Content to write", Required: true},
			},
		}},
		maxSizeBytes: maxSizeBytes,
	}
}

// WithAllowedPaths sets the allowed path prefixes.
func (t *WriteFileTool) WithAllowedPaths(paths []string) *WriteFileTool {
	t.allowedPaths = paths
	return t
}

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Resource names the file a call touches, for conflict serialization.
func (t *WriteFileTool) Resource(args json.RawMessage) string {
	var a writeFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return ""
	}
	return normalizePath(a.Path)
}

// Execute writes to the file.
func (t *WriteFileTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var a writeFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}

	if a.Path == "" {
		return FailureResultf("path cannot be empty"), nil
	}

	if int64(len(a.Content)) > t.maxSizeBytes {
		return FailureResultf("content too large: %d bytes (max: %d bytes)", len(a.Content), t.maxSizeBytes), nil
	}

	if !pathAllowedForWrite(a.Path, t.allowedPaths) {
		return FailureResultf("access to path '%s' is not allowed", a.Path), nil
	}

	if err := os.MkdirAll(filepath.Dir(a.Path), 0755); err != nil {
		return FailureResult(fmt.Errorf("failed to create directory: %w", err)), nil
	}

	if err := os.WriteFile(a.Path, []byte(a.Content), 0644); err != nil {
		return FailureResult(fmt.Errorf("failed to write file: %w", err)), nil
	}

	return SuccessResult(fmt.Sprintf("Successfully wrote %d bytes to %s", len(a.Content), a.Path)), nil
}

// EditFileTool performs search/replace operations on files.
type EditFileTool struct {
	BaseTool
	allowedPaths []string
	maxSizeBytes int64
}

// NewEditFileTool creates a new edit file tool.
func NewEditFileTool(maxSizeBytes int64) *EditFileTool {
	return &EditFileTool{
		BaseTool: BaseTool{meta: Metadata{
			Name:        "edit_file",
			Description: "Edit a file by replacing a target string with new content",
			Risk:        model.RiskMutating,
			Parameters: []Parameter{
				{Name: "path", ParamType: "string", Description: "Path to the file to edit", Required: true},
				{Name: "search", ParamType: "string", Description: "String to search for", Required: true},
				{Name: "replace", ParamType: "string", Description: "Replacement string", Required: true},
				{Name: "replace_all", ParamType: "boolean", Description: "Replace all occurrences (default: false)", Required: false},
			},
		}},
		maxSizeBytes: maxSizeBytes,
	}
}

// WithAllowedPaths sets the allowed path prefixes.
func (t *EditFileTool) WithAllowedPaths(paths []string) *EditFileTool {
	t.allowedPaths = paths
	return t
}

type editFileArgs struct {
	Path       string `json:"path"`
	Search     string `json:"search"`
	Replace    string `json:"replace"`
	ReplaceAll *bool  `json:"replace_all"`
}

// Resource names the file a call touches, for conflict serialization.
func (t *EditFileTool) Resource(args json.RawMessage) string {
	var a editFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return ""
	}
	return normalizePath(a.Path)
}

// Validate extends schema validation with a non-empty search check.
func (t *EditFileTool) Validate(args json.RawMessage) error {
	if err := t.BaseTool.Validate(args); err != nil {
		return err
	}
	var a editFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if a.Search == "" {
		return fmt.Errorf("validation failed: search string cannot be empty")
	}
	return nil
}

// Execute performs the edit.
func (t *EditFileTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var a editFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}

	if a.Path == "" {
		return FailureResultf("path cannot be empty"), nil
	}
	if a.Search == "" {
		return FailureResultf("search string cannot be empty"), nil
	}

	if !pathAllowedForWrite(a.Path, t.allowedPaths) {
		return FailureResultf("access to path '%s' is not allowed", a.Path), nil
	}

	if _, err := os.Stat(a.Path); os.IsNotExist(err) {
		return FailureResultf("file does not exist: %s", a.Path), nil
	}

	content, err := os.ReadFile(a.Path)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to read file: %w", err)), nil
	}

	if int64(len(content)) > t.maxSizeBytes {
		return FailureResultf("file too large: %d bytes (max: %d bytes)", len(content), t.maxSizeBytes), nil
	}

	contentStr := string(content)
	occurrences := strings.Count(contentStr, a.Search)

	if occurrences == 0 {
		return FailureResultf("search string not found"), nil
	}

	replaceAll := a.ReplaceAll != nil && *a.ReplaceAll
	if !replaceAll && occurrences > 1 {
		return FailureResultf("search string occurs %d times; set replace_all=true to replace all", occurrences), nil
	}

	var updated string
	if replaceAll {
		updated = strings.ReplaceAll(contentStr, a.Search, a.Replace)
	} else {
		updated = strings.Replace(contentStr, a.Search, a.Replace, 1)
	}

	if int64(len(updated)) > t.maxSizeBytes {
		return FailureResultf("updated content too large: %d bytes (max: %d bytes)", len(updated), t.maxSizeBytes), nil
	}

	if err := os.WriteFile(a.Path, []byte(updated), 0644); err != nil {
		return FailureResult(fmt.Errorf("failed to write file: %w", err)), nil
	}

	replacedCount := 1
	if replaceAll {
		replacedCount = occurrences
	}

	return SuccessResult(fmt.Sprintf("Replaced %d occurrence(s) in %s", replacedCount, a.Path)), nil
}

// ListDirTool lists directory entries.
type ListDirTool struct {
	BaseTool
	allowedPaths []string
}

// NewListDirTool creates a new list directory tool.
func NewListDirTool() *ListDirTool {
	return &ListDirTool{
		BaseTool: BaseTool{meta: Metadata{
			Name:        "list_dir",
			Description: "List the entries of a directory",
			Risk:        model.RiskReadOnly,
			Parameters: []Parameter{
				{Name: "path", ParamType: "string", Description: "Path to the directory to list (default: current directory)", Required: false},
			},
		}},
	}
}

// WithAllowedPaths sets the allowed path prefixes.
func (t *ListDirTool) WithAllowedPaths(paths []string) *ListDirTool {
	t.allowedPaths = paths
	return t
}

type listDirArgs struct {
	Path string `json:"path"`
}

// Execute lists the directory.
func (t *ListDirTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var a listDirArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
		}
	}
	if a.Path == "" {
		a.Path = "."
	}

	if !pathAllowed(a.Path, t.allowedPaths) {
		return FailureResultf("access to path '%s' is not allowed", a.Path), nil
	}

	entries, err := os.ReadDir(a.Path)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to read directory: %w", err)), nil
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		lines = append(lines, name)
	}
	sort.Strings(lines)

	if len(lines) == 0 {
		return SuccessResult("(empty directory)"), nil
	}
	return SuccessResult(strings.Join(lines, "\n")), nil
}

// normalizePath resolves a path to absolute form for resource comparison.
func normalizePath(path string) string {
	if path == "" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

var (
	_ Tool           = (*ReadFileTool)(nil)
	_ Tool           = (*WriteFileTool)(nil)
	_ Tool           = (*EditFileTool)(nil)
	_ Tool           = (*ListDirTool)(nil)
	_ ResourceHinter = (*WriteFileTool)(nil)
	_ ResourceHinter = (*EditFileTool)(nil)
)
