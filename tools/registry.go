// Package tools provides tool management and registration.
//
// Information Hiding:
// - Tool storage and lookup implementation hidden
// - Tool lifecycle management hidden
// - Registration and discovery mechanisms abstracted

package tools

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"steward/llm"
	"steward/model"
)

// Registry manages available tools with dynamic registration.
// Registering a name that already exists replaces the previous tool;
// the replacement is logged.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *slog.Logger
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		logger: slog.Default(),
	}
}

// WithLogger overrides the registry logger.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a tool to the registry. If a tool with the same name is
// already registered, the new tool replaces it.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Metadata().Name
	if _, exists := r.tools[name]; exists {
		r.logger.Warn("tool replaced", "tool", name)
	}
	r.tools[name] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	return tool, exists
}

// Has checks if a tool exists in the registry.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.tools[name]
	return exists
}

// Names returns all registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns metadata for all registered tools, sorted by name.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metadata := make([]Metadata, 0, len(r.tools))
	for _, tool := range r.tools {
		metadata = append(metadata, tool.Metadata())
	}
	sort.Slice(metadata, func(i, j int) bool { return metadata[i].Name < metadata[j].Name })
	return metadata
}

// Definitions returns tool definitions in the provider wire format,
// sorted by name for stable prompts.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0)
	for _, meta := range r.List() {
		defs = append(defs, llm.ToolDefinition{
			Name:        meta.Name,
			Description: meta.Description,
			Parameters:  meta.Schema(),
		})
	}
	return defs
}

// Filtered returns a new registry containing only the named tools.
// Unknown names are skipped. Used to narrow the tool surface for sub-agents.
func (r *Registry) Filtered(names []string) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := NewRegistry().WithLogger(r.logger)
	for _, name := range names {
		if tool, ok := r.tools[name]; ok {
			out.tools[name] = tool
		}
	}
	return out
}

// ValidateAll checks every registered tool's schema for well-formedness:
// non-empty tool and parameter names, known parameter types. Run at startup
// so a malformed schema fails fast instead of surfacing at dispatch time.
func (r *Registry) ValidateAll() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, tool := range r.tools {
		meta := tool.Metadata()
		if strings.TrimSpace(meta.Name) == "" {
			return fmt.Errorf("tool registered as %q has an empty name", name)
		}
		for _, p := range meta.Parameters {
			if strings.TrimSpace(p.Name) == "" {
				return fmt.Errorf("tool '%s' declares a parameter with an empty name", meta.Name)
			}
			if !validParamTypes[p.ParamType] {
				return fmt.Errorf("tool '%s' parameter '%s' declares unknown type %q",
					meta.Name, p.Name, p.ParamType)
			}
		}
	}
	return nil
}

// Description returns a formatted description of all tools for prompts.
func (r *Registry) Description() string {
	var descriptions []string
	for _, meta := range r.List() {
		var params []string
		for _, p := range meta.Parameters {
			required := "optional"
			if p.Required {
				required = "required"
			}
			params = append(params, fmt.Sprintf("  - %s (%s): %s [%s]",
				p.Name, p.ParamType, p.Description, required))
		}

		paramStr := strings.Join(params, "\n")
		descriptions = append(descriptions, fmt.Sprintf(
			"Tool: %s\nDescription: %s\nRisk: %s\nParameters:\n%s",
			meta.Name, meta.Description, meta.Risk, paramStr))
	}

	return strings.Join(descriptions, "\n\n")
}

// Risk reports the risk class of the named tool. Unknown tools are treated
// as destructive so that policy errs on the side of confirmation.
func (r *Registry) Risk(name string) model.Risk {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if tool, ok := r.tools[name]; ok {
		return tool.Metadata().Risk
	}
	return model.RiskDestructive
}

// Default timeout and file size constants for tools.
const (
	DefaultToolTimeout = 30          // seconds
	DefaultMaxFileSize = 1024 * 1024 // 1MB
)

// WithDefaults creates a registry with the built-in tool set.
func WithDefaults(workdir string) *Registry {
	registry := NewRegistry()

	defaults := []Tool{
		NewShellTool(DefaultToolTimeout, workdir),
		NewReadFileTool(DefaultMaxFileSize),
		NewWriteFileTool(DefaultMaxFileSize),
		NewEditFileTool(DefaultMaxFileSize),
		NewListDirTool(),
		NewGlobTool(workdir),
		NewGrepTool(DefaultToolTimeout, workdir),
		NewHTTPTool(DefaultToolTimeout),
	}

	for _, t := range defaults {
		registry.Register(t)
	}

	return registry
}
