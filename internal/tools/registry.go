package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tablesearch/internal/logging"
	"tablesearch/internal/metrics"
	"tablesearch/internal/types"
)

// defaultPriority is assigned to tools registered without one.
const defaultPriority = 50

// Registry is the tool set of one worker. Registration and dispatch are
// safe for concurrent use; parallel tool calls of a step share it.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*Tool
	metrics *metrics.Collector
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]*Tool),
		metrics: metrics.Default(),
	}
}

// Register adds a tool. Names are unique within a registry.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}
	if tool.Priority == 0 {
		tool.Priority = defaultPriority
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[tool.Name]; dup {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
	}
	r.byName[tool.Name] = tool
	logging.ToolsDebug("Registered tool: %s (category=%s, priority=%d)", tool.Name, tool.Category, tool.Priority)
	return nil
}

// RegisterAll registers every tool, stopping at the first error.
func (r *Registry) RegisterAll(tools ...*Tool) error {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister is Register for tool sets fixed at build time.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("register tool %s: %v", tool.Name, err))
	}
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	return r.Get(name) != nil
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// All returns the tools in prompt order: highest priority first, ties by
// name.
func (r *Registry) All() []*Tool {
	r.mu.RLock()
	list := make([]*Tool, 0, len(r.byName))
	for _, t := range r.byName {
		list = append(list, t)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority > list[j].Priority
		}
		return list[i].Name < list[j].Name
	})
	return list
}

// InCategory returns the tools of one category in prompt order.
func (r *Registry) InCategory(category ToolCategory) []*Tool {
	var out []*Tool
	for _, t := range r.All() {
		if t.Category == category {
			out = append(out, t)
		}
	}
	return out
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Definitions returns the model-facing declarations in prompt order.
func (r *Registry) Definitions() []types.ToolDefinition {
	all := r.All()
	defs := make([]types.ToolDefinition, len(all))
	for i, t := range all {
		defs[i] = t.Definition()
	}
	return defs
}

// Clone returns a registry over the same tools. An invocation clones its
// template's registry and adds call-scoped tools to the copy.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := &Registry{byName: make(map[string]*Tool, len(r.byName)), metrics: r.metrics}
	for name, t := range r.byName {
		out.byName[name] = t
	}
	return out
}

// Execute validates args against the tool's schema and runs it. A schema
// violation returns a validation error without running the tool; an
// unknown name returns ErrToolNotFound. The returned ToolResult is never
// nil.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	res := &ToolResult{ToolName: name}
	tool := r.Get(name)
	if tool == nil {
		res.Error = fmt.Errorf("%w: %s (available: %v)", ErrToolNotFound, name, r.Names())
		r.metrics.RecordToolCall("unknown", res.Error)
		return res, res.Error
	}
	if args == nil {
		args = map[string]any{}
	}

	start := time.Now()
	if err := ValidateArgs(tool.Schema, args); err != nil {
		logging.ToolsDebug("Tool %s rejected arguments: %v", name, err)
		res.Error = err
	} else {
		res.Result, res.Error = tool.Execute(ctx, args)
		logging.ToolsDebug("Tool %s completed in %v (success=%v)", name, time.Since(start), res.Error == nil)
	}
	res.DurationMs = time.Since(start).Milliseconds()
	r.metrics.RecordToolCall(name, res.Error)
	return res, res.Error
}
