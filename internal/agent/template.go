// Package agent runs LLM workers.
//
// A Template is the immutable definition of a worker: name, model, tools,
// prompts and step limits. Every run goes through a fresh Invocation that
// owns its own memory and tool registry, so concurrent calls to the same
// template never share mutable state. A coordinator template lists managed
// templates that it can delegate to as if they were tools.
package agent

import (
	"fmt"

	ctxcompress "tablesearch/internal/context"
	"tablesearch/internal/governor"
	"tablesearch/internal/logging"
	"tablesearch/internal/memory"
	"tablesearch/internal/prompt"
	"tablesearch/internal/tools"
	"tablesearch/internal/types"
	"tablesearch/internal/usage"
)

// Defaults applied by NewTemplate.
const (
	DefaultMaxSteps       = 40
	DefaultMaxToolThreads = 4
)

// Config is the input of NewTemplate.
type Config struct {
	Name        string
	Description string
	Model       types.Model
	Tools       *tools.Registry
	Prompts     prompt.Set

	MaxSteps         int
	PlanningInterval int // 0 disables planning

	// Compactor condenses memory before a step; nil disables compaction.
	Compactor *ctxcompress.Compactor

	// Managed templates are exposed to this worker as delegation tools,
	// metered by Calls.
	Managed []*Template
	Calls   *governor.CallGovernor

	MaxToolThreads int

	// TaskLog receives one entry per step; nil disables it.
	TaskLog *logging.TaskLog

	// Usage records the tokens of every model call; nil disables it.
	Usage *usage.Tracker
}

// Template is an immutable worker definition.
type Template struct {
	name        string
	description string
	model       types.Model
	tools       *tools.Registry
	prompts     prompt.Set

	maxSteps         int
	planningInterval int
	compactor        *ctxcompress.Compactor

	managed []*Template
	calls   *governor.CallGovernor

	maxToolThreads int
	taskLog        *logging.TaskLog
	usage          *usage.Tracker
}

// NewTemplate validates cfg and builds a template.
func NewTemplate(cfg Config) (*Template, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: name is empty", ErrInvalidTemplate)
	}
	if cfg.Model == nil {
		return nil, fmt.Errorf("%w: %s has no model", ErrInvalidTemplate, cfg.Name)
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("%w: %s has no tool registry", ErrInvalidTemplate, cfg.Name)
	}
	if err := cfg.Prompts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTemplate, cfg.Name, err)
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.PlanningInterval < 0 {
		cfg.PlanningInterval = 0
	}
	if cfg.MaxToolThreads <= 0 {
		cfg.MaxToolThreads = DefaultMaxToolThreads
	}

	seen := map[string]bool{FinalAnswerToolName: true}
	for _, name := range cfg.Tools.Names() {
		seen[name] = true
	}
	for _, m := range cfg.Managed {
		if m == nil {
			return nil, fmt.Errorf("%w: %s has a nil managed worker", ErrInvalidTemplate, cfg.Name)
		}
		if seen[m.name] {
			return nil, fmt.Errorf("%w: %s: managed worker name %q collides with a tool", ErrInvalidTemplate, cfg.Name, m.name)
		}
		seen[m.name] = true
	}
	if len(cfg.Managed) > 0 && cfg.Calls == nil {
		cfg.Calls = governor.NewCallGovernor(nil)
	}

	t := &Template{
		name:             cfg.Name,
		description:      cfg.Description,
		model:            cfg.Model,
		tools:            cfg.Tools.Clone(),
		prompts:          cfg.Prompts,
		maxSteps:         cfg.MaxSteps,
		planningInterval: cfg.PlanningInterval,
		compactor:        cfg.Compactor,
		managed:          append([]*Template(nil), cfg.Managed...),
		calls:            cfg.Calls,
		maxToolThreads:   cfg.MaxToolThreads,
		taskLog:          cfg.TaskLog,
		usage:            cfg.Usage,
	}
	logging.AgentDebug("template %s: model=%s tools=%v managed=%d max_steps=%d planning=%d",
		t.name, t.model.ModelID(), t.tools.Names(), len(t.managed), t.maxSteps, t.planningInterval)
	return t, nil
}

func (t *Template) Name() string                  { return t.name }
func (t *Template) Description() string           { return t.description }
func (t *Template) MaxSteps() int                 { return t.maxSteps }
func (t *Template) PlanningInterval() int         { return t.planningInterval }
func (t *Template) ModelID() string               { return t.model.ModelID() }
func (t *Template) Calls() *governor.CallGovernor { return t.calls }

// ManagedNames lists the names of the managed workers in declaration order.
func (t *Template) ManagedNames() []string {
	names := make([]string, len(t.managed))
	for i, m := range t.managed {
		names[i] = m.name
	}
	return names
}

// ModelIDs maps this worker and every managed worker (recursively) to its model.
func (t *Template) ModelIDs() map[string]string {
	out := map[string]string{t.name: t.model.ModelID()}
	for _, m := range t.managed {
		for k, v := range m.ModelIDs() {
			out[k] = v
		}
	}
	return out
}

func (t *Template) valid() error {
	switch {
	case t == nil:
		return fmt.Errorf("%w: nil template", ErrInvalidTemplate)
	case t.name == "":
		return fmt.Errorf("%w: name is empty", ErrInvalidTemplate)
	case t.model == nil:
		return fmt.Errorf("%w: %s has no model", ErrInvalidTemplate, t.name)
	case t.tools == nil:
		return fmt.Errorf("%w: %s has no tool registry", ErrInvalidTemplate, t.name)
	}
	return nil
}

// NewInvocation binds a fresh execution to task. The invocation gets its own
// memory seeded with the task and its own registry: the template tools, the
// final_answer tool, and one delegation tool per managed worker.
func (t *Template) NewInvocation(task string) (*Invocation, error) {
	if err := t.valid(); err != nil {
		return nil, err
	}

	inv := &Invocation{
		template: t,
		mem:      memory.New(task),
		counter:  ctxcompress.NewTokenCounter(),
	}
	inv.id = inv.mem.ID()

	reg := t.tools.Clone()
	if err := reg.Register(finalAnswerTool()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	for _, m := range t.managed {
		if err := reg.Register(inv.delegationTool(m)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
		}
	}
	inv.tools = reg
	return inv, nil
}
