// Package prompt holds the prompt templates of the worker team.
//
// Each worker has one YAML file under templates/ that is baked into the
// binary. Templates use text/template syntax and are rendered with Data.
// A directory of YAML files with the same names can override the
// built-in set at runtime.
package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Set is the full prompt set of one worker.
type Set struct {
	System       string              `yaml:"system_prompt"`
	Planning     PlanningTemplates   `yaml:"planning"`
	ManagedAgent ManagedTemplates    `yaml:"managed_agent"`
	FinalAnswer  FinalAnswerTemplate `yaml:"final_answer"`
}

// PlanningTemplates are rendered at the planning interval.
type PlanningTemplates struct {
	Initial string `yaml:"initial_plan"`
	Update  string `yaml:"update_plan"`
}

// ManagedTemplates wrap a delegated task and the report sent back.
type ManagedTemplates struct {
	Task   string `yaml:"task"`
	Report string `yaml:"report"`
}

// FinalAnswerTemplate forces an answer once the step budget is spent.
type FinalAnswerTemplate struct {
	Pre  string `yaml:"pre_messages"`
	Post string `yaml:"post_messages"`
}

// ToolInfo names a tool or delegate for the prompt.
type ToolInfo struct {
	Name        string
	Description string
}

// Data is the render context of every template.
type Data struct {
	AgentName      string
	Task           string
	Tools          []ToolInfo
	ManagedAgents  []ToolInfo
	RemainingSteps int
	Answer         string
	Now            string
}

// Render executes one template string against data. Missing keys render
// as their zero value; an empty template renders as "".
func Render(name, tmpl string, data Data) (string, error) {
	if strings.TrimSpace(tmpl) == "" {
		return "", nil
	}
	t, err := template.New(name).Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Validate parses every non-empty template of the set.
func (s Set) Validate() error {
	for name, tmpl := range s.fields() {
		if strings.TrimSpace(tmpl) == "" {
			continue
		}
		if _, err := template.New(name).Parse(tmpl); err != nil {
			return fmt.Errorf("prompt %s: %w", name, err)
		}
	}
	if strings.TrimSpace(s.System) == "" {
		return fmt.Errorf("prompt system_prompt: empty")
	}
	return nil
}

func (s Set) fields() map[string]string {
	return map[string]string{
		"system_prompt":              s.System,
		"planning.initial_plan":      s.Planning.Initial,
		"planning.update_plan":       s.Planning.Update,
		"managed_agent.task":         s.ManagedAgent.Task,
		"managed_agent.report":       s.ManagedAgent.Report,
		"final_answer.pre_messages":  s.FinalAnswer.Pre,
		"final_answer.post_messages": s.FinalAnswer.Post,
	}
}
