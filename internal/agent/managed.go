package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"tablesearch/internal/logging"
	"tablesearch/internal/memory"
	"tablesearch/internal/prompt"
	"tablesearch/internal/tools"
	"tablesearch/internal/types"
)

// delegationTool exposes a managed template as a tool of inv. Every call is
// metered by the coordinator's call governor and runs in its own invocation.
func (inv *Invocation) delegationTool(sub *Template) *tools.Tool {
	return &tools.Tool{
		Name:        sub.name,
		Description: sub.description,
		Category:    tools.CategoryDelegation,
		Schema: tools.ToolSchema{
			Required: []string{"task"},
			Properties: map[string]tools.Property{
				"task": {Type: tools.TypeString, Description: "Detailed task for the team member, with all the context it needs"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return inv.Delegate(ctx, sub, types.ArgString(args, "task"))
		},
	}
}

// Delegate runs sub on task on behalf of inv and returns the rendered report.
// A refused call returns the call governor's denial message; a failed
// sub-run is reported as text so the coordinator can carry on. Only
// cancellation of ctx is returned as an error.
func (inv *Invocation) Delegate(ctx context.Context, sub *Template, task string) (string, error) {
	t := inv.template
	calls := t.calls
	if !calls.TryIncrement(sub.name) {
		inv.log().Warn("delegation refused", zap.String("worker", sub.name))
		return calls.DenialMessage(sub.name, t.ManagedNames()...), nil
	}

	wrapped, err := prompt.Render("managed_agent.task", sub.prompts.ManagedAgent.Task, prompt.Data{AgentName: sub.name, Task: task})
	if err != nil || wrapped == "" {
		wrapped = task
	}

	child, err := sub.NewInvocation(wrapped)
	if err != nil {
		return "", err
	}
	child.parentID = inv.id

	logging.Agent("%s[%s] delegating to %s[%s] (call %d)", t.name, shortID(inv.id), sub.name, shortID(child.id), calls.Count(sub.name))
	inv.log().Info("delegation started",
		zap.String("worker", sub.name),
		zap.String("child", child.id),
		zap.String("task", truncate(task, 500)))

	report, err := child.Run(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}

	answer := report.Answer
	if report.Status == memory.StatusError {
		answer = fmt.Sprintf("Error: %s failed after %d steps: %v", sub.name, report.Steps, err)
	}
	out, rerr := prompt.Render("managed_agent.report", sub.prompts.ManagedAgent.Report, prompt.Data{AgentName: sub.name, Answer: answer})
	if rerr != nil || out == "" {
		out = fmt.Sprintf("Report from '%s':\n---\n%s", sub.name, answer)
	}
	return out, nil
}
