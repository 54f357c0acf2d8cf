package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	ctxcompress "tablesearch/internal/context"
	"tablesearch/internal/logging"
	"tablesearch/internal/memory"
	"tablesearch/internal/prompt"
	"tablesearch/internal/tools"
	"tablesearch/internal/types"
	"tablesearch/internal/usage"
)

// State is the lifecycle state of an invocation.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Report is the outcome of one invocation.
type Report struct {
	Agent        string                  `json:"agent"`
	InvocationID string                  `json:"invocation_id"`
	Answer       string                  `json:"answer"`
	Status       memory.CompletionStatus `json:"status"`
	Steps        int                     `json:"steps"`
	Usage        types.Usage             `json:"usage"`
	Duration     time.Duration           `json:"duration"`
	Error        string                  `json:"error,omitempty"`
	Compactions  int                     `json:"compactions,omitempty"`
}

// Invocation is one run of a template on one task. It is owned by the
// caller that created it and may be run once.
type Invocation struct {
	id       string
	parentID string
	template *Template
	mem      *memory.Memory
	tools    *tools.Registry
	counter  *ctxcompress.TokenCounter

	state       atomic.Int32
	compactions int
}

// ID returns the invocation id.
func (inv *Invocation) ID() string { return inv.id }

// Memory returns the execution context of this invocation.
func (inv *Invocation) Memory() *memory.Memory { return inv.mem }

// Tools returns the call-scoped tool registry.
func (inv *Invocation) Tools() *tools.Registry { return inv.tools }

// State returns the lifecycle state.
func (inv *Invocation) State() State { return State(inv.state.Load()) }

// Run executes the step loop until the worker calls final_answer, the step
// budget is spent or the model fails. The returned report is never nil; err
// is set when the run ended with StatusError.
func (inv *Invocation) Run(ctx context.Context) (*Report, error) {
	if !inv.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return nil, ErrAlreadyRun
	}

	t := inv.template
	start := time.Now()
	timer := logging.StartTimer(logging.CategoryAgent, t.name+" run")
	defer timer.Stop()

	logging.Agent("%s[%s] started (parent=%s, max_steps=%d)", t.name, shortID(inv.id), shortID(inv.parentID), t.maxSteps)
	inv.log().Info("invocation started",
		zap.String("invocation", inv.id),
		zap.String("parent", inv.parentID),
		zap.String("task", truncate(inv.mem.CurrentTask(), 500)))

	system, err := prompt.Render("system_prompt", t.prompts.System, inv.promptData(0))
	if err != nil {
		return inv.finish(start, "", memory.StatusError, err)
	}

	for step := 1; step <= t.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return inv.finish(start, "", memory.StatusError, err)
		}

		if t.compactor != nil {
			if summary, ok := t.compactor.MaybeCompact(ctx, inv.mem); ok {
				inv.compactions++
				inv.log().Info("memory compacted",
					zap.Int("step", step),
					zap.Int("compacted_steps", summary.CompactedStepCount),
					zap.Int("tokens_before", summary.TokensBefore),
					zap.Bool("degraded", summary.Degraded))
			}
		}

		if inv.planningDue(step) {
			inv.plan(ctx, system, step)
		}

		answer, done, err := inv.step(ctx, system, step)
		if err != nil {
			return inv.finish(start, "", memory.StatusError, err)
		}
		if done {
			return inv.finish(start, answer, memory.StatusCompleted, nil)
		}
	}

	logging.AgentWarn("%s[%s] reached max steps (%d), forcing a final answer", t.name, shortID(inv.id), t.maxSteps)
	answer, err := inv.forceFinalAnswer(ctx)
	if err != nil {
		return inv.finish(start, "", memory.StatusError, err)
	}
	return inv.finish(start, answer, memory.StatusMaxSteps, nil)
}

func (inv *Invocation) planningDue(step int) bool {
	n := inv.template.planningInterval
	return n > 0 && (step == 1 || (step-1)%n == 0)
}

// plan records a PlanningStep. A failed plan is logged and skipped.
func (inv *Invocation) plan(ctx context.Context, system string, step int) {
	t := inv.template
	tmpl, name := t.prompts.Planning.Initial, "planning.initial_plan"
	if step > 1 && strings.TrimSpace(t.prompts.Planning.Update) != "" {
		tmpl, name = t.prompts.Planning.Update, "planning.update_plan"
	}
	request, err := prompt.Render(name, tmpl, inv.promptData(t.maxSteps-step+1))
	if err != nil || request == "" {
		if err != nil {
			logging.AgentWarn("%s: %v", t.name, err)
		}
		return
	}

	msgs := inv.mem.Messages(system)
	if step == 1 {
		msgs = []types.Message{{Role: types.RoleUser, Content: request}}
	} else {
		msgs = append(msgs, types.Message{Role: types.RoleUser, Content: request})
	}

	resp, err := t.model.Generate(ctx, msgs, nil)
	if err != nil {
		logging.AgentWarn("%s[%s] planning at step %d failed: %v", t.name, shortID(inv.id), step, err)
		inv.log().Warn("planning failed", zap.Int("step", step), zap.Error(err))
		return
	}
	tokens := resp.Usage
	if tokens == nil {
		tokens = inv.counter.EstimateUsage(msgs, resp)
	}
	t.usage.Track(t.name, inv.id, t.model.ModelID(), usage.OpPlanning, tokens)
	plan := strings.TrimSpace(resp.Content)
	inv.mem.Append(&memory.PlanningStep{Plan: plan, Usage: tokens})
	inv.log().Info("plan", zap.Int("step", step), zap.String("plan", truncate(plan, 2000)))
}

// step runs one reasoning round. done is true once final_answer succeeded.
func (inv *Invocation) step(ctx context.Context, system string, n int) (answer string, done bool, err error) {
	t := inv.template
	started := time.Now()

	msgs := inv.mem.Messages(system)
	resp, err := t.model.Generate(ctx, msgs, inv.tools.Definitions())
	if err != nil {
		inv.mem.Append(&memory.ActionStep{StepNumber: n, Error: err.Error(), Duration: time.Since(started)})
		inv.log().Error("Error while generating output: "+err.Error(), zap.Int("step", n))
		logging.AgentError("%s[%s] step %d: model failed: %v", t.name, shortID(inv.id), n, err)
		return "", false, fmt.Errorf("step %d: %w", n, err)
	}

	tokens := resp.Usage
	if tokens == nil {
		tokens = inv.counter.EstimateUsage(msgs, resp)
	}
	t.usage.Track(t.name, inv.id, t.model.ModelID(), usage.OpStep, tokens)
	action := &memory.ActionStep{
		StepNumber:  n,
		ModelOutput: resp.Content,
		ToolCalls:   resp.ToolCalls,
		Usage:       tokens,
	}

	if len(resp.ToolCalls) == 0 {
		action.Error = ErrNoToolCall.Error() + ". Call a tool, or call " + FinalAnswerToolName + " to finish."
	} else {
		action.ToolResults = inv.dispatch(ctx, resp.ToolCalls)
		for i, call := range resp.ToolCalls {
			if call.Name == FinalAnswerToolName && action.ToolResults[i].Error == "" {
				answer, done = action.ToolResults[i].Output, true
			}
		}
	}
	action.Duration = time.Since(started)
	inv.mem.Append(action)

	inv.logStep(action)
	logging.AgentDebug("%s[%s] step %d: %d tool call(s), %d input tokens, %v",
		t.name, shortID(inv.id), n, len(resp.ToolCalls), tokens.InputTokens, action.Duration)
	return answer, done, nil
}

// dispatch executes the calls of one step, at most maxToolThreads at a time.
// Results keep the order of calls. Tool failures become observations.
func (inv *Invocation) dispatch(ctx context.Context, calls []types.ToolCall) []memory.ToolResult {
	results := make([]memory.ToolResult, len(calls))

	var g errgroup.Group
	g.SetLimit(inv.template.maxToolThreads)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = inv.execute(ctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (inv *Invocation) execute(ctx context.Context, call types.ToolCall) memory.ToolResult {
	out := memory.ToolResult{CallID: call.ID, Name: call.Name}
	res, err := inv.tools.Execute(ctx, call.Name, call.Input)
	switch {
	case err != nil:
		out.Error = err.Error()
		if tools.IsValidationError(err) || errors.Is(err, tools.ErrToolNotFound) {
			out.Error += ". Fix the arguments and call the tool again."
		}
	case res != nil:
		out.Output = res.Result
	}
	return out
}

// forceFinalAnswer asks the model for an answer without tools once the step
// budget is spent.
func (inv *Invocation) forceFinalAnswer(ctx context.Context) (string, error) {
	t := inv.template
	data := inv.promptData(0)
	pre, err := prompt.Render("final_answer.pre_messages", t.prompts.FinalAnswer.Pre, data)
	if err != nil {
		return "", err
	}
	post, err := prompt.Render("final_answer.post_messages", t.prompts.FinalAnswer.Post, data)
	if err != nil {
		return "", err
	}
	if pre == "" {
		pre = "An agent tried to answer a user query but got stuck. Provide the best final answer from the conversation below."
	}
	if post == "" {
		post = "Based on the above, provide an answer to the task:\n" + inv.mem.CurrentTask()
	}

	msgs := append([]types.Message{{Role: types.RoleSystem, Content: pre}}, inv.mem.Messages("")...)
	msgs = append(msgs, types.Message{Role: types.RoleUser, Content: post})

	resp, err := t.model.Generate(ctx, msgs, nil)
	if err != nil {
		inv.log().Error("Error while generating output: "+err.Error(), zap.String("phase", "final_answer"))
		return "", fmt.Errorf("forced final answer: %w", err)
	}
	tokens := resp.Usage
	if tokens == nil {
		tokens = inv.counter.EstimateUsage(msgs, resp)
	}
	t.usage.Track(t.name, inv.id, t.model.ModelID(), usage.OpFinalAnswer, tokens)
	return strings.TrimSpace(resp.Content), nil
}

func (inv *Invocation) finish(start time.Time, answer string, status memory.CompletionStatus, err error) (*Report, error) {
	t := inv.template
	inv.mem.Append(&memory.FinalAnswerStep{Answer: answer, Status: status})

	report := &Report{
		Agent:        t.name,
		InvocationID: inv.id,
		Answer:       answer,
		Status:       status,
		Steps:        inv.mem.ActionStepCount(),
		Usage:        inv.mem.TotalUsage(),
		Duration:     time.Since(start),
		Compactions:  inv.compactions,
	}
	if err != nil {
		report.Error = err.Error()
		inv.state.Store(int32(StateFailed))
	} else {
		inv.state.Store(int32(StateCompleted))
	}

	logging.Agent("%s[%s] finished: status=%s steps=%d tokens=%d duration=%v",
		t.name, shortID(inv.id), status, report.Steps, report.Usage.Total(), report.Duration.Round(time.Millisecond))
	inv.log().Info("invocation finished",
		zap.String("invocation", inv.id),
		zap.String("status", string(status)),
		zap.Int("steps", report.Steps),
		zap.Duration("duration", report.Duration),
		zap.String("error", report.Error))
	return report, err
}

func (inv *Invocation) promptData(remaining int) prompt.Data {
	t := inv.template
	d := prompt.Data{
		AgentName:      t.name,
		Task:           inv.mem.CurrentTask(),
		RemainingSteps: remaining,
		Now:            time.Now().Format("2006-01-02"),
	}
	for _, tool := range inv.tools.All() {
		info := prompt.ToolInfo{Name: tool.Name, Description: tool.Description}
		if tool.Category == tools.CategoryDelegation {
			d.ManagedAgents = append(d.ManagedAgents, info)
		} else {
			d.Tools = append(d.Tools, info)
		}
	}
	return d
}

func (inv *Invocation) log() *zap.Logger {
	return inv.template.taskLog.Logger().With(zap.String("agent", inv.template.name))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
