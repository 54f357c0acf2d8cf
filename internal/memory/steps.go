package memory

import (
	"time"

	"tablesearch/internal/types"
)

// StepKind discriminates the Step variants.
type StepKind string

const (
	KindTask        StepKind = "task"
	KindPlanning    StepKind = "planning"
	KindAction      StepKind = "action"
	KindSummary     StepKind = "summary"
	KindFinalAnswer StepKind = "final_answer"
)

// Step is one entry of an execution context.
type Step interface {
	Kind() StepKind
}

// TaskStep carries the task text. The most recent TaskStep is the current task.
type TaskStep struct {
	Task string `json:"task"`
}

// PlanningStep carries a plan produced at the planning interval.
type PlanningStep struct {
	Plan  string       `json:"plan"`
	Usage *types.Usage `json:"usage,omitempty"`
}

// ToolResult is the observation for one tool call of an ActionStep.
type ToolResult struct {
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// ActionStep records one reasoning/tool round.
type ActionStep struct {
	StepNumber  int              `json:"step_number"`
	ModelOutput string           `json:"model_output"`
	ToolCalls   []types.ToolCall `json:"tool_calls,omitempty"`
	ToolResults []ToolResult     `json:"tool_results,omitempty"`
	Observation string           `json:"observation,omitempty"`
	Error       string           `json:"error,omitempty"`
	Usage       *types.Usage     `json:"usage,omitempty"`
	Duration    time.Duration    `json:"duration"`
}

// SummaryStep replaces a compacted history.
type SummaryStep struct {
	OriginalTask       string `json:"original_task"`
	SummaryText        string `json:"summary_text"`
	CompactedStepCount int    `json:"compacted_step_count"`
	TokensBefore       int    `json:"tokens_before"`
	Degraded           bool   `json:"degraded,omitempty"`
}

// CompletionStatus is the worker's own report of how its run ended.
type CompletionStatus string

const (
	StatusCompleted CompletionStatus = "completed" // final_answer tool called
	StatusMaxSteps  CompletionStatus = "max_steps" // step limit reached, answer forced
	StatusError     CompletionStatus = "error"     // unrecoverable failure
)

// FinalAnswerStep records the worker's answer and completion status.
type FinalAnswerStep struct {
	Answer string           `json:"answer"`
	Status CompletionStatus `json:"status"`
}

func (TaskStep) Kind() StepKind        { return KindTask }
func (PlanningStep) Kind() StepKind    { return KindPlanning }
func (ActionStep) Kind() StepKind      { return KindAction }
func (SummaryStep) Kind() StepKind     { return KindSummary }
func (FinalAnswerStep) Kind() StepKind { return KindFinalAnswer }
