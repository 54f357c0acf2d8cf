package usage

import "time"

// Operations recorded by the workers.
const (
	OpStep        = "step"
	OpPlanning    = "planning"
	OpFinalAnswer = "final_answer"
)

// UsageData is the persisted ledger of one task.
type UsageData struct {
	Version   string          `json:"version"`
	TaskID    string          `json:"task_id"`
	Events    []UsageEvent    `json:"events,omitempty"`
	Aggregate AggregatedStats `json:"aggregate"`
}

// UsageEvent is a single model call.
type UsageEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	Agent        string    `json:"agent"`
	Invocation   string    `json:"invocation"`
	Model        string    `json:"model"`
	Operation    string    `json:"operation"` // step, planning, final_answer
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
}

// AggregatedStats holds counters broken down by worker, model and operation.
type AggregatedStats struct {
	Total       TokenCounts            `json:"total"`
	ByAgent     map[string]TokenCounts `json:"by_agent"`
	ByModel     map[string]TokenCounts `json:"by_model"`
	ByOperation map[string]TokenCounts `json:"by_operation"`
}

// TokenCounts holds input/output sums.
type TokenCounts struct {
	Calls  int   `json:"calls"`
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Total  int64 `json:"total"`
}

func (tc *TokenCounts) Add(input, output int) {
	tc.Calls++
	tc.Input += int64(input)
	tc.Output += int64(output)
	tc.Total += int64(input + output)
}
