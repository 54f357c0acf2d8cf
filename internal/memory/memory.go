// Package memory implements the execution context of one worker invocation:
// an ordered, append-only step log with per-step token usage.
package memory

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"tablesearch/internal/types"
)

// Memory is exclusively owned by one worker invocation.
type Memory struct {
	id string

	mu    sync.Mutex
	steps []Step
}

// New creates a memory seeded with a TaskStep.
func New(task string) *Memory {
	return &Memory{
		id:    uuid.NewString(),
		steps: []Step{&TaskStep{Task: task}},
	}
}

// ID uniquely identifies this memory instance.
func (m *Memory) ID() string { return m.id }

// Append adds a step to the end of the log.
func (m *Memory) Append(step Step) {
	m.mu.Lock()
	m.steps = append(m.steps, step)
	m.mu.Unlock()
}

// Steps returns a copy of the step log.
func (m *Memory) Steps() []Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Step, len(m.steps))
	copy(out, m.steps)
	return out
}

// Len returns the number of steps.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.steps)
}

// CurrentTask returns the text of the most recent TaskStep.
func (m *Memory) CurrentTask() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.steps) - 1; i >= 0; i-- {
		if ts, ok := m.steps[i].(*TaskStep); ok {
			return ts.Task
		}
	}
	return ""
}

// LastInputTokens scans backward for the most recent Action or Planning step
// with recorded usage. ok is false when nothing has been measured yet.
func (m *Memory) LastInputTokens() (tokens int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.steps) - 1; i >= 0; i-- {
		switch s := m.steps[i].(type) {
		case *ActionStep:
			if s.Usage != nil {
				return s.Usage.InputTokens, true
			}
		case *PlanningStep:
			if s.Usage != nil {
				return s.Usage.InputTokens, true
			}
		}
	}
	return 0, false
}

// ActionStepCount returns the number of ActionSteps in the log.
func (m *Memory) ActionStepCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.steps {
		if _, ok := s.(*ActionStep); ok {
			n++
		}
	}
	return n
}

// TotalUsage sums recorded usage over the current log.
func (m *Memory) TotalUsage() types.Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total types.Usage
	for _, s := range m.steps {
		var u *types.Usage
		switch v := s.(type) {
		case *ActionStep:
			u = v.Usage
		case *PlanningStep:
			u = v.Usage
		}
		if u != nil {
			total.InputTokens += u.InputTokens
			total.OutputTokens += u.OutputTokens
		}
	}
	return total
}

// Reset atomically replaces the whole log.
func (m *Memory) Reset(steps ...Step) {
	fresh := make([]Step, len(steps))
	copy(fresh, steps)
	m.mu.Lock()
	m.steps = fresh
	m.mu.Unlock()
}

// FinalAnswer returns the last FinalAnswerStep, if any.
func (m *Memory) FinalAnswer() (*FinalAnswerStep, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.steps) - 1; i >= 0; i-- {
		if fa, ok := m.steps[i].(*FinalAnswerStep); ok {
			return fa, true
		}
	}
	return nil, false
}

// Messages renders the log as chat messages following systemPrompt.
func (m *Memory) Messages(systemPrompt string) []types.Message {
	steps := m.Steps()
	msgs := make([]types.Message, 0, len(steps)*2+1)
	if systemPrompt != "" {
		msgs = append(msgs, types.Message{Role: types.RoleSystem, Content: systemPrompt})
	}
	for _, s := range steps {
		msgs = append(msgs, stepMessages(s)...)
	}
	return msgs
}

func stepMessages(s Step) []types.Message {
	switch v := s.(type) {
	case *TaskStep:
		return []types.Message{{Role: types.RoleUser, Content: "New task:\n" + v.Task}}
	case *PlanningStep:
		return []types.Message{
			{Role: types.RoleAssistant, Content: v.Plan},
			{Role: types.RoleUser, Content: "Now proceed and carry out this plan."},
		}
	case *SummaryStep:
		return []types.Message{{Role: types.RoleUser, Content: fmt.Sprintf(
			"Summary of earlier progress (%d steps compacted):\n%s", v.CompactedStepCount, v.SummaryText)}}
	case *ActionStep:
		out := []types.Message{{Role: types.RoleAssistant, Content: v.ModelOutput, ToolCalls: v.ToolCalls}}
		for _, r := range v.ToolResults {
			content := r.Output
			if r.Error != "" {
				content = "Error: " + r.Error
			}
			out = append(out, types.Message{Role: types.RoleTool, ToolCallID: r.CallID, Name: r.Name, Content: content})
		}
		if len(v.ToolResults) == 0 {
			var sb strings.Builder
			if v.Observation != "" {
				sb.WriteString("Observation:\n" + v.Observation)
			}
			if v.Error != "" {
				if sb.Len() > 0 {
					sb.WriteString("\n")
				}
				sb.WriteString("Error:\n" + v.Error + "\nNow let's retry: take care not to repeat previous errors!")
			}
			if sb.Len() > 0 {
				out = append(out, types.Message{Role: types.RoleUser, Content: sb.String()})
			}
		}
		return out
	case *FinalAnswerStep:
		return []types.Message{{Role: types.RoleAssistant, Content: v.Answer}}
	default:
		return nil
	}
}
