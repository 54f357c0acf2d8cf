package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"tablesearch/internal/prompt"
	"tablesearch/internal/tools"
	"tablesearch/internal/types"
)

// MockModel implements types.Model with a scripted reply per call.
type MockModel struct {
	ID string

	// GenerateFunc receives the 0-based index of the call.
	GenerateFunc func(call int, msgs []types.Message, tools []types.ToolDefinition) (*types.Response, error)

	mu    sync.Mutex
	calls int
}

func (m *MockModel) Generate(ctx context.Context, msgs []types.Message, tools []types.ToolDefinition) (*types.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	n := m.calls
	m.calls++
	m.mu.Unlock()
	return m.GenerateFunc(n, msgs, tools)
}

func (m *MockModel) ModelID() string {
	if m.ID == "" {
		return "mock"
	}
	return m.ID
}

func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var callSeq atomic.Int64

func toolCall(name string, input map[string]any) types.ToolCall {
	return types.ToolCall{ID: fmt.Sprintf("call_%d", callSeq.Add(1)), Name: name, Input: input}
}

func callResponse(calls ...types.ToolCall) *types.Response {
	return &types.Response{Role: types.RoleAssistant, ToolCalls: calls, Usage: &types.Usage{InputTokens: 100, OutputTokens: 10}}
}

func answerResponse(answer string) *types.Response {
	return callResponse(toolCall(FinalAnswerToolName, map[string]any{"answer": answer}))
}

func testPrompts() prompt.Set {
	return prompt.Set{
		System: "You are {{.AgentName}}.",
		ManagedAgent: prompt.ManagedTemplates{
			Task:   "Task for {{.AgentName}}: {{.Task}}",
			Report: "Report from '{{.AgentName}}':\n{{.Answer}}",
		},
	}
}

func echoTool() *tools.Tool {
	return &tools.Tool{
		Name:        "echo",
		Description: "Echoes text.",
		Category:    tools.CategoryGeneral,
		Schema: tools.ToolSchema{
			Required:   []string{"text"},
			Properties: map[string]tools.Property{"text": {Type: tools.TypeString}},
		},
		Execute: func(_ context.Context, args map[string]any) (string, error) {
			return "echo: " + types.ArgString(args, "text"), nil
		},
	}
}

func registryWith(ts ...*tools.Tool) *tools.Registry {
	reg := tools.NewRegistry()
	for _, t := range ts {
		reg.MustRegister(t)
	}
	return reg
}
