package context

import (
	"context"
	"sync"
	"time"

	"tablesearch/internal/types"
)

// MockModel implements types.Model for testing.
type MockModel struct {
	GenerateFunc func(ctx context.Context, msgs []types.Message, tools []types.ToolDefinition) (*types.Response, error)

	mu    sync.Mutex
	calls [][]types.Message
}

func (m *MockModel) Generate(ctx context.Context, msgs []types.Message, tools []types.ToolDefinition) (*types.Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, msgs)
	m.mu.Unlock()
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, msgs, tools)
	}
	return &types.Response{Role: types.RoleAssistant, Content: "Mock summary"}, nil
}

func (m *MockModel) ModelID() string { return "mock-summarizer" }

func (m *MockModel) Calls() [][]types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]types.Message, len(m.calls))
	copy(out, m.calls)
	return out
}

// testConfig returns a compaction config with a small threshold and no backoff delay.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TokenThreshold = 1000
	cfg.MinSteps = 2
	cfg.MaxRetries = 3
	cfg.BackoffUnit = time.Nanosecond
	return cfg
}
