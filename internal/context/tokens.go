package context

import (
	"unicode/utf8"

	"tablesearch/internal/types"
)

// =============================================================================
// Token Counting Utilities
// =============================================================================
// Heuristic estimation (~4 characters per token) for providers that do not
// report usage.

// TokenCounter provides token counting functionality.
type TokenCounter struct {
	// Calibration factor (characters per token)
	charsPerToken float64
}

// NewTokenCounter creates a new token counter with default calibration.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{charsPerToken: 4.0}
}

// CountString estimates tokens in a string.
func (tc *TokenCounter) CountString(s string) int {
	if s == "" {
		return 0
	}
	return int(float64(utf8.RuneCountInString(s)) / tc.charsPerToken)
}

// CountMessages estimates the prompt size of a message list.
func (tc *TokenCounter) CountMessages(msgs []types.Message) int {
	total := 0
	for _, m := range msgs {
		total += 4 + tc.CountString(m.Content)
		for _, call := range m.ToolCalls {
			total += 4 + tc.CountString(call.Name) + tc.CountString(call.ArgumentsJSON())
		}
	}
	return total
}

// EstimateUsage builds a usage record for a request/response pair.
func (tc *TokenCounter) EstimateUsage(request []types.Message, resp *types.Response) *types.Usage {
	u := &types.Usage{InputTokens: tc.CountMessages(request)}
	if resp != nil {
		u.OutputTokens = tc.CountMessages([]types.Message{resp.Message()})
	}
	return u
}
