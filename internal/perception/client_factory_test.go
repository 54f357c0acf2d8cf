package perception

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablesearch/internal/config"
)

func TestNewClientFromConfig(t *testing.T) {
	client, err := NewClientFromConfig(context.Background(), config.LLMConfig{Provider: "openai", APIKey: "sk", Model: "gpt-x"})
	require.NoError(t, err)
	_, ok := client.(*OpenAIClient)
	assert.True(t, ok, "expected *OpenAIClient, got %T", client)
	assert.Equal(t, "gpt-x", client.ModelID())

	_, err = NewClientFromConfig(context.Background(), config.LLMConfig{Provider: "gemini"})
	assert.Error(t, err, "gemini requires a key")

	_, err = NewClientFromConfig(context.Background(), config.LLMConfig{Provider: "bogus"})
	assert.Error(t, err)
}

func TestNewModelWrapsRetries(t *testing.T) {
	m, err := NewModel(context.Background(), config.LLMConfig{Provider: "openai", APIKey: "sk", MaxRetries: 4})
	require.NoError(t, err)
	rm, ok := m.(*RetryingModel)
	require.True(t, ok)
	assert.Equal(t, 4, rm.policy.MaxAttempts)
	_, ok = rm.Unwrap().(*OpenAIClient)
	assert.True(t, ok)
}
