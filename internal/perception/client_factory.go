// Package perception adapts LLM provider APIs to types.Model.
package perception

import (
	"context"
	"fmt"

	"tablesearch/internal/config"
	"tablesearch/internal/logging"
	"tablesearch/internal/types"
)

// Provider represents a supported LLM provider.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

// NewClientFromConfig creates the raw provider client for cfg, without retries.
func NewClientFromConfig(ctx context.Context, cfg config.LLMConfig) (types.Model, error) {
	switch Provider(cfg.Provider) {
	case ProviderOpenAI, "":
		return NewOpenAIClientWithConfig(OpenAIConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Timeout:     cfg.GetTimeout(),
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}), nil
	case ProviderGemini:
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:          cfg.APIKey,
			Model:           cfg.Model,
			Timeout:         cfg.GetTimeout(),
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// NewModel creates a provider client wrapped with the configured retry policy.
func NewModel(ctx context.Context, cfg config.LLMConfig) (types.Model, error) {
	client, err := NewClientFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	lo, hi := cfg.GetRetryWindow()
	policy := RetryPolicy{MaxAttempts: cfg.MaxRetries, MinWait: lo, MaxWait: hi}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	logging.BootDebug("model ready: provider=%s model=%s attempts=%d", cfg.Provider, client.ModelID(), policy.MaxAttempts)
	return NewRetryingModel(client, policy), nil
}
