package perception

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"tablesearch/internal/logging"
	"tablesearch/internal/types"
)

// OpenAIClient implements types.Model for OpenAI-compatible chat completion APIs.
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	mu          sync.Mutex
	lastRequest time.Time
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		APIKey:    apiKey,
		BaseURL:   "https://api.openai.com/v1",
		Model:     "gpt-4o",
		Timeout:   10 * time.Minute,
		MaxTokens: 4096,
	}
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return NewOpenAIClientWithConfig(DefaultOpenAIConfig(apiKey))
}

// NewOpenAIClientWithConfig creates a new OpenAI client with custom config.
func NewOpenAIClientWithConfig(config OpenAIConfig) *OpenAIClient {
	def := DefaultOpenAIConfig(config.APIKey)
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Model == "" {
		config.Model = def.Model
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = def.MaxTokens
	}
	return &OpenAIClient{
		apiKey:      config.APIKey,
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		model:       config.Model,
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// ModelID returns the configured model name.
func (c *OpenAIClient) ModelID() string { return c.model }

// throttle spaces requests from one client at least 100ms apart.
func (c *OpenAIClient) throttle() {
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()
}

func toOpenAIMessages(msgs []types.Message) []OpenAIMessage {
	out := make([]OpenAIMessage, 0, len(msgs))
	for _, m := range msgs {
		om := OpenAIMessage{
			Role:       string(m.Role),
			Content:    cleanBlank(m.Content),
			ToolCallID: m.ToolCallID,
		}
		if m.Role == types.RoleTool {
			om.Name = m.Name
		}
		for _, tc := range m.ToolCalls {
			call := OpenAIToolCall{ID: tc.ID, Type: "function"}
			call.Function.Name = tc.Name
			call.Function.Arguments = tc.ArgumentsJSON()
			om.ToolCalls = append(om.ToolCalls, call)
		}
		out = append(out, om)
	}
	return out
}

func toOpenAITools(defs []types.ToolDefinition) []OpenAITool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]OpenAITool, 0, len(defs))
	for _, d := range defs {
		out = append(out, OpenAITool{
			Type: "function",
			Function: OpenAIFunctionDecl{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.InputSchema,
			},
		})
	}
	return out
}

// Generate sends one chat completion request.
// Transient failures are returned to the caller; RetryingModel owns the retry policy.
func (c *OpenAIClient) Generate(ctx context.Context, msgs []types.Message, tools []types.ToolDefinition) (*types.Response, error) {
	// Auto-apply timeout if context has no deadline
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	logging.APIDebug("[OpenAI] Generate: model=%s messages=%d tools=%d", c.model, len(msgs), len(tools))

	if c.apiKey == "" {
		logging.APIError("[OpenAI] Generate: API key not configured")
		return nil, errNoAPIKey
	}

	c.throttle()

	reqBody := OpenAIRequest{
		Model:       c.model,
		Messages:    toOpenAIMessages(msgs),
		Tools:       toOpenAITools(tools),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	if len(reqBody.Tools) > 0 {
		reqBody.ToolChoice = "auto"
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Kind: KindConnection, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Kind: KindConnection, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := newStatusError(resp.StatusCode, string(body))
		logging.APIWarn("[OpenAI] Generate: %v", apiErr)
		return nil, apiErr
	}

	var openaiResp OpenAIResponse
	if err := json.Unmarshal(body, &openaiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if openaiResp.Error != nil {
		return nil, &APIError{Kind: KindServer, Err: fmt.Errorf("API error: %s", openaiResp.Error.Message)}
	}
	if len(openaiResp.Choices) == 0 {
		logging.APIError("[OpenAI] Generate: no completion returned")
		return nil, fmt.Errorf("no completion returned")
	}

	choice := openaiResp.Choices[0]
	out := &types.Response{
		Role:       types.RoleAssistant,
		Content:    strings.TrimSpace(choice.Message.Content),
		StopReason: choice.FinishReason,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: decodeArguments(tc.Function.Arguments),
		})
	}
	if openaiResp.Usage != nil {
		out.Usage = &types.Usage{
			InputTokens:  openaiResp.Usage.PromptTokens,
			OutputTokens: openaiResp.Usage.CompletionTokens,
		}
	}

	logging.API("[OpenAI] Generate: completed in %v content_len=%d tool_calls=%d", time.Since(startTime), len(out.Content), len(out.ToolCalls))
	return out, nil
}
