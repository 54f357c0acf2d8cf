package perception

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"tablesearch/internal/logging"
	"tablesearch/internal/types"
)

// GeminiClient implements types.Model on the Google GenAI SDK.
type GeminiClient struct {
	client      *genai.Client
	model       string
	timeout     time.Duration
	temperature float64
	maxTokens   int
}

// NewGeminiClient creates a Gemini client.
func NewGeminiClient(ctx context.Context, config GeminiConfig) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, errNoAPIKey
	}
	if config.Model == "" {
		config.Model = "gemini-2.5-flash"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Minute
	}
	if config.MaxOutputTokens <= 0 {
		config.MaxOutputTokens = 8192
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: config.Timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiClient{
		client:      client,
		model:       config.Model,
		timeout:     config.Timeout,
		temperature: config.Temperature,
		maxTokens:   config.MaxOutputTokens,
	}, nil
}

// ModelID returns the configured model name.
func (c *GeminiClient) ModelID() string { return c.model }

// Generate sends one generateContent request.
func (c *GeminiClient) Generate(ctx context.Context, msgs []types.Message, tools []types.ToolDefinition) (*types.Response, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	startTime := time.Now()
	logging.APIDebug("[Gemini] Generate: model=%s messages=%d tools=%d", c.model, len(msgs), len(tools))

	system, contents := toGeminiContents(msgs)
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(c.temperature)),
		MaxOutputTokens: int32(c.maxTokens),
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.InputSchema,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		apiErr := classifyGeminiError(err)
		logging.APIWarn("[Gemini] Generate: %v", apiErr)
		return nil, apiErr
	}

	out := &types.Response{
		Role:    types.RoleAssistant,
		Content: strings.TrimSpace(resp.Text()),
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		out.StopReason = string(resp.Candidates[0].FinishReason)
	}
	for _, fc := range resp.FunctionCalls() {
		id := fc.ID
		if id == "" {
			id = "call_" + uuid.NewString()[:8]
		}
		args := fc.Args
		if args == nil {
			args = map[string]any{}
		}
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{ID: id, Name: fc.Name, Input: args})
	}
	if resp.UsageMetadata != nil {
		out.Usage = &types.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	logging.API("[Gemini] Generate: completed in %v content_len=%d tool_calls=%d", time.Since(startTime), len(out.Content), len(out.ToolCalls))
	return out, nil
}

// toGeminiContents splits system text from the conversation and maps roles:
// assistant -> model, tool results -> user function responses.
func toGeminiContents(msgs []types.Message) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case types.RoleSystem:
			system = append(system, m.Content)
		case types.RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				p := genai.NewPartFromFunctionCall(tc.Name, tc.Input)
				p.FunctionCall.ID = tc.ID
				parts = append(parts, p)
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
			}
		case types.RoleTool:
			p := genai.NewPartFromFunctionResponse(m.Name, map[string]any{"output": cleanBlank(m.Content)})
			p.FunctionResponse.ID = m.ToolCallID
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{p}, genai.RoleUser))
		default:
			contents = append(contents, genai.NewContentFromText(cleanBlank(m.Content), genai.RoleUser))
		}
	}
	return strings.Join(system, "\n\n"), contents
}

func classifyGeminiError(err error) error {
	var ge genai.APIError
	if errors.As(err, &ge) {
		return newStatusError(ge.Code, ge.Message)
	}
	var gp *genai.APIError
	if errors.As(err, &gp) && gp != nil {
		return newStatusError(gp.Code, gp.Message)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &APIError{Kind: KindTimeout, Err: err}
	}
	return &APIError{Kind: KindConnection, Err: err}
}
