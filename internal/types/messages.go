// Package types holds the message and tool-call types shared by the model
// providers, the tool registry and the worker loop.
package types

import (
	"context"
	"encoding/json"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one chat message sent to or received from a model.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on RoleTool messages
	Name       string     `json:"name,omitempty"`         // tool name on RoleTool messages
}

// ToolDefinition describes a tool that the model can invoke.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"` // JSON Schema for parameters
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// ArgumentsJSON renders the call input as compact JSON.
func (tc ToolCall) ArgumentsJSON() string {
	if len(tc.Input) == 0 {
		return "{}"
	}
	data, err := json.Marshal(tc.Input)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Usage captures token usage reported by the model.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Response is a complete model reply.
type Response struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
	Usage      *Usage     `json:"usage,omitempty"` // nil when the provider reports nothing
}

// Message converts the reply into an assistant message for the transcript.
func (r *Response) Message() Message {
	return Message{Role: RoleAssistant, Content: r.Content, ToolCalls: r.ToolCalls}
}

// Model is the text-generation capability used by workers and the compactor.
type Model interface {
	Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error)
	ModelID() string
}
