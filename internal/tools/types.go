// Package tools provides the typed tool registry that workers dispatch
// model tool calls through.
//
// Every tool declares a ToolSchema. The registry validates call arguments
// against it before Execute runs, so tool bodies can assume required
// arguments are present and correctly typed.
package tools

import (
	"context"
	"sort"

	"tablesearch/internal/types"
)

// ToolCategory groups tools for listing and prompt rendering.
type ToolCategory string

const (
	// CategoryResearch covers web search and page fetch.
	CategoryResearch ToolCategory = "/research"

	// CategoryTable covers the record store tools.
	CategoryTable ToolCategory = "/table"

	// CategoryDelegation covers sub-workers exposed as tools.
	CategoryDelegation ToolCategory = "/delegation"

	// CategoryGeneral is for tools usable by any worker.
	CategoryGeneral ToolCategory = "/general"
)

// JSON schema type names accepted in Property.Type.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Property describes a single parameter property for JSON schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	// Items describes array element schema (required for type="array")
	Items *PropertyItems `json:"items,omitempty"`
}

// PropertyItems describes the schema for array elements.
type PropertyItems struct {
	Type string `json:"type"`
}

// ToolSchema defines the JSON schema for tool arguments.
type ToolSchema struct {
	// Required lists parameters that must be provided.
	Required []string `json:"required"`

	// Properties describes each parameter.
	Properties map[string]Property `json:"properties"`
}

// JSONSchema renders the schema as a JSON Schema object for model providers.
func (s ToolSchema) JSONSchema() map[string]interface{} {
	props := make(map[string]interface{}, len(s.Properties))
	for name, p := range s.Properties {
		prop := map[string]interface{}{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if p.Type == TypeArray {
			itemType := TypeString
			if p.Items != nil && p.Items.Type != "" {
				itemType = p.Items.Type
			}
			prop["items"] = map[string]interface{}{"type": itemType}
		}
		props[name] = prop
	}
	required := append([]string{}, s.Required...)
	sort.Strings(required)
	return map[string]interface{}{
		"type":       TypeObject,
		"properties": props,
		"required":   required,
	}
}

// ExecuteFunc is the signature for tool execution.
// Returns the result string and any error.
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool defines a tool that a worker can call.
type Tool struct {
	// Name is the unique identifier for the tool.
	Name string

	// Description explains what the tool does.
	// Used for LLM tool calling and documentation.
	Description string

	// Category classifies the tool.
	Category ToolCategory

	// Execute runs the tool with validated arguments.
	Execute ExecuteFunc

	// Schema defines the expected arguments.
	Schema ToolSchema

	// Priority orders tools within a category (default 50).
	Priority int
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return validateSchema(t.Schema)
}

// Definition converts the tool into a model-facing declaration.
func (t *Tool) Definition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.Schema.JSONSchema(),
	}
}

// ToolResult wraps the result of tool execution with metadata.
type ToolResult struct {
	// ToolName identifies which tool was executed.
	ToolName string

	// Result is the string output from the tool.
	Result string

	// Error is set if the tool failed.
	Error error

	// DurationMs is how long execution took.
	DurationMs int64
}

// IsSuccess returns true if the tool executed without error.
func (r *ToolResult) IsSuccess() bool {
	return r.Error == nil
}
