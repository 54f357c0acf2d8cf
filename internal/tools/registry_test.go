package tools

import (
	"context"
	"errors"
	"testing"
)

func noop(ctx context.Context, args map[string]any) (string, error) { return "", nil }

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	if reg == nil {
		t.Fatal("NewRegistry returned nil")
	}
	if reg.Count() != 0 {
		t.Errorf("new registry should be empty, got %d tools", reg.Count())
	}
}

func TestRegisterAndGet(t *testing.T) {
	reg := NewRegistry()

	tool := &Tool{
		Name:        "test_tool",
		Description: "A test tool",
		Category:    CategoryGeneral,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "success", nil
		},
	}

	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got := reg.Get("test_tool")
	if got == nil {
		t.Fatal("Get returned nil for registered tool")
	}
	if got.Priority != 50 {
		t.Errorf("default priority = %d, want 50", got.Priority)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry()
	tool := &Tool{Name: "dupe", Category: CategoryGeneral, Execute: noop}

	if err := reg.Register(tool); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if err := reg.Register(tool); !errors.Is(err, ErrToolAlreadyRegistered) {
		t.Fatalf("expected ErrToolAlreadyRegistered, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	reg := NewRegistry()

	tests := []struct {
		name    string
		tool    *Tool
		wantErr error
	}{
		{
			name:    "empty name",
			tool:    &Tool{Name: "", Execute: noop},
			wantErr: ErrToolNameEmpty,
		},
		{
			name:    "nil execute",
			tool:    &Tool{Name: "test", Execute: nil},
			wantErr: ErrToolExecuteNil,
		},
		{
			name: "unknown property type",
			tool: &Tool{Name: "bad_type", Execute: noop, Schema: ToolSchema{
				Properties: map[string]Property{"x": {Type: "date"}},
			}},
			wantErr: ErrInvalidSchema,
		},
		{
			name: "undeclared required",
			tool: &Tool{Name: "bad_req", Execute: noop, Schema: ToolSchema{
				Required:   []string{"y"},
				Properties: map[string]Property{"x": {Type: TypeString}},
			}},
			wantErr: ErrInvalidSchema,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(tt.tool)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestInCategoryPromptOrder(t *testing.T) {
	reg := NewRegistry()

	for _, tool := range []*Tool{
		{Name: "search", Category: CategoryResearch, Priority: 80, Execute: noop},
		{Name: "visit", Category: CategoryResearch, Priority: 60, Execute: noop},
		{Name: "create_table", Category: CategoryTable, Priority: 50, Execute: noop},
	} {
		reg.MustRegister(tool)
	}

	research := reg.InCategory(CategoryResearch)
	if len(research) != 2 {
		t.Fatalf("expected 2 research tools, got %d", len(research))
	}
	if research[0].Name != "search" {
		t.Errorf("expected search first (priority 80), got %s", research[0].Name)
	}

	all := reg.All()
	if all[0].Name != "search" || all[2].Name != "create_table" {
		t.Errorf("All not in priority order: %s, %s, %s", all[0].Name, all[1].Name, all[2].Name)
	}
}

func echoTool() *Tool {
	return &Tool{
		Name:     "echo",
		Category: CategoryGeneral,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			msg, _ := args["message"].(string)
			return "Echo: " + msg, nil
		},
		Schema: ToolSchema{
			Required: []string{"message"},
			Properties: map[string]Property{
				"message": {Type: TypeString},
				"times":   {Type: TypeInteger},
				"mode":    {Type: TypeString, Enum: []any{"loud", "quiet"}},
				"tags":    {Type: TypeArray, Items: &PropertyItems{Type: TypeString}},
			},
		},
	}
}

func TestExecute(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(echoTool())

	result, err := reg.Execute(context.Background(), "echo", map[string]any{"message": "hello"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Result != "Echo: hello" {
		t.Errorf("got result %q, want %q", result.Result, "Echo: hello")
	}
	if !result.IsSuccess() {
		t.Error("expected IsSuccess to be true")
	}

	_, err = reg.Execute(context.Background(), "nonexistent", map[string]any{})
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("expected ErrToolNotFound, got %v", err)
	}
}

func TestExecuteValidatesBeforeDispatch(t *testing.T) {
	reg := NewRegistry()
	called := false
	tool := echoTool()
	inner := tool.Execute
	tool.Execute = func(ctx context.Context, args map[string]any) (string, error) {
		called = true
		return inner(ctx, args)
	}
	reg.MustRegister(tool)

	tests := []struct {
		name    string
		args    map[string]any
		wantErr error
	}{
		{"missing", map[string]any{}, ErrMissingRequiredArg},
		{"null required", map[string]any{"message": nil}, ErrMissingRequiredArg},
		{"wrong type", map[string]any{"message": 5.0}, ErrInvalidArgType},
		{"fractional integer", map[string]any{"message": "m", "times": 1.5}, ErrInvalidArgType},
		{"enum", map[string]any{"message": "m", "mode": "shout"}, ErrInvalidArgValue},
		{"array items", map[string]any{"message": "m", "tags": []any{"a", 2.0}}, ErrInvalidArgType},
		{"malformed", map[string]any{"_raw": "{not json"}, ErrMalformedArguments},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			res, err := reg.Execute(context.Background(), "echo", tt.args)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if !IsValidationError(err) {
				t.Errorf("IsValidationError(%v) = false", err)
			}
			if called {
				t.Error("tool body ran despite invalid arguments")
			}
			if res == nil || res.IsSuccess() {
				t.Error("expected failed ToolResult")
			}
		})
	}

	if _, err := reg.Execute(context.Background(), "echo", map[string]any{"message": "m", "times": 2.0, "mode": "loud", "tags": []any{"a"}}); err != nil {
		t.Fatalf("valid call rejected: %v", err)
	}
}

func TestDefinitions(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(echoTool())
	reg.MustRegister(&Tool{Name: "alpha", Execute: noop})

	defs := reg.Definitions()
	if len(defs) != 2 || defs[0].Name != "alpha" || defs[1].Name != "echo" {
		t.Fatalf("unexpected definitions order: %+v", defs)
	}
	schema := defs[1].InputSchema
	if schema["type"] != "object" {
		t.Errorf("schema type = %v", schema["type"])
	}
	props := schema["properties"].(map[string]interface{})
	tags := props["tags"].(map[string]interface{})
	if tags["items"].(map[string]interface{})["type"] != "string" {
		t.Errorf("array items not rendered: %v", tags)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(echoTool())

	clone := reg.Clone()
	clone.MustRegister(&Tool{Name: "final_answer", Execute: noop})

	if reg.Has("final_answer") {
		t.Error("registering on the clone leaked into the original")
	}
	if !clone.Has("echo") {
		t.Error("clone lost the original tools")
	}
}
