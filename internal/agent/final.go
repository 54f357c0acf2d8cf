package agent

import (
	"context"
	"strings"

	"tablesearch/internal/tools"
	"tablesearch/internal/types"
)

// FinalAnswerToolName is the tool a worker calls to finish its task.
const FinalAnswerToolName = "final_answer"

func finalAnswerTool() *tools.Tool {
	return &tools.Tool{
		Name:        FinalAnswerToolName,
		Description: "Provides the final answer to the task and ends the run.",
		Category:    tools.CategoryGeneral,
		Priority:    100,
		Schema: tools.ToolSchema{
			Required: []string{"answer"},
			Properties: map[string]tools.Property{
				"answer": {Type: tools.TypeString, Description: "The final answer to the task"},
			},
		},
		Execute: func(_ context.Context, args map[string]any) (string, error) {
			return strings.TrimSpace(types.ArgString(args, "answer")), nil
		},
	}
}
