package context

import (
	"fmt"
	"strings"

	"tablesearch/internal/memory"
)

// truncate caps s at limit runes, appending an explicit marker.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + fmt.Sprintf("...[truncated %d chars]", len(r)-limit)
}

// renderTranscript flattens every step into one text block for the summarizer.
func renderTranscript(steps []memory.Step, cfg Config) string {
	var sb strings.Builder
	for _, s := range steps {
		switch v := s.(type) {
		case *memory.TaskStep:
			sb.WriteString("=== TASK ===\n")
			sb.WriteString(v.Task)
			sb.WriteString("\n\n")
		case *memory.SummaryStep:
			fmt.Fprintf(&sb, "=== EARLIER SUMMARY (%d steps compacted) ===\n", v.CompactedStepCount)
			sb.WriteString(v.SummaryText)
			sb.WriteString("\n\n")
		case *memory.PlanningStep:
			sb.WriteString("=== PLAN ===\n")
			sb.WriteString(truncate(v.Plan, cfg.ModelOutputCap))
			sb.WriteString("\n\n")
		case *memory.ActionStep:
			fmt.Fprintf(&sb, "=== STEP %d ===\n", v.StepNumber)
			if v.ModelOutput != "" {
				sb.WriteString("Model output: ")
				sb.WriteString(truncate(v.ModelOutput, cfg.ModelOutputCap))
				sb.WriteString("\n")
			}
			for _, call := range v.ToolCalls {
				fmt.Fprintf(&sb, "Tool call: %s(%s)\n", call.Name, truncate(call.ArgumentsJSON(), cfg.ToolArgsCap))
			}
			for _, r := range v.ToolResults {
				if r.Error != "" {
					fmt.Fprintf(&sb, "Result of %s: error: %s\n", r.Name, truncate(r.Error, cfg.ObservationCap))
					continue
				}
				fmt.Fprintf(&sb, "Result of %s: %s\n", r.Name, truncate(r.Output, cfg.ObservationCap))
			}
			if v.Observation != "" && len(v.ToolResults) == 0 {
				sb.WriteString("Observation: ")
				sb.WriteString(truncate(v.Observation, cfg.ObservationCap))
				sb.WriteString("\n")
			}
			if v.Error != "" {
				sb.WriteString("Error: ")
				sb.WriteString(truncate(v.Error, cfg.ObservationCap))
				sb.WriteString("\n")
			}
			sb.WriteString("\n")
		case *memory.FinalAnswerStep:
			sb.WriteString("=== FINAL ANSWER ===\n")
			sb.WriteString(truncate(v.Answer, cfg.ModelOutputCap))
			sb.WriteString("\n\n")
		}
	}
	return sb.String()
}

const summaryInstruction = `You compress the working history of a research agent so it can continue its task with a fresh context.

Write the summary with exactly these four sections:

## 1. Interaction History
What the agent has done so far: searches, pages visited, sub-agents called, plans made and how far they got.

## 2. Recorded Data
Every record the agent has inserted into or updated in its tables, restated literally. Keep all numbers, names, dates, URLs and units exactly as they appear. Never round, merge or paraphrase data values.

## 3. Updated Plan
The remaining steps needed to finish the task, in order.

## 4. Other Notes
Constraints, failed attempts, dead ends, budget warnings and anything else the agent must not forget.

Output only the four sections.`

func summaryRequest(task, transcript string) string {
	return "Original task:\n" + task + "\n\nFull history to summarize:\n\n" + transcript
}

func degradedSummary(task string, steps, attempts int, lastErr error) string {
	reason := "empty response"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	return fmt.Sprintf("Automated context compaction failed after %d attempts (%s). "+
		"The previous %d steps of history were discarded without a summary.\n\n"+
		"Original task (verbatim):\n%s\n\n"+
		"Check the existing tables with list_tables and query_records to recover the data already "+
		"collected before continuing.", attempts, reason, steps, task)
}
