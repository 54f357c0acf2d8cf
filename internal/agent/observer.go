package agent

import (
	"go.uber.org/zap"

	"tablesearch/internal/memory"
)

// logStep writes an action step to the task log.
func (inv *Invocation) logStep(a *memory.ActionStep) {
	log := inv.log()
	fields := []zap.Field{
		zap.Int("step", a.StepNumber),
		zap.Duration("duration", a.Duration),
	}
	if a.Usage != nil {
		fields = append(fields, zap.Int("input_tokens", a.Usage.InputTokens), zap.Int("output_tokens", a.Usage.OutputTokens))
	}
	log.Info("step", fields...)

	if a.ModelOutput != "" {
		log.Debug("model output", zap.Int("step", a.StepNumber), zap.String("text", truncate(a.ModelOutput, 2000)))
	}
	for i, call := range a.ToolCalls {
		log.Info("tool call",
			zap.Int("step", a.StepNumber),
			zap.String("tool", call.Name),
			zap.String("args", truncate(call.ArgumentsJSON(), 1000)))
		if i < len(a.ToolResults) {
			r := a.ToolResults[i]
			if r.Error != "" {
				log.Warn("tool error", zap.String("tool", r.Name), zap.String("error", r.Error))
			} else {
				log.Debug("observation", zap.String("tool", r.Name), zap.String("output", truncate(r.Output, 3000)))
			}
		}
	}
	if a.Error != "" {
		log.Warn("step error", zap.Int("step", a.StepNumber), zap.String("error", a.Error))
	}
}
