// Package context condenses a worker's execution context when its prompt
// grows past a token threshold.
//
// The compactor is a small state machine over one memory.Memory:
// ACCUMULATING -> COMPACTING -> ACCUMULATING. Compaction replaces the whole
// step log with [SummaryStep, TaskStep] and always carries the original task
// text forward verbatim.
package context

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tablesearch/internal/logging"
	"tablesearch/internal/memory"
	"tablesearch/internal/metrics"
	"tablesearch/internal/types"
)

// ErrEmptySummary is returned by a summarization attempt that produced no text.
var ErrEmptySummary = errors.New("summarization returned no content")

// Config configures compaction for one worker.
type Config struct {
	Enabled        bool
	TokenThreshold int // compact when last input tokens exceed this
	MinSteps       int // and at least this many action steps exist
	MaxRetries     int
	BackoffUnit    time.Duration // backoff is min(5*attempt, 30) units

	// Per-item caps applied while rendering the transcript.
	ModelOutputCap int
	ToolArgsCap    int
	ObservationCap int
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		TokenThreshold: 80000,
		MinSteps:       5,
		MaxRetries:     5,
		BackoffUnit:    time.Second,
		ModelOutputCap: 2000,
		ToolArgsCap:    500,
		ObservationCap: 3000,
	}
}

// SubAgentConfig returns the sub-worker defaults.
func SubAgentConfig() Config {
	cfg := DefaultConfig()
	cfg.TokenThreshold = 60000
	return cfg
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinSteps <= 0 {
		c.MinSteps = d.MinSteps
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BackoffUnit <= 0 {
		c.BackoffUnit = d.BackoffUnit
	}
	if c.ModelOutputCap <= 0 {
		c.ModelOutputCap = d.ModelOutputCap
	}
	if c.ToolArgsCap <= 0 {
		c.ToolArgsCap = d.ToolArgsCap
	}
	if c.ObservationCap <= 0 {
		c.ObservationCap = d.ObservationCap
	}
	return c
}

// Backoff returns the wait before retry number attempt (1-based).
func (c Config) Backoff(attempt int) time.Duration {
	units := 5 * attempt
	if units > 30 {
		units = 30
	}
	return time.Duration(units) * c.BackoffUnit
}

// Compactor condenses execution contexts using a separate summarization model.
// It holds no per-memory state and may be shared by every invocation of a template.
type Compactor struct {
	model   types.Model
	cfg     Config
	metrics *metrics.Collector

	// sleep waits between retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCompactor creates a compactor.
func NewCompactor(model types.Model, cfg Config) *Compactor {
	return &Compactor{
		model:   model,
		cfg:     cfg.withDefaults(),
		metrics: metrics.Default(),
		sleep:   sleepCtx,
	}
}

// Config returns the effective configuration.
func (c *Compactor) Config() Config { return c.cfg }

// ShouldCompact reports whether mem has crossed the threshold.
func (c *Compactor) ShouldCompact(mem *memory.Memory) bool {
	if !c.cfg.Enabled {
		return false
	}
	tokens, ok := mem.LastInputTokens()
	if !ok {
		return false
	}
	return tokens > c.cfg.TokenThreshold && mem.ActionStepCount() >= c.cfg.MinSteps
}

// MaybeCompact runs Compact when ShouldCompact holds. It is the hook called
// before every new step.
func (c *Compactor) MaybeCompact(ctx context.Context, mem *memory.Memory) (*memory.SummaryStep, bool) {
	if !c.ShouldCompact(mem) {
		return nil, false
	}
	return c.Compact(ctx, mem), true
}

// Compact summarizes mem and resets it to [SummaryStep, TaskStep].
// It never fails: when every summarization attempt fails the summary is a
// degraded placeholder that preserves the task text.
func (c *Compactor) Compact(ctx context.Context, mem *memory.Memory) *memory.SummaryStep {
	timer := logging.StartTimer(logging.CategoryContext, "compaction")
	defer timer.Stop()

	tokensBefore, _ := mem.LastInputTokens()
	steps := mem.Steps()
	task := mem.CurrentTask()

	logging.Context("compacting %d steps (last input tokens %d > %d)", len(steps), tokensBefore, c.cfg.TokenThreshold)

	transcript := renderTranscript(steps, c.cfg)
	msgs := []types.Message{
		{Role: types.RoleSystem, Content: summaryInstruction},
		{Role: types.RoleUser, Content: summaryRequest(task, transcript)},
	}

	summary := &memory.SummaryStep{
		OriginalTask:       task,
		CompactedStepCount: len(steps),
		TokensBefore:       tokensBefore,
	}

	text, attempts, err := c.summarize(ctx, msgs)
	if err != nil {
		logging.ContextWarn("compaction failed after %d attempts: %v", attempts, err)
		summary.SummaryText = degradedSummary(task, len(steps), attempts, err)
		summary.Degraded = true
		c.metrics.RecordCompaction("degraded")
	} else {
		summary.SummaryText = text
		c.metrics.RecordCompaction("ok")
	}

	mem.Reset(summary, &memory.TaskStep{Task: task})
	logging.Context("compaction done: %d steps -> 2 (degraded=%v)", len(steps), summary.Degraded)
	return summary
}

func (c *Compactor) summarize(ctx context.Context, msgs []types.Message) (string, int, error) {
	if c.model == nil {
		return "", 0, fmt.Errorf("no summarization model configured")
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		resp, err := c.model.Generate(ctx, msgs, nil)
		switch {
		case err != nil:
			lastErr = err
		case resp == nil || strings.TrimSpace(resp.Content) == "":
			lastErr = ErrEmptySummary
		default:
			return strings.TrimSpace(resp.Content), attempt, nil
		}

		logging.ContextDebug("summarization attempt %d/%d failed: %v", attempt, c.cfg.MaxRetries, lastErr)
		if attempt == c.cfg.MaxRetries {
			return "", attempt, lastErr
		}
		if err := c.sleep(ctx, c.cfg.Backoff(attempt)); err != nil {
			return "", attempt, fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
	}
	return "", c.cfg.MaxRetries, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
