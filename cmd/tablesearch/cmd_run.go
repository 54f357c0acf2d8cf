package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tablesearch/internal/runner"
	"tablesearch/internal/scheduler"
)

var (
	runQuery string
	runID    string
	runPlain bool
)

// runCmd runs a single task in-process
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single task in this process and print the answer",
	Long: `Runs one question through the worker team without process isolation.
The per-task deadline still applies through the context.

Example:
  tablesearch run --query "List every EU capital with its population"`,
	RunE: runSingle,
}

func init() {
	runCmd.Flags().StringVarP(&runQuery, "query", "q", "", "Question to answer (required)")
	runCmd.Flags().StringVar(&runID, "id", "", "Task id (default: random)")
	runCmd.Flags().BoolVar(&runPlain, "plain", false, "Print the answer without markdown rendering")
	runCmd.MarkFlagRequired("query")
}

func runSingle(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.GetTaskTimeout())
	defer cancel()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	id := runID
	if id == "" {
		id = "run_" + uuid.NewString()[:8]
	}
	serveMetrics(ctx)
	logger.Info("Running task", zap.String("id", id), zap.String("query", runQuery))

	a, err := runner.Run(ctx, runner.Options{
		Config:    cfg,
		Task:      scheduler.Task{ID: id, Query: runQuery, Language: "en"},
		PromptDir: promptDir,
	})
	if err != nil {
		return err
	}
	if a.Error != "" {
		logger.Warn("Task ended with an error",
			zap.String("status", string(a.CompletionStatus)),
			zap.String("error", a.Error))
	}
	logger.Info("Task finished",
		zap.String("status", string(a.CompletionStatus)),
		zap.Float64("duration_seconds", a.DurationSeconds),
		zap.String("artifact", scheduler.ArtifactPath(cfg.Scheduler.OutputDir, id)))

	fmt.Println(renderMarkdown(a.Answer, runPlain))
	return nil
}

// renderMarkdown renders md for the terminal, falling back to the raw text.
func renderMarkdown(md string, plain bool) string {
	if plain || md == "" {
		return md
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md
	}
	out, err := renderer.Render(md)
	if err != nil {
		return md
	}
	return out
}
