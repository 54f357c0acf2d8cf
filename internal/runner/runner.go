package runner

import (
	"context"
	"fmt"
	"io"
	"time"

	"tablesearch/internal/config"
	"tablesearch/internal/logging"
	"tablesearch/internal/memory"
	"tablesearch/internal/scheduler"
)

// Run executes one task with a fresh team and persists its artifact. The
// returned artifact is nil only when the team could not be built.
func Run(ctx context.Context, opts Options) (*scheduler.Artifact, error) {
	start := time.Now()
	team, err := NewTeam(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("build team: %w", err)
	}
	defer team.Close()

	id := opts.Task.ID
	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = opts.Config.Scheduler.OutputDir
	}
	team.TaskLog.Printf("task %s: %s", id, opts.Task.Query)

	a := &scheduler.Artifact{
		InstanceID: id,
		TaskID:     id,
		Query:      opts.Task.Query,
		StartTime:  start,
		Models:     team.Main.ModelIDs(),
	}

	inv, err := team.Main.NewInvocation(opts.Task.Query)
	if err != nil {
		return nil, err
	}
	report, runErr := inv.Run(ctx)

	end := time.Now()
	a.EndTime = end
	a.DurationSeconds = end.Sub(start).Seconds()
	stats := team.Governors.Snapshot()
	a.Statistics = &stats
	tokens := team.Usage.Stats()
	a.TokenUsage = &tokens
	if err := team.Usage.Save(); err != nil {
		logging.AgentWarn("[%s] failed to save token usage: %v", id, err)
	}
	if report != nil {
		a.Answer = report.Answer
		a.CompletionStatus = report.Status
	}
	if runErr != nil {
		a.Error = runErr.Error()
		a.CompletionStatus = memory.StatusError
		logging.AgentError("[%s] task failed: %v", id, runErr)
	}
	team.TaskLog.Printf("task %s finished: status=%s duration=%.1fs", id, a.CompletionStatus, a.DurationSeconds)

	if err := scheduler.WriteArtifact(outputDir, a); err != nil {
		logging.AgentError("[%s] failed to save artifact: %v", id, err)
	}
	return a, nil
}

// RunTaskFile is the worker process entry point: it runs the task in path
// and reports the artifact on w as one framed line.
func RunTaskFile(ctx context.Context, cfg *config.Config, path, promptDir string, w io.Writer) error {
	tf, err := scheduler.ReadTaskFile(path)
	if err != nil {
		return err
	}
	a, err := Run(ctx, Options{
		Config:    cfg,
		Task:      tf.Task,
		OutputDir: tf.OutputDir,
		PromptDir: promptDir,
	})
	if err != nil {
		a = &scheduler.Artifact{
			InstanceID: tf.Task.ID,
			TaskID:     tf.Task.ID,
			Query:      tf.Task.Query,
			Error:      err.Error(),
		}
	}
	return scheduler.ReportResult(w, a)
}
