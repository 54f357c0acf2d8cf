package main

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablesearch/internal/config"
	"tablesearch/internal/memory"
	"tablesearch/internal/scheduler"
)

func TestApplyBatchFlags(t *testing.T) {
	c := config.DefaultConfig()
	require.NoError(t, batchCmd.Flags().Set("workers", "8"))
	require.NoError(t, batchCmd.Flags().Set("timeout", "30m"))
	require.NoError(t, batchCmd.Flags().Set("search-limit", "20"))
	require.NoError(t, batchCmd.Flags().Set("deep-limit", "3"))
	opts := batchOpts
	opts.output = "out"

	applyBatchFlags(batchCmd, c, opts)
	assert.Equal(t, "out", c.Scheduler.OutputDir)
	assert.Equal(t, 8, c.Scheduler.Workers)
	assert.Equal(t, 30*time.Minute, c.GetTaskTimeout())
	assert.Equal(t, 20, c.Budgets.Search)
	assert.Equal(t, 3, c.Budgets.DeepCalls)
	assert.Equal(t, 0, c.Budgets.Visit)
	assert.True(t, c.Scheduler.SkipCompleted)
}

func TestWorkerCommand(t *testing.T) {
	cmd := workerCommand("/bin/tablesearch", "/out/work/config.yaml")(context.Background(), "/out/work/ws_0001/task.json")
	assert.Equal(t, []string{
		"/bin/tablesearch", "worker",
		"--task-file", "/out/work/ws_0001/task.json",
		"--config", "/out/work/config.yaml",
	}, cmd.Args)
}

func TestCollectStatus(t *testing.T) {
	dir := t.TempDir()
	write := func(a *scheduler.Artifact) {
		require.NoError(t, scheduler.WriteArtifact(dir, a))
	}
	write(&scheduler.Artifact{InstanceID: "a", Answer: "x", Status: scheduler.StatusCompleted, DurationSeconds: 10})
	write(&scheduler.Artifact{InstanceID: "b", Answer: "```markdown\n|x|\n```", Status: scheduler.StatusCompleted, Recovered: true, Timeout: true, DurationSeconds: 30})
	write(&scheduler.Artifact{InstanceID: "c", Error: "boom", Status: scheduler.StatusErrored, APIError: true})
	write(&scheduler.Artifact{InstanceID: "d", Answer: "partial", CompletionStatus: memory.StatusMaxSteps})
	require.NoError(t, os.WriteFile(dir+"/e.json", []byte("{"), 0644))
	require.NoError(t, os.MkdirAll(dir+"/work", 0755))

	r, err := collectStatus(dir)
	require.NoError(t, err)
	assert.Equal(t, 5, r.Total)
	assert.Equal(t, map[string]int{"completed": 2, "errored": 1, "incomplete": 2}, r.Counts)
	assert.Equal(t, 1, r.Recovered)
	assert.Equal(t, 1, r.APIErrors)
	assert.Equal(t, 40*time.Second, r.Duration)

	out := renderStatus(dir, r, true)
	assert.Contains(t, out, "recovered")
	assert.Contains(t, out, "completion status max_steps")
	assert.True(t, strings.Contains(out, "unreadable artifact"))
}

func TestRenderMarkdownPlain(t *testing.T) {
	assert.Equal(t, "| a |", renderMarkdown("| a |", true))
	assert.Equal(t, "", renderMarkdown("", false))
}
