package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablesearch/internal/store"
)

func newTestScheduler(t *testing.T, cfg Config) *Scheduler {
	t.Helper()
	if cfg.OutputDir == "" {
		cfg.OutputDir = t.TempDir()
	}
	if cfg.Command == nil {
		cfg.Command = helperCommand()
	}
	if cfg.Limits.Timeout == 0 {
		cfg.Limits = Limits{Timeout: 30 * time.Second, GracePeriod: time.Second, KillWait: 2 * time.Second}
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func recordByID(t *testing.T, sum *Summary, id string) *TaskRecord {
	t.Helper()
	for _, r := range sum.Records {
		if r.Task.ID == id {
			return r
		}
	}
	t.Fatalf("no record for %s", id)
	return nil
}

func TestNewRequiresCommandAndOutput(t *testing.T) {
	_, err := New(Config{OutputDir: t.TempDir()})
	assert.Error(t, err)
	_, err = New(Config{Command: helperCommand()})
	assert.Error(t, err)

	s, err := New(Config{Command: helperCommand(), OutputDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, 4, s.cfg.Workers)
	assert.Equal(t, Limits{Timeout: time.Hour, GracePeriod: 10 * time.Second, KillWait: 5 * time.Second}, s.cfg.Limits)
}

func TestRunCompletesAndPersists(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 2, WatchProgress: true})
	tasks := []Task{
		{ID: "ws_0001", Query: "ok"},
		{ID: "ws_0002", Query: "ok"},
		{ID: "ws_0003", Query: "ok"},
	}

	sum, err := s.Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 3, sum.Completed)
	require.Len(t, sum.Records, 3)

	for _, task := range tasks {
		rec := recordByID(t, sum, task.ID)
		assert.Equal(t, StatusCompleted, rec.State())
		assert.Contains(t, rec.Answer, "Paris")
		assert.False(t, rec.EndTime.Before(rec.StartTime))

		a, err := ReadArtifact(s.cfg.OutputDir, task.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, a.Status)
		assert.Equal(t, "ok", a.Query)
		assert.True(t, IsCompleted(s.cfg.OutputDir, task.ID))
	}
}

func TestRunSkipsCompleted(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteArtifact(dir, &Artifact{InstanceID: "ws_0001", Answer: "| done |"}))
	require.NoError(t, WriteArtifact(dir, &Artifact{InstanceID: "ws_0002", Error: "boom"}))

	s := newTestScheduler(t, Config{OutputDir: dir, SkipCompleted: true})
	sum, err := s.Run(context.Background(), []Task{
		{ID: "ws_0001", Query: "ok"},
		{ID: "ws_0002", Query: "ok"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Completed)
	require.Len(t, sum.Records, 1)
	assert.Equal(t, "ws_0002", sum.Records[0].Task.ID)
}

func TestRunTimeoutIsEnforced(t *testing.T) {
	timeout := 500 * time.Millisecond
	s := newTestScheduler(t, Config{Limits: Limits{Timeout: timeout, GracePeriod: time.Second, KillWait: 2 * time.Second}})

	sum, err := s.Run(context.Background(), []Task{{ID: "ws_0001", Query: "hang"}})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.TimedOut)

	rec := sum.Records[0]
	assert.Equal(t, StatusTimedOut, rec.State())
	assert.True(t, rec.Timeout)
	assert.Contains(t, rec.Error, "Task timeout after 500ms")
	assert.GreaterOrEqual(t, rec.Duration(), timeout)
	assert.Less(t, rec.Duration(), timeout+time.Second+2*time.Second)

	a, err := ReadArtifact(s.cfg.OutputDir, "ws_0001")
	require.NoError(t, err)
	assert.True(t, a.Timeout)
	assert.False(t, IsCompleted(s.cfg.OutputDir, "ws_0001"))
}

func TestRunFallbackChain(t *testing.T) {
	tables, err := store.Open(store.DriverModernc, ":memory:")
	require.NoError(t, err)
	defer tables.Close()
	ctx := context.Background()
	_, err = tables.DefineSchema(ctx, "with_tables", "cities", []string{"name"})
	require.NoError(t, err)
	_, err = tables.Insert(ctx, "with_tables", "cities", []map[string]any{{"name": "Lyon"}})
	require.NoError(t, err)
	_, err = tables.DefineSchema(ctx, "api_fail", "cities", []string{"name"})
	require.NoError(t, err)
	_, err = tables.Insert(ctx, "api_fail", "cities", []map[string]any{{"name": "Nice"}})
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(WorkDir(dir, "api_fail"), 0755))
	require.NoError(t, os.WriteFile(AgentLogPath(dir, "api_fail"),
		[]byte("Error while generating output: APITimeoutError\n"), 0644))

	s := newTestScheduler(t, Config{OutputDir: dir, Tables: tables})
	sum, err := s.Run(ctx, []Task{
		{ID: "from_artifact", Query: "artifact"},
		{ID: "with_tables", Query: "error"},
		{ID: "api_fail", Query: "error"},
		{ID: "nothing", Query: "silent"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Completed)
	assert.Equal(t, 2, sum.Errored)
	assert.Equal(t, 1, sum.Recovered)

	rec := recordByID(t, sum, "from_artifact")
	assert.Equal(t, StatusCompleted, rec.State())
	assert.Equal(t, "from artifact", rec.Answer)

	rec = recordByID(t, sum, "with_tables")
	assert.Equal(t, StatusCompleted, rec.State())
	assert.True(t, rec.Recovered)
	assert.Empty(t, rec.Error)
	assert.True(t, strings.HasPrefix(rec.Answer, "```markdown\n"))
	a, err := ReadArtifact(dir, "with_tables")
	require.NoError(t, err)
	assert.Equal(t, "boom", a.OriginalError)
	assert.Equal(t, 1, a.RecoveredTables)

	rec = recordByID(t, sum, "api_fail")
	assert.Equal(t, StatusErrored, rec.State())
	assert.True(t, rec.APIError)
	assert.Empty(t, rec.Answer)
	assert.False(t, rec.Recovered)

	rec = recordByID(t, sum, "nothing")
	assert.Equal(t, StatusErrored, rec.State())
	assert.Equal(t, "no result and no persisted data", rec.Error)

	_, err = os.Stat(filepath.Join(WorkDir(dir, "nothing"), "task.json"))
	assert.NoError(t, err)
}

func TestRunTimeoutRecoversTables(t *testing.T) {
	tables, err := store.Open(store.DriverModernc, ":memory:")
	require.NoError(t, err)
	defer tables.Close()
	ctx := context.Background()
	_, err = tables.DefineSchema(ctx, "slow", "cities", []string{"name", "country"})
	require.NoError(t, err)
	_, err = tables.Insert(ctx, "slow", "cities", []map[string]any{{"name": "Lyon", "country": "France"}})
	require.NoError(t, err)

	s := newTestScheduler(t, Config{
		Tables: tables,
		Limits: Limits{Timeout: 300 * time.Millisecond, GracePeriod: time.Second, KillWait: 2 * time.Second},
	})
	sum, err := s.Run(ctx, []Task{{ID: "slow", Query: "hang"}})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.TimedOut)
	assert.Equal(t, 1, sum.Recovered)

	rec := recordByID(t, sum, "slow")
	assert.Equal(t, StatusTimedOut, rec.State())
	assert.True(t, rec.Timeout)
	assert.True(t, rec.Recovered)
	assert.True(t, strings.HasPrefix(rec.Answer, "```markdown\n"))
	assert.Contains(t, rec.Answer, "Lyon")

	a, err := ReadArtifact(s.cfg.OutputDir, "slow")
	require.NoError(t, err)
	assert.Equal(t, StatusTimedOut, a.Status)
	assert.True(t, a.Timeout)
	assert.Contains(t, a.OriginalError, "Task timeout after 300ms")
	assert.Equal(t, 1, a.RecoveredTables)
}

func TestRunPersistedArtifactTakesCurrentTiming(t *testing.T) {
	dir := t.TempDir()
	lastWeek := time.Now().Add(-7 * 24 * time.Hour)
	require.NoError(t, WriteArtifact(dir, &Artifact{
		InstanceID:      "ws_0001",
		Answer:          "answer from last week",
		StartTime:       lastWeek,
		EndTime:         lastWeek.Add(time.Minute),
		DurationSeconds: 60,
	}))

	s := newTestScheduler(t, Config{OutputDir: dir})
	before := time.Now()
	sum, err := s.Run(context.Background(), []Task{{ID: "ws_0001", Query: "silent"}})
	require.NoError(t, err)

	rec := recordByID(t, sum, "ws_0001")
	assert.Equal(t, StatusCompleted, rec.State())
	assert.Equal(t, "answer from last week", rec.Answer)

	a, err := ReadArtifact(dir, "ws_0001")
	require.NoError(t, err)
	assert.False(t, a.StartTime.Before(before.Add(-time.Second)), "start time %v is from an earlier run", a.StartTime)
	assert.False(t, a.EndTime.Before(a.StartTime))
	assert.Less(t, a.DurationSeconds, float64(60))
}

func TestRunCancelledBatch(t *testing.T) {
	s := newTestScheduler(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	sum, err := s.Run(ctx, []Task{{ID: "ws_0001", Query: "hang"}})
	require.NoError(t, err)
	rec := sum.Records[0]
	assert.Equal(t, StatusErrored, rec.State())
	assert.Equal(t, "task cancelled before completion", rec.Error)
	assert.False(t, rec.Timeout)
}

func TestProgressCountsArtifacts(t *testing.T) {
	dir := t.TempDir()
	p, err := NewProgress(dir, []Task{{ID: "a"}, {ID: "b"}})
	require.NoError(t, err)
	p.Start(context.Background())

	require.NoError(t, WriteArtifact(dir, &Artifact{InstanceID: "a", Answer: "x"}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.json"), []byte("{}"), 0644))
	require.NoError(t, WriteArtifact(dir, &Artifact{InstanceID: "a", Answer: "y"}))

	assert.Eventually(t, func() bool { return p.Seen() == 1 }, 2*time.Second, 10*time.Millisecond)
	p.Stop()
	assert.Equal(t, 1, p.Seen())
}
