package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	SetBase(zap.New(core))
	t.Cleanup(func() {
		SetBase(nil)
		mu.Lock()
		categories = nil
		mu.Unlock()
	})
	return logs
}

func TestGetNamesLoggerByCategory(t *testing.T) {
	logs := observe(t)

	Get(CategoryGovernor).Info("granted %s %d/%d", "search", 1, 5)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "governor", entries[0].LoggerName)
	assert.Equal(t, "granted search 1/5", entries[0].Message)
}

func TestConvenienceHelpersUseCategory(t *testing.T) {
	logs := observe(t)

	Scheduler("task %s started", "ws_0001")
	StoreWarn("slow insert")
	APIError("boom")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "scheduler", entries[0].LoggerName)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "api", entries[2].LoggerName)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

func TestDisabledCategoryIsSilent(t *testing.T) {
	logs := observe(t)
	mu.Lock()
	categories = map[string]bool{"tools": false}
	mu.Unlock()

	Tools("hidden")
	Agent("visible")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "visible", entries[0].Message)
	assert.False(t, IsCategoryEnabled(CategoryTools))
	assert.True(t, IsCategoryEnabled(CategoryAgent))
}

func TestWithAddsFields(t *testing.T) {
	logs := observe(t)

	Get(CategoryAgent).With(zap.String("task_id", "t1")).Info("step %d", 3)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "t1", entries[0].ContextMap()["task_id"])
}

func TestInitializeWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "tablesearch.log")
	t.Cleanup(func() { SetBase(nil) })

	require.NoError(t, Initialize(Options{Level: "debug", Format: "json", File: path}))
	assert.True(t, IsDebugMode())
	Boot("hello from test")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
	assert.Contains(t, string(data), `"logger":"boot"`)

	SetDebug(false)
	assert.False(t, IsDebugMode())
}

func TestInitializeRejectsBadLevel(t *testing.T) {
	err := Initialize(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestConcurrentGet(t *testing.T) {
	observe(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Get(CategoryContext).Debug("x")
		}()
	}
	wg.Wait()
	assert.Same(t, Get(CategoryContext), Get(CategoryContext))
}

func TestTaskLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "work", "ws_0001", "agent_log.txt")
	tl, err := OpenTaskLog(path)
	require.NoError(t, err)

	tl.Printf("Step %d: %s", 1, "search")
	tl.Logger().Error("Error while generating output: RateLimitError")
	require.NoError(t, tl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, "Step 1: search"))
	assert.Contains(t, text, "RateLimitError")

	var nilLog *TaskLog
	assert.NotPanics(t, func() { nilLog.Printf("ignored") })
	assert.NoError(t, nilLog.Close())
}
