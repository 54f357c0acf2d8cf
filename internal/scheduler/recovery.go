package scheduler

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"tablesearch/internal/logging"
	"tablesearch/internal/store"
)

// logTailBytes is how much of the agent log end is scanned for API errors.
const logTailBytes = 5000

// apiErrorPatterns mark a task that failed on the model API rather than in
// its own work. Such tasks are not recovered from the record store.
var apiErrorPatterns = []string{
	"Error while generating output:",
	"Connection aborted.",
	"ConnectionResetError",
	"Connection reset by peer",
	"APIConnectionError",
	"APITimeoutError",
	"RateLimitError",
	"ServiceUnavailableError",
	"InternalServerError",
	"BadRequestError",
	"AuthenticationError",
	"RemoteDisconnected",
	"ConnectionRefusedError",
	"TimeoutError",
	"SSLError",
}

// HasAPIError scans the tail of a task's agent log for API failure markers.
// A missing or unreadable log counts as no error.
func HasAPIError(outputDir, id string) bool {
	tail, err := readTail(AgentLogPath(outputDir, id), logTailBytes)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.SchedulerWarn("[%s] failed to read agent log: %v", id, err)
		}
		return false
	}
	for _, p := range apiErrorPatterns {
		if strings.Contains(tail, p) {
			return true
		}
	}
	return false
}

func readTail(path string, n int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	offset := info.Size() - n
	if offset < 0 {
		offset = 0
	}
	buf := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return "", err
	}
	return string(buf), nil
}

// TableSource provides the persisted tables of a task. *store.Store
// implements it.
type TableSource interface {
	TablesForTask(ctx context.Context, taskID string) ([]store.TableData, error)
}

// RecoverFromTables renders a task's tables as a fenced markdown answer.
// ok is false when the task has no tables.
func RecoverFromTables(ctx context.Context, src TableSource, id string) (answer string, tables int, ok bool) {
	if src == nil {
		return "", 0, false
	}
	data, err := src.TablesForTask(ctx, id)
	if err != nil {
		logging.SchedulerWarn("[%s] failed to read tables: %v", id, err)
		return "", 0, false
	}
	if len(data) == 0 {
		return "", 0, false
	}
	md := strings.TrimRight(store.RenderMarkdown(data), "\n")
	return fmt.Sprintf("```markdown\n%s\n```", md), len(data), true
}
