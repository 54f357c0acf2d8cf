package scheduler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"tablesearch/internal/logging"
)

// LoadDataset reads a JSONL dataset and returns tasks[start:end]. Lines
// without an instance_id get "ws_%04d" from their 1-based line number;
// blank lines, malformed lines and lines with an empty query are skipped.
// end <= 0 means through the last task.
func LoadDataset(path string, start, end int) ([]Task, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	var tasks []Task
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var t Task
		if err := json.Unmarshal([]byte(text), &t); err != nil {
			logging.SchedulerWarn("dataset %s: skip line %d (JSON error): %v", path, line, err)
			continue
		}
		if strings.TrimSpace(t.Query) == "" {
			logging.SchedulerWarn("dataset %s: skip line %d (empty query)", path, line)
			continue
		}
		if t.ID == "" {
			t.ID = fmt.Sprintf("ws_%04d", line)
		}
		if t.Language == "" {
			t.Language = "en"
		}
		tasks = append(tasks, t)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}

	if start < 0 {
		start = 0
	}
	if end <= 0 || end > len(tasks) {
		end = len(tasks)
	}
	if start >= end {
		return nil, nil
	}
	logging.Scheduler("loaded %d tasks from %s (slice %d:%d)", end-start, path, start, end)
	return tasks[start:end], nil
}
