// Package usage keeps the token ledger of one task across all of its workers.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tablesearch/internal/types"
)

// maxEvents caps the raw events kept in the ledger; aggregates keep counting.
const maxEvents = 2000

// Tracker records token usage. It is safe for concurrent use and nil-safe,
// so workers can record unconditionally.
type Tracker struct {
	mu       sync.Mutex
	data     UsageData
	filePath string
}

// NewTracker creates a tracker for taskID that saves to filePath. An empty
// path keeps the ledger in memory only.
func NewTracker(taskID, filePath string) *Tracker {
	return &Tracker{
		filePath: filePath,
		data: UsageData{
			Version: "1.0",
			TaskID:  taskID,
			Aggregate: AggregatedStats{
				ByAgent:     make(map[string]TokenCounts),
				ByModel:     make(map[string]TokenCounts),
				ByOperation: make(map[string]TokenCounts),
			},
		},
	}
}

// Track records one model call.
func (t *Tracker) Track(agent, invocation, model, operation string, u *types.Usage) {
	if t == nil || u == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.data.Events) < maxEvents {
		t.data.Events = append(t.data.Events, UsageEvent{
			Timestamp:    time.Now(),
			Agent:        agent,
			Invocation:   invocation,
			Model:        model,
			Operation:    operation,
			InputTokens:  u.InputTokens,
			OutputTokens: u.OutputTokens,
		})
	}

	t.data.Aggregate.Total.Add(u.InputTokens, u.OutputTokens)
	addToMap(t.data.Aggregate.ByAgent, agent, u.InputTokens, u.OutputTokens)
	addToMap(t.data.Aggregate.ByModel, model, u.InputTokens, u.OutputTokens)
	addToMap(t.data.Aggregate.ByOperation, operation, u.InputTokens, u.OutputTokens)
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	if t == nil {
		return AggregatedStats{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.data.Aggregate
	stats.ByAgent = copyTokenCountsMap(stats.ByAgent)
	stats.ByModel = copyTokenCountsMap(stats.ByModel)
	stats.ByOperation = copyTokenCountsMap(stats.ByOperation)
	return stats
}

// Save writes the ledger to its file. Without a file it is a no-op.
func (t *Tracker) Save() error {
	if t == nil || t.filePath == "" {
		return nil
	}
	t.mu.Lock()
	data, err := json.MarshalIndent(t.data, "", "  ")
	t.mu.Unlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(t.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create usage dir: %w", err)
	}
	return os.WriteFile(t.filePath, data, 0644)
}

// Load reads a ledger saved by Save.
func Load(filePath string) (*UsageData, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var u UsageData
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func copyTokenCountsMap(src map[string]TokenCounts) map[string]TokenCounts {
	if src == nil {
		return nil
	}
	dst := make(map[string]TokenCounts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}

func addToMap(m map[string]TokenCounts, key string, input, output int) {
	entry := m[key]
	entry.Add(input, output)
	m[key] = entry
}
