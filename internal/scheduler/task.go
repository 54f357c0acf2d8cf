// Package scheduler runs batches of top-level tasks.
//
// Every task runs in its own child process under a hard wall-clock
// deadline. On expiry the child's process group gets SIGTERM, then SIGKILL
// after a grace period. Whatever the child managed to persist (its result
// artifact, then its record-store tables) is used to assemble a best-effort
// answer when it never reported one.
package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"tablesearch/internal/memory"
)

// Status is the lifecycle state of a task record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusTimedOut  Status = "timed_out"
	StatusErrored   Status = "errored"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusTimedOut || s == StatusErrored
}

// ErrInvalidTransition is returned for a state change the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid task transition")

// Task is one dataset entry.
type Task struct {
	ID       string `json:"instance_id"`
	Query    string `json:"query"`
	Language string `json:"language,omitempty"`
}

// TaskRecord tracks one task through the batch.
type TaskRecord struct {
	mu sync.Mutex

	Task      Task
	Status    Status
	StartTime time.Time
	EndTime   time.Time

	Answer           string
	Error            string
	Timeout          bool
	Recovered        bool
	APIError         bool
	CompletionStatus memory.CompletionStatus
}

// NewTaskRecord creates a pending record.
func NewTaskRecord(t Task) *TaskRecord {
	return &TaskRecord{Task: t, Status: StatusPending}
}

// transition moves the record to next. pending may only become running and
// running may only become a terminal state, so the terminal state is set once.
func (r *TaskRecord) transition(next Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ok := (r.Status == StatusPending && next == StatusRunning) ||
		(r.Status == StatusRunning && next.Terminal())
	if !ok {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, r.Task.ID, r.Status, next)
	}
	r.Status = next
	switch {
	case next == StatusRunning:
		r.StartTime = time.Now()
	case next.Terminal():
		r.EndTime = time.Now()
	}
	return nil
}

// State returns the current status.
func (r *TaskRecord) State() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Status
}

// Duration is the wall-clock time between start and end, or since start
// while running.
func (r *TaskRecord) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.StartTime.IsZero():
		return 0
	case r.EndTime.IsZero():
		return time.Since(r.StartTime)
	default:
		return r.EndTime.Sub(r.StartTime)
	}
}

// Summary aggregates the outcome of a batch.
type Summary struct {
	Total     int
	Completed int
	TimedOut  int
	Errored   int
	Skipped   int
	Recovered int
	Duration  time.Duration
	Records   []*TaskRecord
}

func (s *Summary) add(r *TaskRecord) {
	switch r.State() {
	case StatusCompleted:
		s.Completed++
	case StatusTimedOut:
		s.TimedOut++
	case StatusErrored:
		s.Errored++
	}
	if r.Recovered {
		s.Recovered++
	}
}
