package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"tablesearch/internal/logging"
	"tablesearch/internal/metrics"
)

// CommandFunc builds the worker process for one task file.
type CommandFunc func(ctx context.Context, taskFile string) *exec.Cmd

// Config configures a Scheduler.
type Config struct {
	Workers       int
	Limits        Limits
	OutputDir     string
	SkipCompleted bool
	WatchProgress bool

	// Command starts the worker for a task; required.
	Command CommandFunc

	// Tables is the record store used to recover answers; nil disables
	// that fallback.
	Tables TableSource
}

// Scheduler runs tasks in supervised worker processes.
type Scheduler struct {
	cfg     Config
	metrics *metrics.Collector
}

// New creates a scheduler. Zero limits take the defaults of one hour,
// ten seconds of grace and five seconds of kill wait.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Command == nil {
		return nil, errors.New("scheduler: no worker command configured")
	}
	if cfg.OutputDir == "" {
		return nil, errors.New("scheduler: no output directory configured")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Limits.Timeout <= 0 {
		cfg.Limits.Timeout = time.Hour
	}
	if cfg.Limits.GracePeriod <= 0 {
		cfg.Limits.GracePeriod = 10 * time.Second
	}
	if cfg.Limits.KillWait <= 0 {
		cfg.Limits.KillWait = 5 * time.Second
	}
	return &Scheduler{cfg: cfg, metrics: metrics.Default()}, nil
}

// Run executes tasks on a pool of cfg.Workers supervisors and returns the
// aggregate summary. It only fails when the output directory is unusable;
// task failures are recorded on their records.
func (s *Scheduler) Run(ctx context.Context, tasks []Task) (*Summary, error) {
	start := time.Now()
	if err := os.MkdirAll(s.cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	summary := &Summary{Total: len(tasks)}
	var pending []Task
	for _, t := range tasks {
		if s.cfg.SkipCompleted && IsCompleted(s.cfg.OutputDir, t.ID) {
			summary.Skipped++
			continue
		}
		pending = append(pending, t)
	}
	if summary.Skipped > 0 {
		logging.Scheduler("skipped %d already completed task(s)", summary.Skipped)
	}
	logging.Scheduler("running %d task(s) with %d worker(s), timeout %v", len(pending), s.cfg.Workers, s.cfg.Limits.Timeout)

	if s.cfg.WatchProgress && len(pending) > 0 {
		progress, err := NewProgress(s.cfg.OutputDir, pending)
		if err != nil {
			logging.SchedulerWarn("progress watcher disabled: %v", err)
		} else {
			progress.Start(ctx)
			defer progress.Stop()
		}
	}

	records := make([]*TaskRecord, len(pending))
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i, t := range pending {
		records[i] = NewTaskRecord(t)
		rec := records[i]
		g.Go(func() error {
			s.runTask(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range records {
		summary.add(r)
	}
	summary.Records = records
	summary.Duration = time.Since(start)
	logging.Scheduler("batch done in %v: completed=%d timed_out=%d errored=%d skipped=%d recovered=%d",
		summary.Duration.Round(time.Second), summary.Completed, summary.TimedOut, summary.Errored, summary.Skipped, summary.Recovered)
	return summary, nil
}

// runTask drives one record from pending to a terminal state.
func (s *Scheduler) runTask(ctx context.Context, rec *TaskRecord) {
	id := rec.Task.ID
	if err := rec.transition(StatusRunning); err != nil {
		logging.SchedulerError("%v", err)
		return
	}
	s.metrics.RecordTaskStart()
	logging.Scheduler("[%s] started", id)

	result, outcome, err := s.execute(ctx, rec)
	if err != nil {
		logging.SchedulerError("[%s] %v", id, err)
	}
	s.finalize(ctx, rec, result, outcome, err)

	s.metrics.RecordTaskEnd(string(rec.State()), rec.Duration())
	logging.Scheduler("[%s] %s in %v", id, rec.State(), rec.Duration().Round(time.Millisecond))
}

// execute writes the task file, runs the worker and parses its report.
// result is nil when the worker reported nothing usable.
func (s *Scheduler) execute(ctx context.Context, rec *TaskRecord) (*Artifact, *Outcome, error) {
	id := rec.Task.ID
	taskFile, err := writeTaskFile(s.cfg.OutputDir, rec.Task)
	if err != nil {
		return nil, nil, err
	}

	cmd := s.cfg.Command(ctx, taskFile)
	if cmd.Stderr == nil {
		if f, err := openWorkerLog(s.cfg.OutputDir, id); err == nil {
			defer f.Close()
			cmd.Stderr = f
		}
	}

	outcome, err := Supervise(ctx, id, cmd, s.cfg.Limits)
	if err != nil {
		return nil, nil, err
	}
	if outcome.TimedOut || outcome.Canceled {
		return nil, outcome, nil
	}

	result, err := ParseResult(outcome.Stdout)
	if err != nil {
		if outcome.ExitErr != nil {
			err = fmt.Errorf("%w (worker exited: %v)", err, outcome.ExitErr)
		}
		logging.SchedulerWarn("[%s] %v", id, err)
		return nil, outcome, nil
	}
	return result, outcome, nil
}

// finalize applies the fallback chain and sets the terminal state: the
// reported result, then the persisted artifact, then the task's tables.
// Every terminal record ends with an answer or an error.
func (s *Scheduler) finalize(ctx context.Context, rec *TaskRecord, result *Artifact, outcome *Outcome, execErr error) {
	id := rec.Task.ID
	timedOut := outcome != nil && outcome.TimedOut
	canceled := outcome != nil && outcome.Canceled

	if result == nil && !timedOut && !canceled {
		if a, err := ReadArtifact(s.cfg.OutputDir, id); err == nil {
			logging.SchedulerDebug("[%s] using persisted artifact", id)
			// Timing always describes this run, not the one that wrote the file.
			a.StartTime, a.EndTime, a.DurationSeconds = time.Time{}, time.Time{}, 0
			result = a
		}
	}
	found := result != nil
	if !found {
		result = &Artifact{InstanceID: id, TaskID: id}
	}
	result.InstanceID, result.Query = id, rec.Task.Query
	if result.TaskID == "" {
		result.TaskID = id
	}

	switch {
	case timedOut:
		result.Timeout = true
		result.Error = fmt.Sprintf("Task timeout after %v (actual duration: %.1fs)",
			s.cfg.Limits.Timeout, outcome.Duration.Seconds())
	case canceled:
		result.Error = "task cancelled before completion"
	case execErr != nil:
		result.Error = execErr.Error()
	}

	if reason := result.Invalid(); reason != "" {
		logging.SchedulerWarn("[%s] result not usable (%s), attempting recovery", id, reason)
		s.recover(ctx, result)
	}

	next := StatusCompleted
	switch {
	case timedOut:
		next = StatusTimedOut
	case canceled:
		next = StatusErrored
		if result.Error == "" {
			result.Error = result.OriginalError
		}
	case result.Error != "":
		next = StatusErrored
	case result.Answer == "" && !found:
		next = StatusErrored
		result.Error = "no result and no persisted data"
	case result.Answer == "":
		next = StatusErrored
		result.Error = "worker reported an empty answer"
	}
	result.Status = next

	now := time.Now()
	rec.mu.Lock()
	rec.Answer = result.Answer
	rec.Error = result.Error
	rec.Timeout = result.Timeout
	rec.Recovered = result.Recovered
	rec.APIError = result.APIError
	rec.CompletionStatus = result.CompletionStatus
	if result.StartTime.IsZero() {
		result.StartTime = rec.StartTime
	}
	rec.mu.Unlock()
	if result.EndTime.IsZero() {
		result.EndTime = now
		result.DurationSeconds = now.Sub(result.StartTime).Seconds()
	}

	if err := rec.transition(next); err != nil {
		logging.SchedulerError("%v", err)
	}
	if err := WriteArtifact(s.cfg.OutputDir, result); err != nil {
		logging.SchedulerError("[%s] failed to save artifact: %v", id, err)
	}
}

// recover replaces an unusable result with the task's tables, unless the
// agent log shows the task died on the model API.
func (s *Scheduler) recover(ctx context.Context, a *Artifact) {
	id := a.InstanceID
	if HasAPIError(s.cfg.OutputDir, id) {
		logging.SchedulerWarn("[%s] failed on an API error, skipping recovery", id)
		a.APIError = true
		a.Answer = ""
		if a.Error == "" {
			a.Error = "model API error (see agent log)"
		}
		return
	}

	answer, n, ok := RecoverFromTables(ctx, s.cfg.Tables, id)
	if !ok {
		logging.SchedulerWarn("[%s] no tables to recover from", id)
		return
	}
	a.OriginalError = a.Error
	a.Error = ""
	a.Answer = answer
	a.Recovered = true
	a.RecoveredTables = n
	logging.Scheduler("[%s] recovered answer from %d table(s)", id, n)
}

// TaskFile is the worker's input.
type TaskFile struct {
	Task      Task   `json:"task"`
	OutputDir string `json:"output_dir"`
}

func writeTaskFile(outputDir string, t Task) (string, error) {
	dir := WorkDir(outputDir, t.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	data, err := json.MarshalIndent(TaskFile{Task: t, OutputDir: outputDir}, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "task.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write task file: %w", err)
	}
	return path, nil
}

// ReadTaskFile loads a worker's input.
func ReadTaskFile(path string) (*TaskFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	var tf TaskFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse task file: %w", err)
	}
	if tf.Task.ID == "" || tf.Task.Query == "" {
		return nil, fmt.Errorf("task file %s: missing instance_id or query", path)
	}
	return &tf, nil
}
