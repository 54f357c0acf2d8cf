package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"tablesearch/internal/logging"
)

// Phase is the supervision state of a worker process.
type Phase string

const (
	PhaseRunning Phase = "running"
	PhaseGrace   Phase = "grace"  // SIGTERM sent, waiting for exit
	PhaseKilled  Phase = "killed" // SIGKILL sent
	PhaseReaped  Phase = "reaped"
)

// Outcome is what supervision observed about one worker process.
type Outcome struct {
	Phase    Phase
	TimedOut bool
	Canceled bool
	Killed   bool // escalated to SIGKILL
	Reaped   bool // false when the process outlived the kill wait
	ExitErr  error
	Stdout   []byte
	Duration time.Duration
}

// Limits bound one supervised run.
type Limits struct {
	Timeout     time.Duration
	GracePeriod time.Duration
	KillWait    time.Duration
}

// safeBuffer is a bytes.Buffer that may be read while the process writes.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

// Supervise starts cmd and waits for it under lim. On deadline or ctx
// cancellation the process group gets SIGTERM, then SIGKILL after the grace
// period; the process is then given KillWait to be reaped. Stdout is
// captured; stderr is left as configured on cmd.
func Supervise(ctx context.Context, id string, cmd *exec.Cmd, lim Limits) (*Outcome, error) {
	var stdout safeBuffer
	cmd.Stdout = &stdout
	setupProcessGroup(cmd)
	if lim.KillWait > 0 {
		// Bounds the wait for I/O copying once the process is gone.
		cmd.WaitDelay = lim.KillWait
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	logging.SchedulerDebug("[%s] worker started (pid %d, timeout %v)", id, cmd.Process.Pid, lim.Timeout)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	out := &Outcome{Phase: PhaseRunning}
	finish := func() *Outcome {
		out.Duration = time.Since(start)
		out.Stdout = stdout.Bytes()
		return out
	}

	var deadline <-chan time.Time
	if lim.Timeout > 0 {
		timer := time.NewTimer(lim.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case err := <-done:
		out.Phase, out.Reaped, out.ExitErr = PhaseReaped, true, err
		return finish(), nil
	case <-deadline:
		out.TimedOut = true
		logging.SchedulerWarn("[%s] timeout after %v, terminating worker", id, lim.Timeout)
	case <-ctx.Done():
		out.Canceled = true
		logging.SchedulerWarn("[%s] batch cancelled, terminating worker", id)
	}

	out.Phase = PhaseGrace
	if err := terminateProcessGroup(cmd); err != nil {
		logging.SchedulerWarn("[%s] SIGTERM failed: %v", id, err)
	}
	select {
	case err := <-done:
		out.Phase, out.Reaped, out.ExitErr = PhaseReaped, true, err
		return finish(), nil
	case <-time.After(lim.GracePeriod):
	}

	out.Phase, out.Killed = PhaseKilled, true
	logging.SchedulerWarn("[%s] worker did not exit within %v, killing", id, lim.GracePeriod)
	if err := killProcessGroup(cmd); err != nil {
		logging.SchedulerError("[%s] SIGKILL failed: %v", id, err)
	}
	select {
	case err := <-done:
		out.Phase, out.Reaped, out.ExitErr = PhaseReaped, true, err
	case <-time.After(lim.KillWait):
		logging.SchedulerError("[%s] worker pid %d not reaped after %v", id, cmd.Process.Pid, lim.KillWait)
	}
	return finish(), nil
}

// openWorkerLog opens the file that receives a worker's stderr.
func openWorkerLog(outputDir, id string) (*os.File, error) {
	dir := WorkDir(outputDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, "worker.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}
