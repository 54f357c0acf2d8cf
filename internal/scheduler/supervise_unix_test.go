//go:build !windows

package scheduler

import (
	"bytes"
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuperviseEscalatesToKill(t *testing.T) {
	dir := t.TempDir()
	taskFile, err := writeTaskFile(dir, Task{ID: "stubborn", Query: "ignore-term"})
	require.NoError(t, err)

	lim := Limits{Timeout: 500 * time.Millisecond, GracePeriod: 300 * time.Millisecond, KillWait: 2 * time.Second}
	out, err := Supervise(context.Background(), "stubborn", helperCommand()(context.Background(), taskFile), lim)
	require.NoError(t, err)

	assert.True(t, out.TimedOut)
	assert.True(t, out.Killed)
	assert.True(t, out.Reaped)
	assert.Equal(t, PhaseReaped, out.Phase)
	assert.GreaterOrEqual(t, out.Duration, lim.Timeout+lim.GracePeriod)
	assert.Less(t, out.Duration, lim.Timeout+lim.GracePeriod+lim.KillWait)
	assert.True(t, bytes.Contains(out.Stdout, []byte("ready")))
}

func TestSuperviseGraceTermination(t *testing.T) {
	dir := t.TempDir()
	taskFile, err := writeTaskFile(dir, Task{ID: "sleepy", Query: "hang"})
	require.NoError(t, err)

	lim := Limits{Timeout: 300 * time.Millisecond, GracePeriod: 2 * time.Second, KillWait: 2 * time.Second}
	out, err := Supervise(context.Background(), "sleepy", helperCommand()(context.Background(), taskFile), lim)
	require.NoError(t, err)

	assert.True(t, out.TimedOut)
	assert.False(t, out.Killed)
	assert.True(t, out.Reaped)
	assert.Less(t, out.Duration, lim.Timeout+lim.GracePeriod)
}

func TestSuperviseStartFailure(t *testing.T) {
	cmd := exec.Command("/nonexistent/worker-binary")
	_, err := Supervise(context.Background(), "x", cmd, Limits{Timeout: time.Second})
	assert.Error(t, err)
}
