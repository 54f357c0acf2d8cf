//go:build windows

package scheduler

import (
	"errors"
	"os"
	"os/exec"
)

// Windows has no process groups reachable through os/exec and no SIGTERM,
// so the grace phase is skipped and the worker is killed outright.

func setupProcessGroup(*exec.Cmd) {}

func terminateProcessGroup(cmd *exec.Cmd) error {
	return killProcessGroup(cmd)
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
