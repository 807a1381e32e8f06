//go:build !windows

package runner

import (
	"errors"
	"os/exec"
	"syscall"
)

// setSysProcAttr places the child in its own process group so signals reach
// the whole tree.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate sends SIGTERM to the process group. Returns true if the group
// was already gone.
func terminate(pid int) bool {
	err := syscall.Kill(-pid, syscall.SIGTERM)
	return errors.Is(err, syscall.ESRCH)
}

// forceKill sends SIGKILL to the process group. Returns true if the group
// was already gone.
func forceKill(pid int) bool {
	err := syscall.Kill(-pid, syscall.SIGKILL)
	return errors.Is(err, syscall.ESRCH)
}
