//go:build windows

package runner

import (
	"os"
	"os/exec"
)

func setSysProcAttr(cmd *exec.Cmd) {}

// Windows has no SIGTERM; terminate and forceKill both end the process
// outright via the process handle.
func terminate(pid int) bool { return signalKill(pid) }

func forceKill(pid int) bool { return signalKill(pid) }

func signalKill(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	if err := p.Kill(); err != nil {
		return true
	}
	return false
}
