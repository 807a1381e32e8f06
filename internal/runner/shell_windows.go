//go:build windows

package runner

import (
	"os"
	"os/exec"
)

// defaultShell returns the command interpreter, falling back to cmd.exe.
func defaultShell() string {
	if sh := os.Getenv("COMSPEC"); sh != "" {
		return sh
	}
	return "cmd.exe"
}

func buildShellCmd(shellPath, script string) *exec.Cmd {
	// #nosec G204 -- shell mode is an explicit construction-time opt-in
	return exec.Command(shellPath, "/C", script)
}
