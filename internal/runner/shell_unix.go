//go:build !windows

package runner

import (
	"os"
	"os/exec"
)

// defaultShell returns the user's shell, falling back to /bin/sh.
func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// buildShellCmd hands the script to the shell for parsing, which is what
// makes pipes and redirection work in shell mode.
func buildShellCmd(shellPath, script string) *exec.Cmd {
	// #nosec G204 -- shell mode is an explicit construction-time opt-in
	return exec.Command(shellPath, "-c", script)
}
