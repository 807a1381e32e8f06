//go:build !windows

package runner

const eol = "\n"
