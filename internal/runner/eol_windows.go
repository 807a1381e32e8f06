//go:build windows

package runner

const eol = "\r\n"
