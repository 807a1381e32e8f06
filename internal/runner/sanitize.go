package runner

import (
	"fmt"
	"regexp"
	"strings"
)

// pathTraversal matches any ".." sequence. Commands and arguments containing
// one are rejected before a process is spawned; callers needing parent-dir
// paths must resolve them first.
var pathTraversal = regexp.MustCompile(`\.{2}`)

// validateCommand rejects empty commands and traversal sequences.
func validateCommand(command string) error {
	if strings.TrimSpace(command) == "" {
		return &ValidationError{Field: "command", Value: command, Reason: "command must be a non-empty string"}
	}
	if pathTraversal.MatchString(command) {
		return &ValidationError{Field: "command", Value: command, Reason: "path traversal sequences are not allowed"}
	}
	return nil
}

// validateArgs rejects traversal sequences in any argument.
func validateArgs(args []string) error {
	for _, a := range args {
		if pathTraversal.MatchString(a) {
			return &ValidationError{Field: "args", Value: a, Reason: "path traversal sequences are not allowed"}
		}
	}
	return nil
}

// Args coerces a sequence of primitives (strings, ints, floats, bools) to
// the ordered string arguments the runner expects.
func Args(vals ...any) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = fmt.Sprint(v)
	}
	return out
}

// quoteArgs shell-quotes each argument for shell-mode execution. Callers on
// shell-mode paths remain responsible for quoting inside the command string
// itself.
func quoteArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = shellQuote(a)
	}
	return out
}

// shellQuote wraps s in single quotes, escaping embedded single quotes.
// Empty and already-safe strings pass through unquoted.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'`$&|;<>(){}[]*?~#\\") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// Windows-reserved device names; a log file basename colliding with one gets
// an underscore prefix.
var reservedFilenames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {},
	"COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {},
	"LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// sanitizeFilename makes a command basename safe to use in a log file name
// on every platform.
func sanitizeFilename(name string) string {
	s := invalidFilenameChars.ReplaceAllString(name, "_")
	base := strings.ToUpper(strings.SplitN(s, ".", 2)[0])
	if _, reserved := reservedFilenames[base]; reserved {
		s = "_" + s
	}
	return s
}
