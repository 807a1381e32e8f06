package runner

import (
	"errors"
	"fmt"
	"time"
)

// ErrTrackingDisabled is returned by registry operations when the runner was
// constructed without process tracking. This is a programmer error, not a
// runtime condition worth retrying.
var ErrTrackingDisabled = errors.New("process tracking is not enabled")

// ValidationError reports a command or argument rejected before spawn.
type ValidationError struct {
	Field  string // "command" or "args"
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// SpawnError reports an OS-level failure to create the process (missing
// binary, permission denied). It is never retried automatically.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// TimeoutError reports that an invocation exceeded its deadline. The process
// has already been reclaimed (terminate, grace wait, kill) by the time this
// propagates.
type TimeoutError struct {
	PID     int
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("process %d exceeded timeout of %s", e.PID, e.Timeout)
}

// NotFoundError reports a registry or log lookup for a pid that has no
// matching record or no log file.
type NotFoundError struct {
	PID  int
	What string // "record" or "log file"
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s for pid %d", e.What, e.PID)
}

// ParseError reports that a process's log could not be parsed as JSON.
type ParseError struct {
	PID int
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse output of pid %d: %v", e.PID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
