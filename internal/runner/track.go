package runner

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/jnoller/condamcp/internal/metrics"
)

// tracked returns the registry or ErrTrackingDisabled.
func (r *Runner) tracked() (*registry, error) {
	if r.reg == nil {
		return nil, ErrTrackingDisabled
	}
	return r.reg, nil
}

// Get returns the status summary for a tracked pid. An absent pid yields the
// not_found state, not an error; repeated calls after completion always
// return the same terminal summary.
func (r *Runner) Get(pid int) (Summary, error) {
	reg, err := r.tracked()
	if err != nil {
		return Summary{}, err
	}
	rec, ok := reg.get(pid)
	if !ok {
		return Summary{State: StateNotFound, PID: pid}, nil
	}
	return summaryOf(rec.Snapshot()), nil
}

// List returns a snapshot of every tracked record keyed by pid.
func (r *Runner) List() (map[int]Status, error) {
	reg, err := r.tracked()
	if err != nil {
		return nil, err
	}
	return reg.snapshot(), nil
}

// Remove evicts a record from the registry. Eviction does not signal the
// process; callers evicting a running record should Kill first.
func (r *Runner) Remove(pid int) error {
	reg, err := r.tracked()
	if err != nil {
		return err
	}
	if !reg.remove(pid) {
		return &NotFoundError{PID: pid, What: "record"}
	}
	return nil
}

// Kill terminates a tracked process: SIGTERM, a bounded wait, then SIGKILL.
// A process that exited between check and signal reports OutcomeAlreadyExited;
// that race is expected and never an error.
func (r *Runner) Kill(pid int) (KillOutcome, error) {
	reg, err := r.tracked()
	if err != nil {
		return "", err
	}
	rec, ok := reg.get(pid)
	if !ok {
		return "", &NotFoundError{PID: pid, What: "record"}
	}
	outcome := r.killRecord(rec)
	metrics.IncKill(string(outcome))
	return outcome, nil
}

func (r *Runner) killRecord(rec *Record) KillOutcome {
	if rec.Snapshot().State.Terminal() {
		return OutcomeAlreadyExited
	}
	pid := rec.PID()
	if gone := terminate(pid); gone {
		return OutcomeAlreadyExited
	}
	wd := rec.waitDoneChan()
	if wd == nil {
		// Finalized between snapshot and signal.
		return OutcomeAlreadyExited
	}
	select {
	case <-wd:
		r.log.Info("process terminated", "pid", pid)
		return OutcomeTerminated
	case <-time.After(killWait):
		r.log.Warn("process ignored termination, killing", "pid", pid)
		forceKill(pid)
		select {
		case <-wd:
		case <-time.After(reapSlack):
			// The waiter goroutine will finish the reap.
		}
		return OutcomeKilled
	}
}

// KillAll applies Kill to every tracked process still running. Best-effort:
// individual failures are logged, never raised.
func (r *Runner) KillAll() error {
	if _, err := r.tracked(); err != nil {
		return err
	}
	r.killAll()
	return nil
}

func (r *Runner) killAll() {
	for _, rec := range r.reg.running() {
		outcome := r.killRecord(rec)
		metrics.IncKill(string(outcome))
		r.log.Info("kill-all", "pid", rec.PID(), "outcome", string(outcome))
	}
}

// Wait blocks until the tracked process reaches a terminal state, polling
// the registry between sleeps, or until ctx is done.
func (r *Runner) Wait(ctx context.Context, pid int) (Summary, error) {
	reg, err := r.tracked()
	if err != nil {
		return Summary{}, err
	}
	rec, ok := reg.get(pid)
	if !ok {
		return Summary{State: StateNotFound, PID: pid}, nil
	}
	for {
		s := rec.Snapshot()
		if s.State.Terminal() {
			return summaryOf(s), nil
		}
		select {
		case <-ctx.Done():
			return summaryOf(s), ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// ReadLog returns the logged output of a tracked process, or only the last
// tail lines when tail > 0. An existing-but-empty log yields "". In split
// mode both stream files are returned with section headers.
func (r *Runner) ReadLog(pid int, tail int) (string, error) {
	reg, err := r.tracked()
	if err != nil {
		return "", err
	}
	rec, ok := reg.get(pid)
	if !ok {
		return "", &NotFoundError{PID: pid, What: "record"}
	}
	s := rec.Snapshot()

	var content string
	switch {
	case s.LogPath != "":
		b, err := os.ReadFile(s.LogPath)
		if err != nil {
			return "", &NotFoundError{PID: pid, What: "log file"}
		}
		content = string(b)
	case s.StdoutLogPath != "" || s.StderrLogPath != "":
		var sb strings.Builder
		if s.StdoutLogPath != "" {
			if b, err := os.ReadFile(s.StdoutLogPath); err == nil {
				sb.WriteString("=== STDOUT ===" + eol)
				sb.Write(b)
			}
		}
		if s.StderrLogPath != "" {
			if b, err := os.ReadFile(s.StderrLogPath); err == nil {
				sb.WriteString("=== STDERR ===" + eol)
				sb.Write(b)
			}
		}
		content = sb.String()
	default:
		return "", &NotFoundError{PID: pid, What: "log file"}
	}

	if tail > 0 {
		lines := strings.Split(strings.TrimRight(content, "\r\n"), "\n")
		if len(lines) > tail {
			lines = lines[len(lines)-tail:]
		}
		return strings.Join(lines, "\n"), nil
	}
	return content, nil
}

// ReadJSON parses the process's stdout as a single JSON document. In
// combined mode the timestamp/stream prefixes are stripped and only
// stdout-tagged lines are kept; stripping the prefix recovers the original
// line, so a command whose entire stdout is one JSON document round-trips.
func (r *Runner) ReadJSON(pid int) (any, error) {
	reg, err := r.tracked()
	if err != nil {
		return nil, err
	}
	rec, ok := reg.get(pid)
	if !ok {
		return nil, &NotFoundError{PID: pid, What: "record"}
	}
	s := rec.Snapshot()

	var text string
	switch {
	case s.LogPath != "":
		b, err := os.ReadFile(s.LogPath)
		if err != nil {
			return nil, &NotFoundError{PID: pid, What: "log file"}
		}
		text = stripTaggedLines(string(b), streamStdout)
	case s.StdoutLogPath != "":
		b, err := os.ReadFile(s.StdoutLogPath)
		if err != nil {
			return nil, &NotFoundError{PID: pid, What: "log file"}
		}
		text = string(b)
	default:
		return nil, &NotFoundError{PID: pid, What: "log file"}
	}

	if strings.TrimSpace(text) == "" {
		return nil, &ParseError{PID: pid, Err: errors.New("log is empty")}
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, &ParseError{PID: pid, Err: err}
	}
	return v, nil
}

func summaryOf(s Status) Summary {
	sum := Summary{State: s.State, PID: s.PID}
	if s.State.Terminal() {
		code := s.ExitCode
		sum.ReturnCode = &code
	}
	return sum
}
