package runner

import (
	"os/exec"
	"sync"
	"time"
)

// Record is the lifecycle-tracking entity for one spawned process. It is
// created the instant the OS process starts (validation and log setup happen
// before and may abort creation), mutated on every stream chunk and at exit,
// and destroyed when evicted from the registry.
//
// The record holds the live *exec.Cmd so the process can be signaled after
// Launch returns. All mutation goes through methods holding mu; callers see
// only Snapshot copies.
type Record struct {
	mu  sync.Mutex
	cmd *exec.Cmd

	pid     int
	command string
	args    []string

	state    State
	exitCode int
	stdout   string // newest fragment only
	stderr   string
	err      error

	logPath       string
	stdoutLogPath string
	stderrLogPath string

	startedAt time.Time
	stoppedAt time.Time

	// waitDone is closed exactly once by the waiter goroutine after the
	// process has been reaped. Kill waits on it instead of calling cmd.Wait
	// itself, so there is never more than one waiter.
	waitDone chan struct{}
}

func newRecord(cmd *exec.Cmd, command string, args []string) *Record {
	return &Record{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		command:   command,
		args:      args,
		state:     StateRunning,
		startedAt: time.Now(),
		waitDone:  make(chan struct{}),
	}
}

// PID returns the OS process identifier.
func (r *Record) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pid
}

// Started returns the spawn time.
func (r *Record) Started() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startedAt
}

func (r *Record) setLogPaths(combined, stdout, stderr string) {
	r.mu.Lock()
	r.logPath = combined
	r.stdoutLogPath = stdout
	r.stderrLogPath = stderr
	r.mu.Unlock()
}

// setFragment records the newest decoded chunk for one stream, replacing the
// previous fragment.
func (r *Record) setFragment(stream string, text string) {
	r.mu.Lock()
	if stream == streamStdout {
		r.stdout = text
	} else {
		r.stderr = text
	}
	r.mu.Unlock()
}

// setErr captures a mid-stream I/O failure without changing state; draining
// simply stopped early.
func (r *Record) setErr(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
}

// finalize transitions the record to its terminal state and releases Kill
// waiters. It must be called exactly once, by the goroutine that reaped the
// process.
func (r *Record) finalize(exitCode int, waitErr error) {
	r.mu.Lock()
	r.exitCode = exitCode
	if exitCode == 0 {
		r.state = StateCompleted
	} else {
		r.state = StateFailed
	}
	if waitErr != nil && r.err == nil {
		if _, ok := waitErr.(*exec.ExitError); !ok {
			r.err = waitErr
		}
	}
	r.stdout = ""
	r.stderr = ""
	r.stoppedAt = time.Now()
	wd := r.waitDone
	r.waitDone = nil
	r.mu.Unlock()
	if wd != nil {
		close(wd)
	}
}

// waitDoneChan returns the channel closed at reap time, or nil if the
// process has already been finalized.
func (r *Record) waitDoneChan() chan struct{} {
	r.mu.Lock()
	wd := r.waitDone
	r.mu.Unlock()
	return wd
}

// Snapshot returns a copy of the current status.
func (r *Record) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		PID:           r.pid,
		Command:       r.command,
		Args:          append([]string(nil), r.args...),
		State:         r.state,
		ExitCode:      r.exitCode,
		Stdout:        r.stdout,
		Stderr:        r.stderr,
		LogPath:       r.logPath,
		StdoutLogPath: r.stdoutLogPath,
		StderrLogPath: r.stderrLogPath,
		Err:           r.err,
	}
}

// fragmentStatus builds the incremental snapshot delivered to observers for
// one decoded chunk: identity fields plus only the new fragment.
func (r *Record) fragmentStatus(stream, text string) Status {
	s := r.Snapshot()
	s.Stdout = ""
	s.Stderr = ""
	if stream == streamStdout {
		s.Stdout = text
	} else {
		s.Stderr = text
	}
	return s
}
