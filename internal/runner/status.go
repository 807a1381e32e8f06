package runner

// State classifies a tracked process. A record is StateRunning until its
// waiter has reaped the OS process; afterwards it is StateCompleted (exit
// code zero) or StateFailed (non-zero, including signal-derived codes from a
// kill). StateNotFound is only ever reported by registry lookups for absent
// pids.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateNotFound  State = "not_found"
)

// Terminal reports whether the state carries a final exit code.
func (s State) Terminal() bool { return s == StateCompleted || s == StateFailed }

// Status is an immutable snapshot of a Record. Stdout and Stderr carry only
// the newest decoded fragment, never accumulated history; the log file is
// the replay path.
type Status struct {
	PID      int      `json:"pid"`
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	State    State    `json:"state"`
	ExitCode int      `json:"exit_code"` // meaningful only when State.Terminal()
	Stdout   string   `json:"stdout,omitempty"`
	Stderr   string   `json:"stderr,omitempty"`

	// LogPath is set in combined mode; StdoutLogPath/StderrLogPath in split
	// mode. All empty when logging is disabled.
	LogPath       string `json:"log_file,omitempty"`
	StdoutLogPath string `json:"stdout_log_file,omitempty"`
	StderrLogPath string `json:"stderr_log_file,omitempty"`

	Err error `json:"-"` // captured spawn or I/O failure, if any
}

// Summary is the compact shape returned by Get.
type Summary struct {
	State      State  `json:"status"`
	ReturnCode *int   `json:"return_code"`
	PID        int    `json:"pid"`
}

// Observer receives incremental status snapshots from a drain task. OnStatus
// runs inline on the drain goroutine between chunk reads, so it must not
// block for long.
type Observer interface {
	OnStatus(Status)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(Status)

func (f ObserverFunc) OnStatus(s Status) { f(s) }

// KillOutcome reports how a Kill resolved. A process exiting between the
// liveness check and the signal is an expected outcome, not an error.
type KillOutcome string

const (
	OutcomeTerminated    KillOutcome = "terminated"     // exited after SIGTERM
	OutcomeKilled        KillOutcome = "killed"         // needed SIGKILL
	OutcomeAlreadyExited KillOutcome = "already_exited" // nothing left to signal
)
