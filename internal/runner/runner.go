package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/jnoller/condamcp/internal/history"
	"github.com/jnoller/condamcp/internal/metrics"
)

const (
	// graceWindow is how long a timed-out process gets between SIGTERM and
	// SIGKILL.
	graceWindow = 500 * time.Millisecond
	// killWait is how long an explicit Kill waits after SIGTERM before
	// escalating.
	killWait = 3 * time.Second
	// reapSlack bounds the post-SIGKILL wait when another goroutine owns
	// the reap.
	reapSlack = 200 * time.Millisecond
	// pollInterval is the sleep between registry poll iterations in Wait.
	pollInterval = 50 * time.Millisecond
)

// Config holds construction-time options for a Runner.
type Config struct {
	// LogDir is the root directory for per-invocation log files. Empty
	// means a private temporary directory, removed at Teardown.
	LogDir string
	// Shell hands command strings to a system shell. Required for pipes and
	// redirection; callers on shell paths are responsible for quoting the
	// command string itself.
	Shell bool
	// ShellPath overrides the default shell binary.
	ShellPath string
	// Split writes stdout and stderr to separate raw files instead of one
	// tagged combined file.
	Split bool
	// Tracking registers every launched process so it stays queryable after
	// completion until explicitly removed.
	Tracking bool
	// Logger receives the runner's own operational log. Defaults to
	// slog.Default().
	Logger *slog.Logger
	// History receives best-effort invocation audit events when set.
	History history.Sink
}

// Options holds per-invocation overrides.
type Options struct {
	Env      []string      // passed through verbatim when non-empty
	Cwd      string        // working directory override
	Timeout  time.Duration // Run only; zero means no deadline
	Shell    *bool         // overrides the runner's shell setting
	Logging  *bool         // disable per-invocation logging; default on
	Observer Observer      // incremental status snapshots
}

// Runner spawns one external process per invocation, drains its output
// concurrently, and reports terminal or in-progress status. Launched
// processes are tracked in a registry when enabled.
type Runner struct {
	cfg       Config
	log       *slog.Logger
	logDir    string
	ownLogDir bool
	shellPath string
	reg       *registry

	// bg retains every background drain/wait goroutine started by Launch so
	// Teardown can await them. Losing one would be a defect, not a policy.
	bg sync.WaitGroup

	teardown sync.Once
}

// New creates a Runner. When no log directory is configured a private
// temporary one is created and removed at Teardown.
func New(cfg Config) (*Runner, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	logDir := cfg.LogDir
	own := false
	if logDir == "" {
		tmp, err := os.MkdirTemp("", "condamcp-logs-*")
		if err != nil {
			return nil, err
		}
		logDir = tmp
		own = true
		log.Debug("created private log directory", "dir", logDir)
	} else {
		if err := os.MkdirAll(logDir, 0o750); err != nil {
			return nil, err
		}
		log.Debug("using log directory", "dir", logDir)
	}
	shellPath := cfg.ShellPath
	if shellPath == "" {
		shellPath = defaultShell()
	}
	r := &Runner{
		cfg:       cfg,
		log:       log,
		logDir:    logDir,
		ownLogDir: own,
		shellPath: shellPath,
	}
	if cfg.Tracking {
		r.reg = newRegistry()
	}
	return r, nil
}

// LogDir returns the directory invocation logs are written under.
func (r *Runner) LogDir() string { return r.logDir }

// invocation bundles one spawned process with its drain tasks and log files.
type invocation struct {
	rec    *Record
	cmd    *exec.Cmd
	files  *logFiles
	obs    Observer
	drains sync.WaitGroup
}

// spawn validates, builds, and starts the command, opens log files, and
// begins the two drain goroutines. The returned invocation's record exists
// if and only if the OS process was actually created.
func (r *Runner) spawn(command string, args []string, opts Options) (*invocation, error) {
	if err := validateCommand(command); err != nil {
		return nil, err
	}
	if err := validateArgs(args); err != nil {
		return nil, err
	}

	useShell := r.cfg.Shell
	if opts.Shell != nil {
		useShell = *opts.Shell
	}

	var cmd *exec.Cmd
	if useShell {
		script := command
		if len(args) > 0 {
			script = command + " " + strings.Join(quoteArgs(args), " ")
		}
		cmd = buildShellCmd(r.shellPath, script)
	} else {
		// #nosec G204 -- traversal-rejected command from a trusted collaborator
		cmd = exec.Command(command, args...)
	}
	if opts.Cwd != "" {
		cmd.Dir = opts.Cwd
	}
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	}
	setSysProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Command: command, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Command: command, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: command, Err: err}
	}

	logging := opts.Logging == nil || *opts.Logging
	var files *logFiles
	if logging {
		files, err = openLogFiles(r.logDir, command, r.cfg.Split)
		if err != nil {
			// The process is already running; reclaim it before failing.
			r.reclaim(cmd)
			return nil, err
		}
	}

	rec := newRecord(cmd, command, args)
	if files != nil {
		rec.setLogPaths(files.combinedPath, files.stdoutPath, files.stderrPath)
	}
	r.log.Info("process started", "pid", rec.PID(), "command", command, "shell", useShell)
	metrics.IncSpawn()
	r.sendHistory(history.EventSpawn, rec.Snapshot())

	inv := &invocation{rec: rec, cmd: cmd, files: files, obs: opts.Observer}
	inv.drains.Add(2)
	go func() {
		defer inv.drains.Done()
		drain(stdout, streamStdout, files.sinkFor(streamStdout), rec, opts.Observer, r.log)
	}()
	go func() {
		defer inv.drains.Done()
		drain(stderr, streamStderr, files.sinkFor(streamStderr), rec, opts.Observer, r.log)
	}()
	return inv, nil
}

// reclaim force-kills and reaps a process whose invocation setup failed.
// It must never be skipped: a child left behind on an error path is a leak.
func (r *Runner) reclaim(cmd *exec.Cmd) {
	pid := cmd.Process.Pid
	forceKill(pid)
	_ = cmd.Wait()
	r.log.Warn("reclaimed process after setup failure", "pid", pid)
}

// Run executes a command and blocks until it exits or the deadline passes.
// The final observer callback carries empty fragments and the terminal
// return code, and fires only after both drains have seen end-of-stream.
func (r *Runner) Run(ctx context.Context, command string, args []string, opts Options) (Status, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	inv, err := r.spawn(command, args, opts)
	if err != nil {
		return Status{}, err
	}
	if inv.obs != nil {
		inv.obs.OnStatus(inv.rec.Snapshot())
	}
	return r.await(ctx, inv, opts.Timeout)
}

// await waits for the invocation, applying the terminate / grace / kill
// escalation when ctx expires. The process is reaped on every exit path.
func (r *Runner) await(ctx context.Context, inv *invocation, timeout time.Duration) (Status, error) {
	done := make(chan error, 1)
	go func() {
		// Wait must not run before the drains finish: it closes the pipes.
		inv.drains.Wait()
		done <- inv.cmd.Wait()
	}()

	select {
	case werr := <-done:
		r.finish(inv, werr)
	case <-ctx.Done():
		pid := inv.rec.PID()
		r.log.Warn("deadline exceeded, terminating process", "pid", pid)
		terminate(pid)
		select {
		case werr := <-done:
			r.finish(inv, werr)
		case <-time.After(graceWindow):
			r.log.Warn("process ignored termination, killing", "pid", pid)
			forceKill(pid)
			r.finish(inv, <-done)
		}
		st := inv.rec.Snapshot()
		if inv.obs != nil {
			inv.obs.OnStatus(st)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			metrics.IncTimeout()
			return st, &TimeoutError{PID: pid, Timeout: timeout}
		}
		return st, ctx.Err()
	}

	st := inv.rec.Snapshot()
	if inv.obs != nil {
		inv.obs.OnStatus(st)
	}
	return st, nil
}

// Launch starts a command and returns immediately; draining and reaping
// continue on retained background goroutines. When tracking is enabled the
// record is registered by pid before Launch returns.
func (r *Runner) Launch(command string, args []string, opts Options) (Status, error) {
	inv, err := r.spawn(command, args, opts)
	if err != nil {
		return Status{}, err
	}
	if r.reg != nil {
		r.reg.add(inv.rec)
	}
	if inv.obs != nil {
		inv.obs.OnStatus(inv.rec.Snapshot())
	}

	st := inv.rec.Snapshot()
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		inv.drains.Wait()
		werr := inv.cmd.Wait()
		r.finish(inv, werr)
		if inv.obs != nil {
			inv.obs.OnStatus(inv.rec.Snapshot())
		}
	}()
	return st, nil
}

// finish finalizes the record from the wait result and closes log handles.
func (r *Runner) finish(inv *invocation, waitErr error) {
	code := 0
	if waitErr != nil {
		var xe *exec.ExitError
		if errors.As(waitErr, &xe) {
			code = xe.ExitCode()
		} else {
			code = -1
		}
	}
	inv.rec.finalize(code, waitErr)
	inv.files.close()

	st := inv.rec.Snapshot()
	r.log.Info("process exited", "pid", st.PID, "state", string(st.State), "exit_code", code)
	metrics.IncExit(string(st.State), time.Since(inv.rec.Started()).Seconds())
	r.sendHistory(history.EventExit, st)
}

func (r *Runner) sendHistory(typ history.EventType, st Status) {
	if r.cfg.History == nil {
		return
	}
	logPath := st.LogPath
	if logPath == "" {
		logPath = st.StdoutLogPath
	}
	e := history.Event{
		Type:       typ,
		OccurredAt: time.Now(),
		PID:        st.PID,
		Command:    st.Command,
		Args:       st.Args,
		State:      string(st.State),
		ExitCode:   st.ExitCode,
		LogPath:    logPath,
	}
	if err := r.cfg.History.Send(context.Background(), e); err != nil {
		r.log.Warn("history sink rejected event", "pid", st.PID, "error", err)
	}
}

// Teardown kills every tracked running process, awaits all outstanding
// background tasks, and removes the private log directory if one was
// created. It is the single required cleanup call before host exit and is
// safe to call more than once.
func (r *Runner) Teardown() {
	r.teardown.Do(func() {
		if r.reg != nil {
			r.killAll()
		}
		r.bg.Wait()
		if c, ok := r.cfg.History.(io.Closer); ok {
			_ = c.Close()
		}
		if r.ownLogDir {
			_ = os.RemoveAll(r.logDir)
		}
		r.log.Debug("runner teardown complete")
	})
}
