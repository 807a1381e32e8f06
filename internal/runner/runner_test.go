package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

func newTestRunner(t *testing.T, cfg Config) *Runner {
	t.Helper()
	if cfg.LogDir == "" {
		cfg.LogDir = t.TempDir()
	}
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(r.Teardown)
	return r
}

// collector records every observer callback for later inspection.
type collector struct {
	mu       sync.Mutex
	statuses []Status
}

func (c *collector) OnStatus(s Status) {
	c.mu.Lock()
	c.statuses = append(c.statuses, s)
	c.mu.Unlock()
}

func (c *collector) all() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Status(nil), c.statuses...)
}

func TestRunEcho(t *testing.T) {
	requireUnix(t)
	r := newTestRunner(t, Config{})
	obs := &collector{}

	st, err := r.Run(context.Background(), "echo", []string{"hello"}, Options{Observer: obs})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.State != StateCompleted || st.ExitCode != 0 {
		t.Fatalf("unexpected terminal status: %+v", st)
	}
	if st.Stdout != "" || st.Stderr != "" {
		t.Fatalf("terminal status must carry empty fragments: %+v", st)
	}

	var sawHello bool
	for _, s := range obs.all() {
		if strings.Contains(s.Stdout, "hello") {
			sawHello = true
		}
		if s.Stderr != "" {
			t.Fatalf("unexpected stderr fragment: %q", s.Stderr)
		}
	}
	if !sawHello {
		t.Fatalf("no stdout fragment contained %q: %+v", "hello", obs.all())
	}
}

func TestRunFinalCallbackOrdering(t *testing.T) {
	requireUnix(t)
	r := newTestRunner(t, Config{})
	obs := &collector{}

	_, err := r.Run(context.Background(), "echo", []string{"x"}, Options{Observer: obs})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	statuses := obs.all()
	if len(statuses) < 2 {
		t.Fatalf("expected initial and final callbacks, got %d", len(statuses))
	}
	last := statuses[len(statuses)-1]
	if !last.State.Terminal() {
		t.Fatalf("last callback not terminal: %+v", last)
	}
	if last.Stdout != "" || last.Stderr != "" {
		t.Fatalf("final callback must carry empty fragments: %+v", last)
	}
	for _, s := range statuses[:len(statuses)-1] {
		if s.State.Terminal() {
			t.Fatalf("terminal callback before the final one: %+v", s)
		}
	}
}

func TestRunBothStreams(t *testing.T) {
	requireUnix(t)
	shell := true
	r := newTestRunner(t, Config{})
	obs := &collector{}

	st, err := r.Run(context.Background(), "echo out; echo err 1>&2", nil, Options{Shell: &shell, Observer: obs})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.State != StateCompleted {
		t.Fatalf("unexpected status: %+v", st)
	}

	var gotOut, gotErr bool
	for _, s := range obs.all() {
		if strings.Contains(s.Stdout, "out") {
			gotOut = true
			if s.Stderr != "" {
				t.Fatalf("stdout fragment also carried stderr: %+v", s)
			}
		}
		if strings.Contains(s.Stderr, "err") {
			gotErr = true
			if s.Stdout != "" {
				t.Fatalf("stderr fragment also carried stdout: %+v", s)
			}
		}
	}
	if !gotOut || !gotErr {
		t.Fatalf("missing fragments: stdout=%v stderr=%v", gotOut, gotErr)
	}
}

func TestRunTimeout(t *testing.T) {
	requireUnix(t)
	r := newTestRunner(t, Config{})

	start := time.Now()
	st, err := r.Run(context.Background(), "sleep", []string{"10"}, Options{Timeout: 100 * time.Millisecond})
	elapsed := time.Since(start)

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	// timeout + grace window + slack; nowhere near the natural 10s runtime
	if elapsed > 3*time.Second {
		t.Fatalf("run returned too slowly after timeout: %s", elapsed)
	}
	if st.State != StateFailed {
		t.Fatalf("timed-out process should be failed: %+v", st)
	}
	// The child must be fully reaped: signal 0 must fail.
	if syscall.Kill(st.PID, 0) == nil {
		t.Fatalf("process %d still alive after timeout", st.PID)
	}
}

func TestRunSpawnError(t *testing.T) {
	requireUnix(t)
	r := newTestRunner(t, Config{})

	_, err := r.Run(context.Background(), "nonexistentbinary123", nil, Options{})
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("expected SpawnError, got %v", err)
	}
}

func TestRunValidation(t *testing.T) {
	requireUnix(t)
	r := newTestRunner(t, Config{})

	cases := []struct {
		name    string
		command string
		args    []string
	}{
		{"empty command", "", nil},
		{"traversal in command", "../../bin/echo", nil},
		{"traversal in arg", "echo", []string{"../secret"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Run(context.Background(), tc.command, tc.args, Options{})
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestRunNonzeroExit(t *testing.T) {
	requireUnix(t)
	shell := true
	r := newTestRunner(t, Config{})

	st, err := r.Run(context.Background(), "exit 3", nil, Options{Shell: &shell})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.State != StateFailed || st.ExitCode != 3 {
		t.Fatalf("expected failed/3, got %+v", st)
	}
}

func TestRunCombinedLogRoundTrip(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	r := newTestRunner(t, Config{LogDir: dir})

	st, err := r.Run(context.Background(), "echo", []string{"first line"}, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.LogPath == "" {
		t.Fatalf("no combined log path recorded: %+v", st)
	}
	b, err := os.ReadFile(st.LogPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := strings.TrimRight(string(b), "\r\n")
	if !strings.Contains(line, "[stdout]") {
		t.Fatalf("log line not stream-tagged: %q", line)
	}
	// Stripping the timestamp/stream prefix recovers the original output.
	if got := strings.TrimRight(stripTaggedLines(string(b), streamStdout), "\n"); got != "first line" {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestRunSplitLogs(t *testing.T) {
	requireUnix(t)
	shell := true
	dir := t.TempDir()
	r := newTestRunner(t, Config{LogDir: dir, Split: true})

	st, err := r.Run(context.Background(), "echo out; echo err 1>&2", nil, Options{Shell: &shell})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.StdoutLogPath == "" || st.StderrLogPath == "" {
		t.Fatalf("split log paths missing: %+v", st)
	}
	out, err := os.ReadFile(st.StdoutLogPath)
	if err != nil {
		t.Fatalf("read stdout log: %v", err)
	}
	if strings.TrimSpace(string(out)) != "out" {
		t.Fatalf("split stdout log not raw: %q", out)
	}
	errB, err := os.ReadFile(st.StderrLogPath)
	if err != nil {
		t.Fatalf("read stderr log: %v", err)
	}
	if strings.TrimSpace(string(errB)) != "err" {
		t.Fatalf("split stderr log not raw: %q", errB)
	}
}

func TestRunLoggingDisabled(t *testing.T) {
	requireUnix(t)
	r := newTestRunner(t, Config{})
	logging := false

	st, err := r.Run(context.Background(), "echo", []string{"quiet"}, Options{Logging: &logging})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.LogPath != "" || st.StdoutLogPath != "" || st.StderrLogPath != "" {
		t.Fatalf("log paths recorded with logging disabled: %+v", st)
	}
}

func TestRunLogFileExistsFromSpawn(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	r := newTestRunner(t, Config{LogDir: dir})
	obs := &collector{}

	_, err := r.Run(context.Background(), "sh", []string{"-c", "sleep 0.1"}, Options{Observer: obs})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The initial callback carries the log path; the file must already exist
	// even though the process wrote nothing.
	first := obs.all()[0]
	if first.LogPath == "" {
		t.Fatalf("initial status missing log path")
	}
	info, statErr := os.Stat(first.LogPath)
	if statErr != nil {
		t.Fatalf("log file missing: %v", statErr)
	}
	if info.Size() != 0 {
		t.Fatalf("expected empty log, got %d bytes", info.Size())
	}
}

func TestRunShellPipes(t *testing.T) {
	requireUnix(t)
	r := newTestRunner(t, Config{Shell: true})
	obs := &collector{}

	st, err := r.Run(context.Background(), "printf 'a\\nb\\nc\\n' | wc -l", nil, Options{Observer: obs})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.State != StateCompleted {
		t.Fatalf("pipe command failed: %+v", st)
	}
	var saw bool
	for _, s := range obs.all() {
		if strings.Contains(s.Stdout, "3") {
			saw = true
		}
	}
	if !saw {
		t.Fatalf("pipe output not observed: %+v", obs.all())
	}
}

func TestRunShellQuotesArgs(t *testing.T) {
	requireUnix(t)
	r := newTestRunner(t, Config{Shell: true})
	obs := &collector{}

	st, err := r.Run(context.Background(), "printf", []string{"%s", "two words"}, Options{Observer: obs})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.State != StateCompleted {
		t.Fatalf("Run failed: %+v", st)
	}
	var got string
	for _, s := range obs.all() {
		got += s.Stdout
	}
	if got != "two words" {
		t.Fatalf("argument not quoted for the shell: %q", got)
	}
}

func TestRunCwdAndEnv(t *testing.T) {
	requireUnix(t)
	work := t.TempDir()
	resolved, err := filepath.EvalSymlinks(work)
	if err != nil {
		t.Fatalf("resolve workdir: %v", err)
	}
	r := newTestRunner(t, Config{Shell: true})
	obs := &collector{}

	st, err := r.Run(context.Background(), "pwd; printf '%s\\n' \"$MARKER\"", nil, Options{
		Cwd:      work,
		Env:      []string{"PATH=" + os.Getenv("PATH"), "MARKER=xyzzy"},
		Observer: obs,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.State != StateCompleted {
		t.Fatalf("Run failed: %+v", st)
	}
	var out string
	for _, s := range obs.all() {
		out += s.Stdout
	}
	if !strings.Contains(out, resolved) && !strings.Contains(out, work) {
		t.Fatalf("cwd not applied: %q", out)
	}
	if !strings.Contains(out, "xyzzy") {
		t.Fatalf("env not passed through: %q", out)
	}
}

func TestRunNeverHangsWithoutTimeout(t *testing.T) {
	requireUnix(t)
	r := newTestRunner(t, Config{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Run(context.Background(), "sh", []string{"-c", "sleep 0.05; echo done"}, Options{})
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return for a terminating command")
	}
}

func TestRunContextCancel(t *testing.T) {
	requireUnix(t)
	r := newTestRunner(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	st, err := r.Run(ctx, "sleep", []string{"10"}, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if syscall.Kill(st.PID, 0) == nil {
		t.Fatalf("process %d survived cancellation", st.PID)
	}
}
