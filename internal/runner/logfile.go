package runner

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	streamStdout = "stdout"
	streamStderr = "stderr"
)

const logTimestampLayout = "2006-01-02 15:04:05"

// logFiles holds the per-invocation output destinations. In combined mode a
// single tagged file is shared by both drains; in split mode each stream
// gets a raw file of its own. Files are opened append-only at spawn time, so
// they exist on disk from the moment the record is created, and they are
// never deleted by the runner: retention belongs to the host.
type logFiles struct {
	combinedPath string
	stdoutPath   string
	stderrPath   string

	combined *taggedLog
	stdout   *os.File
	stderr   *os.File
}

// logFileBase builds the deterministic name stem: sanitized command basename
// plus a timestamp.
func logFileBase(command string) string {
	name := sanitizeFilename(filepath.Base(command))
	return fmt.Sprintf("%s_%s", name, time.Now().Format("20060102_150405"))
}

// openLogFiles creates the invocation log file(s) under dir.
func openLogFiles(dir, command string, split bool) (*logFiles, error) {
	base := logFileBase(command)
	lf := &logFiles{}
	if split {
		lf.stdoutPath = filepath.Join(dir, base+"_stdout.log")
		lf.stderrPath = filepath.Join(dir, base+"_stderr.log")
		out, err := openAppend(lf.stdoutPath)
		if err != nil {
			return nil, err
		}
		errF, err := openAppend(lf.stderrPath)
		if err != nil {
			_ = out.Close()
			return nil, err
		}
		lf.stdout = out
		lf.stderr = errF
		return lf, nil
	}
	lf.combinedPath = filepath.Join(dir, base+"_output.log")
	f, err := openAppend(lf.combinedPath)
	if err != nil {
		return nil, err
	}
	lf.combined = &taggedLog{f: f}
	return lf, nil
}

func openAppend(path string) (*os.File, error) {
	// #nosec G304 -- path is derived from a sanitized basename under the
	// runner's own log directory
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
}

// sinkFor returns the drain sink for one stream, or nil when logging is
// disabled for the invocation.
func (lf *logFiles) sinkFor(stream string) logSink {
	if lf == nil {
		return nil
	}
	if lf.combined != nil {
		return &taggedSink{log: lf.combined, stream: stream}
	}
	if stream == streamStdout {
		return &rawSink{f: lf.stdout}
	}
	return &rawSink{f: lf.stderr}
}

func (lf *logFiles) close() {
	if lf == nil {
		return
	}
	if lf.combined != nil {
		_ = lf.combined.f.Close()
	}
	if lf.stdout != nil {
		_ = lf.stdout.Close()
	}
	if lf.stderr != nil {
		_ = lf.stderr.Close()
	}
}

// stripTaggedLines extracts the payloads of lines tagged with stream from a
// combined log, recovering the original output lines.
func stripTaggedLines(content, stream string) string {
	tag := "] [" + stream + "] "
	var sb strings.Builder
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(line, "[") {
			continue
		}
		i := strings.Index(line, tag)
		if i < 0 {
			continue
		}
		sb.WriteString(line[i+len(tag):])
		sb.WriteByte('\n')
	}
	return sb.String()
}

// logSink receives raw chunk bytes from a drain task. flush is called once
// at end-of-stream to push any buffered partial line.
type logSink interface {
	writeChunk(chunk []byte) error
	flush() error
}

// rawSink appends chunks verbatim (split mode).
type rawSink struct {
	f *os.File
}

func (s *rawSink) writeChunk(chunk []byte) error {
	_, err := s.f.Write(chunk)
	return err
}

func (s *rawSink) flush() error { return nil }

// taggedLog serializes writes to the combined log file shared by the two
// drain goroutines.
type taggedLog struct {
	mu sync.Mutex
	f  *os.File
}

func (l *taggedLog) writeLine(stream string, line []byte) error {
	line = bytes.TrimRight(line, "\r")
	ts := time.Now().Format(logTimestampLayout)
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := fmt.Fprintf(l.f, "[%s] [%s] %s%s", ts, stream, line, eol)
	return err
}

// taggedSink buffers partial lines per stream and writes complete ones with
// a timestamp and stream tag (combined mode).
type taggedSink struct {
	log     *taggedLog
	stream  string
	pending []byte
}

func (s *taggedSink) writeChunk(chunk []byte) error {
	s.pending = append(s.pending, chunk...)
	for {
		i := bytes.IndexByte(s.pending, '\n')
		if i < 0 {
			return nil
		}
		line := s.pending[:i]
		if err := s.log.writeLine(s.stream, line); err != nil {
			return err
		}
		s.pending = s.pending[i+1:]
	}
}

func (s *taggedSink) flush() error {
	if len(s.pending) == 0 {
		return nil
	}
	line := s.pending
	s.pending = nil
	return s.log.writeLine(s.stream, line)
}
