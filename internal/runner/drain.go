package runner

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jnoller/condamcp/internal/metrics"
)

// chunkSize bounds the memory held per drain task. Reads are chunked, not
// line-buffered, so arbitrarily long lines and binary-unsafe output cannot
// grow a buffer.
const chunkSize = 4096

// drain reads one stream to exhaustion. Each chunk is appended to the sink,
// decoded with invalid-byte substitution, recorded as the stream's newest
// fragment, and delivered to the observer. Read failures stop the drain
// early; the invocation itself still completes with partial output
// preserved. Sink write failures stop logging but reading continues so the
// child never blocks on a full pipe.
func drain(stream io.Reader, name string, sink logSink, rec *Record, obs Observer, log *slog.Logger) {
	buf := make([]byte, chunkSize)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			metrics.AddOutputBytes(name, n)
			if sink != nil {
				if werr := sink.writeChunk(chunk); werr != nil {
					log.Warn("log write failed, disabling logging for stream",
						"pid", rec.PID(), "stream", name, "error", werr)
					rec.setErr(werr)
					sink = nil
				}
			}
			text := strings.ToValidUTF8(string(chunk), "�")
			rec.setFragment(name, text)
			if obs != nil {
				obs.OnStatus(rec.fragmentStatus(name, text))
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				log.Warn("stream read failed, stopping drain",
					"pid", rec.PID(), "stream", name, "error", err)
				rec.setErr(err)
			}
			break
		}
	}
	if sink != nil {
		if err := sink.flush(); err != nil {
			log.Warn("log flush failed", "pid", rec.PID(), "stream", name, "error", err)
		}
	}
}
