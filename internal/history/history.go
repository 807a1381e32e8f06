package history

import (
	"context"
	"strings"
	"time"
)

// EventType defines the kind of invocation lifecycle event.
type EventType string

const (
	EventSpawn EventType = "spawn"
	EventExit  EventType = "exit"
)

// Event is the audit record emitted for one process lifecycle transition.
// Exit events carry the terminal state and exit code; spawn events carry
// only identity.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	PID        int       `json:"pid"`
	Command    string    `json:"command"`
	Args       []string  `json:"args"`
	State      string    `json:"state"`
	ExitCode   int       `json:"exit_code"`
	LogPath    string    `json:"log_path,omitempty"`
}

// CommandLine renders the invocation for storage in a single column.
func (e Event) CommandLine() string {
	if len(e.Args) == 0 {
		return e.Command
	}
	return e.Command + " " + strings.Join(e.Args, " ")
}

// Sink is a destination for invocation history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
