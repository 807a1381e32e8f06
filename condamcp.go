package condamcp

import (
	"context"
	"net/http"

	"github.com/jnoller/condamcp/internal/history"
	"github.com/jnoller/condamcp/internal/history/factory"
	"github.com/jnoller/condamcp/internal/metrics"
	"github.com/jnoller/condamcp/internal/runner"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = runner.Config

type Options = runner.Options

type Status = runner.Status

type Summary = runner.Summary

type State = runner.State

type Observer = runner.Observer

type ObserverFunc = runner.ObserverFunc

type KillOutcome = runner.KillOutcome

const (
	StateRunning   = runner.StateRunning
	StateCompleted = runner.StateCompleted
	StateFailed    = runner.StateFailed
	StateNotFound  = runner.StateNotFound
)

const (
	OutcomeTerminated    = runner.OutcomeTerminated
	OutcomeKilled        = runner.OutcomeKilled
	OutcomeAlreadyExited = runner.OutcomeAlreadyExited
)

// Error types, re-exported so callers can errors.As against them.

type ValidationError = runner.ValidationError

type SpawnError = runner.SpawnError

type TimeoutError = runner.TimeoutError

type NotFoundError = runner.NotFoundError

type ParseError = runner.ParseError

var ErrTrackingDisabled = runner.ErrTrackingDisabled

type HistorySink = history.Sink

// Runner is a thin facade over internal/runner.Runner.
// It provides a stable public API for embedding.

type Runner struct{ inner *runner.Runner }

func New(cfg Config) (*Runner, error) {
	inner, err := runner.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Runner{inner: inner}, nil
}

// Args coerces primitives to the string arguments Run and Launch expect.
func Args(vals ...any) []string { return runner.Args(vals...) }

func (r *Runner) Run(ctx context.Context, command string, args []string, opts Options) (Status, error) {
	return r.inner.Run(ctx, command, args, opts)
}

func (r *Runner) Launch(command string, args []string, opts Options) (Status, error) {
	return r.inner.Launch(command, args, opts)
}

func (r *Runner) Get(pid int) (Summary, error)        { return r.inner.Get(pid) }
func (r *Runner) List() (map[int]Status, error)       { return r.inner.List() }
func (r *Runner) Kill(pid int) (KillOutcome, error)   { return r.inner.Kill(pid) }
func (r *Runner) KillAll() error                      { return r.inner.KillAll() }
func (r *Runner) Remove(pid int) error                { return r.inner.Remove(pid) }
func (r *Runner) ReadLog(pid, tail int) (string, error) {
	return r.inner.ReadLog(pid, tail)
}
func (r *Runner) ReadJSON(pid int) (any, error) { return r.inner.ReadJSON(pid) }
func (r *Runner) Wait(ctx context.Context, pid int) (Summary, error) {
	return r.inner.Wait(ctx, pid)
}
func (r *Runner) LogDir() string { return r.inner.LogDir() }
func (r *Runner) Teardown()      { r.inner.Teardown() }

// NewHistorySink creates an invocation-history sink from a DSN
// (sqlite path, sqlite://, postgres://).
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// RegisterMetrics registers the runner's Prometheus collectors.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// MetricsHandler serves the default Prometheus gatherer; the embedder owns
// the HTTP server and route.
func MetricsHandler() http.Handler { return metrics.Handler() }
