package runner

import "sync"

// registry is the in-memory table of launched processes, keyed by pid. It is
// an explicit per-runner object rather than package state so independent
// runners never see each other's processes. The mutex covers table mutation
// only; record state has its own lock. Check-then-kill across the two locks
// is racy by design and tolerated: a process exiting between a liveness
// check and a signal is an expected outcome.
type registry struct {
	mu   sync.Mutex
	recs map[int]*Record
}

func newRegistry() *registry {
	return &registry{recs: make(map[int]*Record)}
}

func (g *registry) add(rec *Record) {
	g.mu.Lock()
	g.recs[rec.PID()] = rec
	g.mu.Unlock()
}

func (g *registry) get(pid int) (*Record, bool) {
	g.mu.Lock()
	rec, ok := g.recs[pid]
	g.mu.Unlock()
	return rec, ok
}

func (g *registry) remove(pid int) bool {
	g.mu.Lock()
	_, ok := g.recs[pid]
	delete(g.recs, pid)
	g.mu.Unlock()
	return ok
}

// snapshot returns a full copy of the table as immutable statuses.
func (g *registry) snapshot() map[int]Status {
	g.mu.Lock()
	recs := make([]*Record, 0, len(g.recs))
	for _, rec := range g.recs {
		recs = append(recs, rec)
	}
	g.mu.Unlock()

	out := make(map[int]Status, len(recs))
	for _, rec := range recs {
		s := rec.Snapshot()
		out[s.PID] = s
	}
	return out
}

// running returns the records whose processes have not been reaped yet.
func (g *registry) running() []*Record {
	g.mu.Lock()
	recs := make([]*Record, 0, len(g.recs))
	for _, rec := range g.recs {
		recs = append(recs, rec)
	}
	g.mu.Unlock()

	out := recs[:0]
	for _, rec := range recs {
		if rec.Snapshot().State == StateRunning {
			out = append(out, rec)
		}
	}
	return out
}
