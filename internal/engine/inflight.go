package engine

import "sync"

// flightGuard enforces at most one in-progress run per worker id. A
// second acquire for the same id fails immediately; callers are never
// queued.
type flightGuard struct {
	mu     sync.Mutex
	active map[int64]struct{}
}

func newFlightGuard() *flightGuard {
	return &flightGuard{active: make(map[int64]struct{})}
}

func (g *flightGuard) tryAcquire(id int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[id]; busy {
		return false
	}
	g.active[id] = struct{}{}
	return true
}

func (g *flightGuard) release(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, id)
}

func (g *flightGuard) inFlight(id int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.active[id]
	return busy
}
