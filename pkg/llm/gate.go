package llm

import (
	"context"
	"sync"
)

// Priority is the scheduling class of a dispatcher call.
type Priority int

const (
	// PriorityNormal is bulk profile-reduction traffic. New NORMAL calls
	// wait until no HIGH call is in flight.
	PriorityNormal Priority = iota

	// PriorityHigh is latency-critical discovery traffic. HIGH calls never
	// wait on NORMAL ones.
	PriorityHigh
)

// String returns the human-readable name of the priority.
func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "normal"
}

// priorityGate tracks in-flight HIGH calls and lets NORMAL callers wait for
// the queue to drain. The drained channel is swapped out when the first HIGH
// call enters and closed when the last one exits, so every waiter observes
// exactly one open/close cycle.
type priorityGate struct {
	mu       sync.Mutex
	inflight int
	drained  chan struct{}
}

func newPriorityGate() *priorityGate {
	g := &priorityGate{drained: make(chan struct{})}
	close(g.drained)
	return g
}

// enterHigh registers one in-flight HIGH call.
func (g *priorityGate) enterHigh() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight == 0 {
		g.drained = make(chan struct{})
	}
	g.inflight++
}

// exitHigh deregisters one HIGH call, signaling waiters when the last one
// leaves.
func (g *priorityGate) exitHigh() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inflight--
	if g.inflight == 0 {
		close(g.drained)
	}
}

// waitDrained blocks until no HIGH call is in flight or ctx is done.
func (g *priorityGate) waitDrained(ctx context.Context) error {
	for {
		g.mu.Lock()
		ch := g.drained
		g.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}

		// A new HIGH call may have entered between the close and this
		// check; loop until we observe a drained gate.
		g.mu.Lock()
		idle := g.inflight == 0
		g.mu.Unlock()
		if idle {
			return nil
		}
	}
}

// highInFlight reports the current HIGH counter, for observability.
func (g *priorityGate) highInFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inflight
}
