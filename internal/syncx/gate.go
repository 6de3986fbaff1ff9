package syncx

import (
	"context"
	"sync"
)

// Gate is a re-armable, level-triggered signal. Set opens it and releases
// every current and future waiter until Clear re-arms it. It replaces the
// usual one-shot closed channel in places that need to signal repeatedly,
// like connection readiness and rescan requests.
type Gate struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

// NewGate returns a closed (armed) gate.
func NewGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Set opens the gate. Setting an open gate is a no-op.
func (g *Gate) Set() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.set {
		g.set = true
		close(g.ch)
	}
}

// Clear re-arms the gate so subsequent waits block until the next Set.
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.set {
		g.set = false
		g.ch = make(chan struct{})
	}
}

// IsSet reports whether the gate is currently open.
func (g *Gate) IsSet() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.set
}

// Done returns a channel that is closed while the gate is open. The
// channel is replaced on Clear, so it must be re-acquired for every wait.
func (g *Gate) Done() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ch
}

// Wait blocks until the gate opens or the context ends.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
