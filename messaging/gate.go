package messaging

import (
	"context"
	"sync"
)

// DeliveryGate lets deliveries proceed only while it is started. Stop waits until every
// delivery that entered the gate has left it.
//
// Any number of deliveries may be in flight at once: a connection gate is shared by all of
// its sessions.
type DeliveryGate struct {
	mu      sync.Mutex
	started bool
	closed  bool
	busy    int

	startedCh chan struct{} // closed while started, or once the gate is closed
	idleCh    chan struct{} // closed while busy == 0
}

// NewDeliveryGate returns a stopped gate
func NewDeliveryGate() *DeliveryGate {
	idle := make(chan struct{})
	close(idle)
	return &DeliveryGate{
		startedCh: make(chan struct{}),
		idleCh:    idle,
	}
}

// Start lets deliveries proceed and wakes deliveries waiting in Enter
func (g *DeliveryGate) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started || g.closed {
		return
	}
	g.started = true
	close(g.startedCh)
}

// Stop blocks new deliveries, then waits for in-flight deliveries to leave. If ctx ends
// first the gate stays stopped and ctx.Err() is returned.
func (g *DeliveryGate) Stop(ctx context.Context) error {
	g.mu.Lock()
	if g.started && !g.closed {
		g.started = false
		g.startedCh = make(chan struct{})
	}
	idle := g.idleCh
	g.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Started reports whether deliveries may currently enter
func (g *DeliveryGate) Started() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.started && !g.closed
}

// Enter waits until the gate is started and marks one delivery in flight. It returns false
// without entering when ctx ends or the gate is closed. Every successful Enter must be paired
// with Leave.
func (g *DeliveryGate) Enter(ctx context.Context) bool {
	for {
		g.mu.Lock()
		if g.closed {
			g.mu.Unlock()
			return false
		}
		if g.started {
			g.enterLocked()
			g.mu.Unlock()
			return true
		}
		wait := g.startedCh
		g.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return false
		}
	}
}

// Await waits until the gate is started without marking a delivery in flight. It returns
// false when ctx ends or the gate is closed.
func (g *DeliveryGate) Await(ctx context.Context) bool {
	for {
		g.mu.Lock()
		if g.closed {
			g.mu.Unlock()
			return false
		}
		if g.started {
			g.mu.Unlock()
			return true
		}
		wait := g.startedCh
		g.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return false
		}
	}
}

// TryEnter enters the gate only if it is started right now
func (g *DeliveryGate) TryEnter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || !g.started {
		return false
	}
	g.enterLocked()
	return true
}

func (g *DeliveryGate) enterLocked() {
	if g.busy == 0 {
		g.idleCh = make(chan struct{})
	}
	g.busy++
}

// Leave marks one delivery finished
func (g *DeliveryGate) Leave() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy == 0 {
		return
	}
	g.busy--
	if g.busy == 0 {
		close(g.idleCh)
	}
}

// Close makes every current and future Enter return false. It does not wait for in-flight
// deliveries; call Stop first for that.
func (g *DeliveryGate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	if !g.started {
		close(g.startedCh)
	}
}
