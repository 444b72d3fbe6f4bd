package transport

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
)

// Condition is something a WaitSet can block on
type Condition interface {
	Triggered() bool

	watch(ch chan struct{})
	unwatch(ch chan struct{})
}

// notifier fans a wakeup out to the WaitSets a condition is attached to
type notifier struct {
	mu      sync.Mutex
	waiters []chan struct{}
}

func (n *notifier) watch(ch chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.waiters = append(n.waiters, ch)
}

func (n *notifier) unwatch(ch chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.waiters = slices.DeleteFunc(n.waiters, func(w chan struct{}) bool { return w == ch })
}

func (n *notifier) notify() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.waiters {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// ReadCondition is triggered while its reader holds a sample matching the mask
type ReadCondition struct {
	notifier
	mask     SampleStateMask
	ordering Ordering
	pending  func(SampleStateMask) bool
}

// NewReadCondition is used by Reader implementations. pending reports whether the reader
// currently holds a sample matching a mask.
func NewReadCondition(mask SampleStateMask, ordering Ordering, pending func(SampleStateMask) bool) *ReadCondition {
	return &ReadCondition{mask: mask, ordering: ordering, pending: pending}
}

func (c *ReadCondition) Mask() SampleStateMask { return c.mask }
func (c *ReadCondition) Ordering() Ordering    { return c.ordering }

// Triggered implements Condition
func (c *ReadCondition) Triggered() bool {
	return c.pending(c.mask)
}

// Notify wakes the WaitSets this condition is attached to. Readers call it after new samples
// arrive.
func (c *ReadCondition) Notify() {
	c.notify()
}

// GuardCondition is triggered manually
type GuardCondition struct {
	notifier
	triggered atomic.Bool
}

// NewGuardCondition returns an untriggered guard condition
func NewGuardCondition() *GuardCondition {
	return &GuardCondition{}
}

// Trigger sets the condition and wakes attached WaitSets
func (g *GuardCondition) Trigger() {
	g.triggered.Store(true)
	g.notify()
}

// Reset clears the condition
func (g *GuardCondition) Reset() {
	g.triggered.Store(false)
}

// Triggered implements Condition
func (g *GuardCondition) Triggered() bool {
	return g.triggered.Load()
}

// WaitSet blocks until one of its attached conditions triggers
type WaitSet struct {
	mu    sync.Mutex
	conds []Condition
	wake  chan struct{}
}

// NewWaitSet returns an empty WaitSet
func NewWaitSet() *WaitSet {
	return &WaitSet{wake: make(chan struct{}, 1)}
}

// Attach adds c to the set
func (ws *WaitSet) Attach(c Condition) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if slices.Contains(ws.conds, c) {
		return
	}
	ws.conds = append(ws.conds, c)
	c.watch(ws.wake)
}

// Detach removes c from the set
func (ws *WaitSet) Detach(c Condition) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	idx := slices.Index(ws.conds, c)
	if idx < 0 {
		return
	}
	ws.conds = slices.Delete(ws.conds, idx, idx+1)
	c.unwatch(ws.wake)
}

// Wait blocks until at least one attached condition is triggered and returns the triggered
// conditions. It returns ErrTimeout when the deadline of ctx passes first, and ctx.Err() when
// ctx is cancelled.
func (ws *WaitSet) Wait(ctx context.Context) ([]Condition, error) {
	for {
		if ready := ws.triggered(); len(ready) > 0 {
			return ready, nil
		}
		select {
		case <-ws.wake:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrTimeout
			}
			return nil, ctx.Err()
		}
	}
}

func (ws *WaitSet) triggered() []Condition {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	var ready []Condition
	for _, c := range ws.conds {
		if c.Triggered() {
			ready = append(ready, c)
		}
	}
	return ready
}
