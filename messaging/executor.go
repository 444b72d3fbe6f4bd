package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/glimte/mmate-jms/contracts"
)

// DefaultExecutorQueueSize is the task queue capacity of a session delivery worker
const DefaultExecutorQueueSize = 64

type task func(ctx context.Context) error

// DeliveryExecutor runs asynchronous deliveries of one session on a single worker. Each task
// runs inside the connection gate once the session gate is open. The worker holds no slot in
// the session gate, so a task may suspend its own session.
type DeliveryExecutor struct {
	tasks       chan task
	connGate    *DeliveryGate
	sessionGate *DeliveryGate
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDeliveryExecutor starts the worker. Tasks receive a context derived from parent that is
// cancelled by Shutdown.
func NewDeliveryExecutor(parent context.Context, connGate, sessionGate *DeliveryGate, queueSize int, logger *slog.Logger) *DeliveryExecutor {
	if queueSize <= 0 {
		queueSize = DefaultExecutorQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	e := &DeliveryExecutor{
		tasks:       make(chan task, queueSize),
		connGate:    connGate,
		sessionGate: sessionGate,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
	e.wg.Add(1)
	go e.run()
	return e
}

// Submit queues t without blocking the caller. When the queue is full the hand-off finishes
// in the background, so a task may submit further tasks to its own executor.
func (e *DeliveryExecutor) Submit(t task) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return contracts.Closed("submit", "delivery executor")
	}

	select {
	case e.tasks <- t:
		return nil
	default:
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		select {
		case e.tasks <- t:
		case <-e.ctx.Done():
		}
	}()
	return nil
}

func (e *DeliveryExecutor) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case t := <-e.tasks:
			e.execute(t)
		}
	}
}

func (e *DeliveryExecutor) execute(t task) {
	if e.ctx.Err() != nil {
		return
	}
	if !e.connGate.Enter(e.ctx) {
		return
	}
	defer e.connGate.Leave()
	if !e.sessionGate.Await(e.ctx) {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("delivery task panicked", "panic", fmt.Sprint(r))
		}
	}()
	if err := t(e.ctx); err != nil {
		e.logger.Error("delivery task failed", "error", err)
	}
}

// Shutdown stops intake, drops queued tasks that have not started and waits for the worker.
// A task that is already running is allowed to finish.
func (e *DeliveryExecutor) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}
