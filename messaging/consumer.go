package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glimte/mmate-jms/contracts"
	"github.com/glimte/mmate-jms/internal/durable"
	"github.com/glimte/mmate-jms/message"
	"github.com/glimte/mmate-jms/transport"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Consumer receives messages from one destination, either by Receive or through a
// MessageListener. Samples are handed out by descending priority, ties in arrival order.
type Consumer struct {
	id        string
	session   *Session
	dest      contracts.Destination
	reader    transport.Reader
	cond      *transport.ReadCondition
	redeliver *transport.GuardCondition
	waitSet   *transport.WaitSet
	noLocal   bool
	sub       *durable.Subscription
	logger    *slog.Logger

	// cancelled by Close to wake blocked receives
	ctx    context.Context
	cancel context.CancelFunc

	notifying atomic.Bool

	mu       sync.Mutex
	listener MessageListener
	staged   []unackedEntry
	closed   bool
}

func newConsumer(s *Session, dest contracts.Destination, reader transport.Reader, o consumerOptions, sub *durable.Subscription) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		id:        uuid.NewString(),
		session:   s,
		dest:      dest,
		reader:    reader,
		cond:      reader.CreateReadCondition(transport.NotRead, transport.ByPriority),
		redeliver: transport.NewGuardCondition(),
		waitSet:   transport.NewWaitSet(),
		noLocal:   o.noLocal,
		sub:       sub,
		ctx:       ctx,
		cancel:    cancel,
	}
	c.logger = s.logger.With("consumer", c.id, "destination", dest.String())
	c.waitSet.Attach(c.cond)
	c.waitSet.Attach(c.redeliver)
	reader.SetListener(c.notify)
	return c
}

// Destination returns the destination the consumer reads from
func (c *Consumer) Destination() contracts.Destination {
	return c.dest
}

// SubscriptionName returns the durable subscription name, empty for non-durable consumers
func (c *Consumer) SubscriptionName() string {
	if c.sub == nil {
		return ""
	}
	return c.sub.Name
}

// NoLocal reports whether messages sent by the consumer's own connection are skipped
func (c *Consumer) NoLocal() bool {
	return c.noLocal
}

// MessageListener returns the registered listener, nil in pull mode
func (c *Consumer) MessageListener() MessageListener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listener
}

// SetMessageListener switches the consumer to push delivery. A nil listener switches back to
// Receive. Setting a listener replaces the previous one.
func (c *Consumer) SetMessageListener(l MessageListener) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return contracts.Closed("set message listener", c.resource())
	}
	c.listener = l
	c.mu.Unlock()

	if l != nil {
		c.notify()
	}
	return nil
}

func (c *Consumer) resource() string {
	return "consumer " + c.id
}

func (c *Consumer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Consumer) checkPull(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return contracts.Closed(op, c.resource())
	}
	if c.listener != nil {
		return contracts.NewOperationError(op, c.resource(),
			fmt.Errorf("%w: consumer has a message listener", contracts.ErrIllegalState))
	}
	return nil
}

// Receive waits up to timeout for the next message; zero waits until a message arrives. It
// returns nil without an error when the timeout passes or the consumer is closed meanwhile.
// In an auto-acknowledge session the message is acknowledged before Receive returns.
func (c *Consumer) Receive(ctx context.Context, timeout time.Duration) (message.Message, error) {
	if timeout < 0 {
		return nil, fmt.Errorf("%w: receive timeout %v is negative", contracts.ErrInvalidArgument, timeout)
	}
	if err := c.checkPull("receive"); err != nil {
		return nil, err
	}

	ctx, cancel := c.bind(ctx)
	defer cancel()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, timeout)
		defer cancelTimeout()
	}

	for {
		msg, entered, err := c.poll(ctx, true)
		if err != nil || msg != nil {
			return msg, err
		}
		if !entered {
			// gate closed, or ctx ended while the connection was stopped
			return nil, c.receiveEnded(ctx.Err())
		}
		if _, err := c.waitSet.Wait(ctx); err != nil {
			return nil, c.receiveEnded(err)
		}
	}
}

// receiveEnded maps the reason a blocked Receive ended to its error. Timeouts and closing
// are not errors.
func (c *Consumer) receiveEnded(err error) error {
	switch {
	case err == nil, c.isClosed(),
		errors.Is(err, transport.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return nil
	default:
		return err
	}
}

// ReceiveNoWait returns the next message if one is available right now
func (c *Consumer) ReceiveNoWait(ctx context.Context) (message.Message, error) {
	if err := c.checkPull("receive no wait"); err != nil {
		return nil, err
	}
	msg, _, err := c.poll(ctx, false)
	return msg, err
}

// bind derives a context that is also cancelled when the consumer closes
func (c *Consumer) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// poll takes one message inside the delivery gates. entered is false when the gates could
// not be entered.
func (c *Consumer) poll(ctx context.Context, block bool) (msg message.Message, entered bool, err error) {
	if !c.enter(ctx, block) {
		return nil, false, nil
	}
	defer c.leave()

	msg = c.next(ctx)
	if msg == nil {
		return nil, true, nil
	}
	if c.session.ackMode.AutoAcks() {
		if err := c.session.Acknowledge(ctx); err != nil {
			c.logger.Warn("failed to acknowledge received message", "message_id", msg.Env().MessageID, "error", err)
		}
	}
	return msg, true, nil
}

func (c *Consumer) enter(ctx context.Context, block bool) bool {
	connGate, sessionGate := c.session.conn.gate, c.session.gate
	if block {
		if !connGate.Enter(ctx) {
			return false
		}
		if !sessionGate.Enter(ctx) {
			connGate.Leave()
			return false
		}
		return true
	}
	if !connGate.TryEnter() {
		return false
	}
	if !sessionGate.TryEnter() {
		connGate.Leave()
		return false
	}
	return true
}

func (c *Consumer) leave() {
	c.session.gate.Leave()
	c.session.conn.gate.Leave()
}

// next returns the next deliverable message, staged redeliveries first, or nil
func (c *Consumer) next(ctx context.Context) message.Message {
	for {
		if e, ok := c.popStaged(); ok {
			sample, _, found := e.reader.ReadInstance(e.handle)
			if !found {
				continue
			}
			if msg := c.accept(ctx, sample, e.handle, true); msg != nil {
				return msg
			}
			continue
		}

		sample, info, ok := c.reader.ReadNext(c.cond)
		if !ok {
			return nil
		}
		if msg := c.accept(ctx, sample, info.Handle, false); msg != nil {
			return msg
		}
	}
}

func (c *Consumer) popStaged() (unackedEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.staged) == 0 {
		c.redeliver.Reset()
		return unackedEntry{}, false
	}
	e := c.staged[0]
	c.staged = c.staged[1:]
	return e, true
}

// accept turns a sample into a delivered message. Samples that must not be delivered are
// taken from the reader and nil is returned.
func (c *Consumer) accept(ctx context.Context, sample transport.Sample, h transport.InstanceHandle, redelivered bool) message.Message {
	msg, err := message.Decode(sample.Data)
	if err != nil {
		c.logger.Warn("dropping undecodable sample", "key", sample.Key, "error", err)
		c.reader.TakeInstance(h)
		return nil
	}

	env := msg.Env()
	if env.Expired(time.Now()) {
		c.logger.Debug("dropping expired message", "message_id", env.MessageID, "expiration", env.Expiration)
		c.reader.TakeInstance(h)
		return nil
	}
	if c.noLocal && env.Origin() == c.session.conn.id {
		c.reader.TakeInstance(h)
		return nil
	}
	if c.sub != nil {
		acked, err := c.session.conn.store.IsAcknowledged(ctx, *c.sub, sample.Key)
		switch {
		case err != nil:
			c.logger.Warn("failed to check durable acknowledgment", "key", sample.Key, "error", err)
		case acked:
			c.logger.Debug("skipping message acknowledged on durable subscription", "key", sample.Key)
			c.reader.TakeInstance(h)
			return nil
		}
	}

	env.Redelivered = redelivered
	env.SetAcknowledger(c.session)
	c.session.addUnacked(c, unackedEntry{reader: c.reader, handle: h})
	c.session.conn.metrics.MessageReceived(c.dest.TopicName(), redelivered)
	return msg
}

// markAcknowledged records an acknowledged sample of a durable consumer
func (c *Consumer) markAcknowledged(ctx context.Context, sample transport.Sample) error {
	if c.sub == nil {
		return nil
	}
	if err := c.session.conn.store.MarkAcknowledged(ctx, *c.sub, sample.Key); err != nil {
		return fmt.Errorf("failed to record acknowledgment on %s: %w", c.sub, err)
	}
	return nil
}

// recover stages previously delivered entries for redelivery. With a listener they are
// redelivered on the session worker, otherwise by the next Receive.
func (c *Consumer) recover(entries []unackedEntry) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.staged = append(c.staged, entries...)
	push := c.listener != nil
	c.mu.Unlock()

	if push {
		c.notify()
		return
	}
	c.redeliver.Trigger()
}

func (c *Consumer) hasPending() bool {
	c.mu.Lock()
	staged := len(c.staged) > 0
	c.mu.Unlock()
	return staged || c.cond.Triggered()
}

// notify schedules one listener delivery. At most one is queued per consumer.
func (c *Consumer) notify() {
	if c.MessageListener() == nil {
		return
	}
	if !c.notifying.CompareAndSwap(false, true) {
		return
	}
	if err := c.session.executor.Submit(c.deliverNext); err != nil {
		c.notifying.Store(false)
	}
}

// deliverNext hands one message to the listener and reschedules itself while messages remain
func (c *Consumer) deliverNext(ctx context.Context) error {
	c.notifying.Store(false)

	l := c.MessageListener()
	if l == nil || c.isClosed() {
		return nil
	}
	defer func() {
		if c.hasPending() {
			c.notify()
		}
	}()

	if msg := c.next(ctx); msg != nil {
		c.dispatch(ctx, l, msg)
	}
	return nil
}

func (c *Consumer) dispatch(ctx context.Context, l MessageListener, msg message.Message) {
	env := msg.Env()
	ctx, span := c.session.conn.tracer.Start(ctx, "consumer.deliver",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", c.dest.TopicName()),
			attribute.String("messaging.message.id", env.MessageID),
			attribute.Bool("messaging.redelivered", env.Redelivered),
		))
	defer span.End()

	if err := l.OnMessage(ctx, msg); err != nil {
		c.logger.Error("message listener failed", "message_id", env.MessageID, "error", err)
		c.session.conn.metrics.ListenerError(c.dest.TopicName())
		span.RecordError(err)
		span.SetStatus(codes.Error, "listener failed")
	}

	if c.session.ackMode.AutoAcks() {
		if err := c.session.Acknowledge(ctx); err != nil {
			c.logger.Warn("failed to acknowledge delivered message", "message_id", env.MessageID, "error", err)
		}
	}
}

// Close stops the consumer and wakes a blocked Receive, which then returns nil. Closing a
// durable subscriber keeps the subscription. Close is idempotent.
func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.listener = nil
	c.staged = nil
	c.mu.Unlock()

	c.cancel()
	c.reader.SetListener(nil)
	c.waitSet.Detach(c.cond)
	c.waitSet.Detach(c.redeliver)
	c.reader.DeleteReadCondition(c.cond)
	err := c.reader.Close()

	if c.sub != nil {
		c.session.conn.releaseDurable(c.sub.Name)
	}
	c.session.forgetConsumer(c)

	if err != nil {
		return fmt.Errorf("failed to close reader: %w", err)
	}
	return nil
}
