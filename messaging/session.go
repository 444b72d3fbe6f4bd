package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/glimte/mmate-jms/contracts"
	"github.com/glimte/mmate-jms/message"
	"github.com/glimte/mmate-jms/transport"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// unackedEntry locates one delivered but unacknowledged sample
type unackedEntry struct {
	reader transport.Reader
	handle transport.InstanceHandle
}

// Session creates producers and consumers and tracks what they delivered until it is
// acknowledged or recovered. Asynchronous deliveries of a session run on one worker.
type Session struct {
	id         string
	conn       *Connection
	transacted bool
	ackMode    contracts.AckMode
	gate       *DeliveryGate
	executor   *DeliveryExecutor
	logger     *slog.Logger

	// unacknowledged deliveries per consumer, consumers in first delivery order
	mu      sync.Mutex
	unacked map[*Consumer][]unackedEntry
	order   []*Consumer

	resMu     sync.Mutex
	consumers map[*Consumer]struct{}
	producers map[*Producer]struct{}
	closed    bool
}

func newSession(conn *Connection, transacted bool, ackMode contracts.AckMode) *Session {
	s := &Session{
		id:         uuid.NewString(),
		conn:       conn,
		transacted: transacted,
		ackMode:    ackMode,
		gate:       NewDeliveryGate(),
		unacked:    make(map[*Consumer][]unackedEntry),
		consumers:  make(map[*Consumer]struct{}),
		producers:  make(map[*Producer]struct{}),
	}
	s.logger = conn.logger.With("session", s.id)
	s.gate.Start()
	s.executor = NewDeliveryExecutor(withDelivery(context.Background(), s), conn.gate, s.gate, conn.queueSize, s.logger)
	return s
}

// AcknowledgeMode returns the acknowledge mode
func (s *Session) AcknowledgeMode() contracts.AckMode {
	return s.ackMode
}

// Transacted reports whether the session was created transacted
func (s *Session) Transacted() bool {
	return s.transacted
}

func (s *Session) resource() string {
	return "session " + s.id
}

func (s *Session) isClosed() bool {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	return s.closed
}

// CreateTopic returns the topic with the given name
func (s *Session) CreateTopic(name string) (*contracts.Topic, error) {
	return contracts.NewTopic(name)
}

// CreateQueue always fails: point-to-point queues are not supported
func (s *Session) CreateQueue(name string) (contracts.Destination, error) {
	return nil, fmt.Errorf("%w: queue %q: only topics are supported", contracts.ErrUnsupportedOperation, name)
}

// CreateTemporaryTopic creates a topic that lives as long as the connection. Only consumers
// of the same connection may subscribe to it.
func (s *Session) CreateTemporaryTopic() (*contracts.TemporaryTopic, error) {
	if s.isClosed() {
		return nil, contracts.Closed("create temporary topic", s.resource())
	}
	return s.conn.createTemporaryTopic()
}

func (s *Session) CreateBytesMessage() *message.BytesMessage {
	return message.NewBytesMessage()
}

func (s *Session) CreateMapMessage() *message.MapMessage {
	return message.NewMapMessage()
}

func (s *Session) CreateStreamMessage() *message.StreamMessage {
	return message.NewStreamMessage()
}

func (s *Session) CreateTextMessage(text string) *message.TextMessage {
	return message.NewTextMessage(text)
}

// CreateObjectMessage returns an object message holding v
func (s *Session) CreateObjectMessage(v any) (*message.ObjectMessage, error) {
	m := message.NewObjectMessage()
	if v == nil {
		return m, nil
	}
	if err := m.SetObject(v); err != nil {
		return nil, err
	}
	return m, nil
}

// CreateProducer creates a producer bound to dest, or an unbound producer when dest is nil
func (s *Session) CreateProducer(ctx context.Context, dest contracts.Destination) (*Producer, error) {
	if s.isClosed() {
		return nil, contracts.Closed("create producer", s.resource())
	}
	p, err := newProducer(ctx, s, dest)
	if err != nil {
		return nil, err
	}
	if !s.addProducer(p) {
		_ = p.Close()
		return nil, contracts.Closed("create producer", s.resource())
	}
	return p, nil
}

// CreateConsumer creates a non-durable consumer on dest
func (s *Session) CreateConsumer(ctx context.Context, dest contracts.Destination, opts ...ConsumerOption) (*Consumer, error) {
	if dest == nil {
		return nil, fmt.Errorf("%w: consumer destination is nil", contracts.ErrInvalidDestination)
	}
	if err := s.conn.checkConsumable(dest); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, contracts.Closed("create consumer", s.resource())
	}

	var o consumerOptions
	for _, opt := range opts {
		opt(&o)
	}

	reader, err := s.conn.participant.CreateReader(ctx, dest.TopicName(), transport.QoS{
		Durability: transport.Volatile,
		Reliable:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create reader for %s: %w", dest, err)
	}

	c := newConsumer(s, dest, reader, o, nil)
	if !s.addConsumer(c) {
		_ = c.Close()
		return nil, contracts.Closed("create consumer", s.resource())
	}
	return c, nil
}

// CreateDurableSubscriber creates a consumer on a named durable subscription. Messages
// acknowledged on the subscription are never delivered to it again, also across restarts.
// The connection needs a client id.
func (s *Session) CreateDurableSubscriber(ctx context.Context, topic *contracts.Topic, name string, opts ...ConsumerOption) (*Consumer, error) {
	if topic == nil {
		return nil, fmt.Errorf("%w: durable subscriber topic is nil", contracts.ErrInvalidDestination)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: subscription name cannot be empty", contracts.ErrInvalidArgument)
	}
	if s.isClosed() {
		return nil, contracts.Closed("create durable subscriber", s.resource())
	}

	var o consumerOptions
	for _, opt := range opts {
		opt(&o)
	}

	sub, err := s.conn.registerDurable(name)
	if err != nil {
		return nil, err
	}
	if err := s.conn.bindDurable(ctx, sub, topic.TopicName()); err != nil {
		s.conn.releaseDurable(name)
		return nil, err
	}

	reader, err := s.conn.participant.CreateReader(ctx, topic.TopicName(), transport.QoS{
		Durability:       transport.TransientLocal,
		Reliable:         true,
		SubscriptionName: subscriptionName(sub),
	})
	if err != nil {
		s.conn.releaseDurable(name)
		return nil, fmt.Errorf("failed to create reader for %s: %w", topic, err)
	}

	c := newConsumer(s, topic, reader, o, &sub)
	if !s.addConsumer(c) {
		_ = c.Close()
		return nil, contracts.Closed("create durable subscriber", s.resource())
	}
	s.logger.Debug("durable subscriber created", "subscription", sub.String(), "topic", topic.TopicName())
	return c, nil
}

// Unsubscribe deletes a durable subscription and its acknowledgment history. It fails while
// a subscriber on the subscription is open.
func (s *Session) Unsubscribe(ctx context.Context, name string) error {
	if s.isClosed() {
		return contracts.Closed("unsubscribe", s.resource())
	}
	return s.conn.unsubscribe(ctx, name)
}

func (s *Session) addConsumer(c *Consumer) bool {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	if s.closed {
		return false
	}
	s.consumers[c] = struct{}{}
	return true
}

func (s *Session) forgetConsumer(c *Consumer) {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	delete(s.consumers, c)
}

func (s *Session) addProducer(p *Producer) bool {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	if s.closed {
		return false
	}
	s.producers[p] = struct{}{}
	return true
}

func (s *Session) forgetProducer(p *Producer) {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	delete(s.producers, p)
}

// addUnacked records a delivery of c
func (s *Session) addUnacked(c *Consumer, e unackedEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.unacked[c]; !ok {
		s.order = append(s.order, c)
	}
	s.unacked[c] = append(s.unacked[c], e)
}

// takeUnacked swaps out the unacknowledged set
func (s *Session) takeUnacked() (map[*Consumer][]unackedEntry, []*Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending, order := s.unacked, s.order
	s.unacked = make(map[*Consumer][]unackedEntry)
	s.order = nil
	return pending, order
}

func (s *Session) unackedCount(c *Consumer) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unacked[c])
}

// Acknowledge acknowledges every message the session delivered so far. Messages delivered
// while it runs stay unacknowledged. Calling it again without new deliveries does nothing.
func (s *Session) Acknowledge(ctx context.Context) error {
	if s.isClosed() {
		return contracts.Closed("acknowledge", s.resource())
	}

	pending, order := s.takeUnacked()
	if len(order) == 0 {
		return nil
	}

	ctx, span := s.conn.tracer.Start(ctx, "session.acknowledge")
	defer span.End()

	var (
		n    int
		errs []error
	)
	for _, c := range order {
		for _, e := range pending[c] {
			sample, _, ok := e.reader.TakeInstance(e.handle)
			if !ok {
				continue
			}
			n++
			if err := c.markAcknowledged(ctx, sample); err != nil {
				errs = append(errs, err)
			}
		}
	}

	s.conn.metrics.Acknowledged(n)
	span.SetAttributes(attribute.Int("messaging.batch.message_count", n))
	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "acknowledge failed")
		return contracts.NewOperationError("acknowledge", s.resource(), err)
	}
	return nil
}

// Recover redelivers every unacknowledged message of the session, flagged as redelivered.
// Delivery to the session is suspended until the unacknowledged set has been handed back to
// its consumers. The set is empty when Recover returns.
//
// Recover may be called from a message listener of the session with any context. Listener
// redeliveries are queued behind the running listener.
func (s *Session) Recover(ctx context.Context) error {
	if s.isClosed() {
		return contracts.Closed("recover", s.resource())
	}
	if s.transacted {
		return contracts.NewOperationError("recover", s.resource(),
			fmt.Errorf("%w: recover is not allowed on a transacted session", contracts.ErrIllegalState))
	}

	ctx, span := s.conn.tracer.Start(ctx, "session.recover")
	defer span.End()

	// waits for pull-side receives only
	if err := s.gate.Stop(ctx); err != nil {
		s.gate.Start()
		span.RecordError(err)
		return fmt.Errorf("failed to suspend delivery: %w", err)
	}
	defer s.gate.Start()

	pending, order := s.takeUnacked()
	n := 0
	for _, c := range order {
		entries := pending[c]
		n += len(entries)
		c.recover(entries)
	}

	s.conn.metrics.Recovered(n)
	span.SetAttributes(attribute.Int("messaging.batch.message_count", n))
	s.logger.Debug("session recovered", "messages", n, "consumers", len(order))
	return nil
}

// Commit is not implemented
func (s *Session) Commit(context.Context) error {
	return s.transactionOp("commit")
}

// Rollback is not implemented
func (s *Session) Rollback(context.Context) error {
	return s.transactionOp("rollback")
}

func (s *Session) transactionOp(op string) error {
	if s.transacted {
		return contracts.NewOperationError(op, s.resource(),
			fmt.Errorf("%w: transactions are not supported", contracts.ErrUnsupportedOperation))
	}
	return contracts.NewOperationError(op, s.resource(),
		fmt.Errorf("%w: session is not transacted", contracts.ErrIllegalState))
}

// Close closes every producer and consumer of the session, then stops its delivery worker.
// A message listener cannot close its own session; it is recognised by the context it was
// handed.
func (s *Session) Close(ctx context.Context) error {
	if deliveringSession(ctx) == s {
		return contracts.NewOperationError("close", s.resource(),
			fmt.Errorf("%w: a message listener cannot close its own session", contracts.ErrIllegalState))
	}
	return s.close()
}

func (s *Session) close() error {
	s.resMu.Lock()
	if s.closed {
		s.resMu.Unlock()
		return nil
	}
	s.closed = true
	consumers := make([]*Consumer, 0, len(s.consumers))
	for c := range s.consumers {
		consumers = append(consumers, c)
	}
	producers := make([]*Producer, 0, len(s.producers))
	for p := range s.producers {
		producers = append(producers, p)
	}
	s.resMu.Unlock()

	for _, p := range producers {
		if err := p.Close(); err != nil {
			s.logger.Warn("failed to close producer", "producer", p.id, "error", err)
		}
	}
	for _, c := range consumers {
		if err := c.Close(); err != nil {
			s.logger.Warn("failed to close consumer", "consumer", c.id, "error", err)
		}
	}

	s.executor.Shutdown()
	s.gate.Close()
	s.conn.forgetSession(s)
	s.logger.Debug("session closed")
	return nil
}
