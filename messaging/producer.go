package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/mmate-jms/contracts"
	"github.com/glimte/mmate-jms/message"
	"github.com/glimte/mmate-jms/transport"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// writerPair holds the two publication paths of one destination
type writerPair struct {
	persistent transport.Writer
	volatile   transport.Writer
}

func (w *writerPair) forMode(mode contracts.DeliveryMode) transport.Writer {
	if mode == contracts.Persistent {
		return w.persistent
	}
	return w.volatile
}

func (w *writerPair) close() error {
	return errors.Join(w.persistent.Close(), w.volatile.Close())
}

// Producer sends messages. A producer created with a destination only supports Send; one
// created without supports only SendTo.
type Producer struct {
	id      string
	session *Session
	dest    contracts.Destination
	logger  *slog.Logger

	mu               sync.Mutex
	writers          map[string]*writerPair // by topic
	deliveryMode     contracts.DeliveryMode
	priority         int
	ttl              time.Duration
	disableID        bool
	disableTimestamp bool
	closed           bool
}

func newProducer(ctx context.Context, s *Session, dest contracts.Destination) (*Producer, error) {
	p := &Producer{
		id:           uuid.NewString(),
		session:      s,
		dest:         dest,
		writers:      make(map[string]*writerPair),
		deliveryMode: contracts.DefaultDeliveryMode,
		priority:     contracts.DefaultPriority,
		ttl:          contracts.DefaultTimeToLive,
	}
	p.logger = s.logger.With("producer", p.id)

	if dest != nil {
		if _, err := p.writersFor(ctx, dest); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Producer) resource() string {
	return "producer " + p.id
}

// Destination returns the bound destination, nil for unbound producers
func (p *Producer) Destination() contracts.Destination {
	return p.dest
}

// SetDeliveryMode sets the default delivery mode
func (p *Producer) SetDeliveryMode(mode contracts.DeliveryMode) error {
	if err := mode.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deliveryMode = mode
	return nil
}

// DeliveryMode returns the default delivery mode
func (p *Producer) DeliveryMode() contracts.DeliveryMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deliveryMode
}

// SetPriority sets the default priority
func (p *Producer) SetPriority(priority int) error {
	if err := contracts.ValidatePriority(priority); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.priority = priority
	return nil
}

// Priority returns the default priority
func (p *Producer) Priority() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.priority
}

// SetTimeToLive sets the default time to live; zero means messages never expire
func (p *Producer) SetTimeToLive(ttl time.Duration) error {
	if err := contracts.ValidateTimeToLive(ttl); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ttl = ttl
	return nil
}

// TimeToLive returns the default time to live
func (p *Producer) TimeToLive() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ttl
}

// SetDisableMessageID stops the producer from assigning message ids
func (p *Producer) SetDisableMessageID(disable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableID = disable
}

// SetDisableMessageTimestamp stops the producer from stamping send timestamps
func (p *Producer) SetDisableMessageTimestamp(disable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableTimestamp = disable
}

func (p *Producer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Send sends msg to the destination the producer is bound to
func (p *Producer) Send(ctx context.Context, msg message.Message, opts ...SendOption) error {
	if p.isClosed() {
		return contracts.Closed("send", p.resource())
	}
	if p.dest == nil {
		return contracts.NewOperationError("send", p.resource(),
			fmt.Errorf("%w: producer has no destination, use SendTo", contracts.ErrUnsupportedOperation))
	}
	return p.send(ctx, p.dest, msg, opts)
}

// SendTo sends msg to dest. Only producers created without a destination support it.
func (p *Producer) SendTo(ctx context.Context, dest contracts.Destination, msg message.Message, opts ...SendOption) error {
	if p.isClosed() {
		return contracts.Closed("send", p.resource())
	}
	if p.dest != nil {
		return contracts.NewOperationError("send", p.resource(),
			fmt.Errorf("%w: producer is bound to %s", contracts.ErrUnsupportedOperation, p.dest))
	}
	if dest == nil {
		return fmt.Errorf("%w: destination is nil", contracts.ErrInvalidDestination)
	}
	return p.send(ctx, dest, msg, opts)
}

func (p *Producer) send(ctx context.Context, dest contracts.Destination, msg message.Message, opts []SendOption) error {
	if msg == nil {
		return fmt.Errorf("%w: message is nil", contracts.ErrInvalidArgument)
	}

	p.mu.Lock()
	o := sendOptions{mode: p.deliveryMode, priority: p.priority, ttl: p.ttl}
	disableID, disableTimestamp := p.disableID, p.disableTimestamp
	p.mu.Unlock()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return err
	}

	pair, err := p.writersFor(ctx, dest)
	if err != nil {
		return err
	}

	ctx, span := p.session.conn.tracer.Start(ctx, "producer.send",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", dest.TopicName()),
			attribute.String("messaging.delivery_mode", o.mode.String()),
			attribute.Int("messaging.priority", o.priority),
		))
	defer span.End()

	start := time.Now()
	ts := start.UnixMilli()
	env := msg.Env()
	env.MessageID = ""
	if !disableID {
		env.MessageID = "ID:" + uuid.NewString()
	}
	env.Timestamp = 0
	if !disableTimestamp {
		env.Timestamp = ts
	}
	env.Destination = dest
	env.DeliveryMode = o.mode
	env.Priority = o.priority
	env.Expiration = 0
	if o.ttl > 0 {
		env.Expiration = ts + o.ttl.Milliseconds()
	}
	env.SetOrigin(p.session.conn.id)

	data, err := message.Encode(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		return err
	}

	key := env.MessageID
	if key == "" {
		key = uuid.NewString()
	}
	w := pair.forMode(o.mode)
	h, err := w.Write(ctx, transport.Sample{Key: key, Priority: o.priority, Data: data})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return fmt.Errorf("failed to write message to %s: %w", dest, err)
	}
	if err := w.Unregister(h); err != nil {
		p.logger.Warn("failed to unregister instance", "key", key, "error", err)
	}

	p.session.conn.metrics.MessageSent(dest.TopicName(), o.mode.String(), time.Since(start))
	span.SetAttributes(attribute.String("messaging.message.id", env.MessageID))
	return nil
}

// writersFor returns the writers of dest, creating them on first use
func (p *Producer) writersFor(ctx context.Context, dest contracts.Destination) (*writerPair, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, contracts.Closed("send", p.resource())
	}
	topic := dest.TopicName()
	if pair, ok := p.writers[topic]; ok {
		return pair, nil
	}

	participant := p.session.conn.participant
	persistent, err := participant.CreateWriter(ctx, topic, transport.QoS{
		Durability: transport.TransientLocal,
		Reliable:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create persistent writer for %s: %w", dest, err)
	}
	volatile, err := participant.CreateWriter(ctx, topic, transport.QoS{
		Durability: transport.Volatile,
	})
	if err != nil {
		_ = persistent.Close()
		return nil, fmt.Errorf("failed to create volatile writer for %s: %w", dest, err)
	}

	pair := &writerPair{persistent: persistent, volatile: volatile}
	p.writers[topic] = pair
	return pair, nil
}

// Close closes every writer the producer created. It is idempotent.
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	writers := p.writers
	p.writers = nil
	p.mu.Unlock()

	var errs []error
	for _, pair := range writers {
		if err := pair.close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.session.forgetProducer(p)

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to close producer: %w", err)
	}
	return nil
}
